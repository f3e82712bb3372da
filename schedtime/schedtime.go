// Package schedtime converts GTFS style times of day to and from
// seconds since start of service.
//
// GTFS times are durations rather than wall clock times: "25:10:00"
// is ten past one in the morning after the service date. Hours are
// therefore never wrapped modulo 24.
package schedtime

import (
	"fmt"
	"strconv"
	"strings"
)

// Returned when a time of day can't be parsed into three integer
// fields.
type MalformedTimeError struct {
	Value  string
	Reason string
}

func (e *MalformedTimeError) Error() string {
	return fmt.Sprintf("malformed time '%s': %s", e.Value, e.Reason)
}

func split(s string) ([3]int, error) {
	hms := [3]int{}

	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return hms, &MalformedTimeError{s, fmt.Sprintf("found %d parts", len(parts))}
	}

	for i, part := range parts {
		if part == "" {
			return hms, &MalformedTimeError{s, fmt.Sprintf("empty field at pos %d", i)}
		}
		for _, c := range part {
			if c < '0' || c > '9' {
				return hms, &MalformedTimeError{s, fmt.Sprintf("non-digit at pos %d", i)}
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return hms, &MalformedTimeError{s, fmt.Sprintf("non-integer at pos %d", i)}
		}
		hms[i] = n
	}

	return hms, nil
}

// Converts "HH:MM:SS" to seconds. Hours are unbounded. Minutes and
// seconds are not range checked; use Normalize for that.
func ToSeconds(s string) (int, error) {
	hms, err := split(s)
	if err != nil {
		return 0, err
	}
	return hms[0]*3600 + hms[1]*60 + hms[2], nil
}

// Formats seconds as "HH:MM:SS". Negative input is clamped to zero.
// Hours grow past 24 rather than wrapping.
func FromSeconds(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// Validates a stop_times.txt time and returns it zero padded as
// "HH:MM:SS". Unlike ToSeconds, minutes and seconds must be within
// 0-59, and hours within 0-99 so that normalized values sort
// lexically.
func Normalize(s string) (string, error) {
	hms, err := split(s)
	if err != nil {
		return "", err
	}

	if hms[0] > 99 {
		return "", &MalformedTimeError{s, "invalid hour"}
	}
	if hms[1] > 59 {
		return "", &MalformedTimeError{s, "invalid minute"}
	}
	if hms[2] > 59 {
		return "", &MalformedTimeError{s, "invalid second"}
	}

	return fmt.Sprintf("%02d:%02d:%02d", hms[0], hms[1], hms[2]), nil
}
