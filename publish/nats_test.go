package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfskpi/model"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	published []message
	failAfter int
	drained   bool
	closed    bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.failAfter > 0 && len(c.published) >= c.failAfter {
		return errors.New("connection lost")
	}
	c.published = append(c.published, message{subject, data})
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func (c *fakeConn) Close() {
	c.closed = true
}

type fakeMetrics struct {
	ok, failed int
}

func (m *fakeMetrics) ObservePublish(err error) {
	if err != nil {
		m.failed++
	} else {
		m.ok++
	}
}

var events = []model.DelayEvent{
	{ServiceDate: "2025-11-01", TripID: "t.1", StopID: "s1", RouteID: "U2 Pankow", PlannedArrival: "08:00:00", ActualArrival: "08:03:00", DelayMinutes: 3, Reason: "on_time"},
	{ServiceDate: "2025-11-01", TripID: "t2", StopID: "s2", RouteID: "r>*", PlannedArrival: "24:10:00", ActualArrival: "24:05:00", DelayMinutes: -5, Reason: "early_departure"},
	{ServiceDate: "2025-11-01", TripID: " ", StopID: "s3", RouteID: "r/3", PlannedArrival: "09:00:00", ActualArrival: "09:12:00", DelayMinutes: 12, Reason: "congestion"},
}

func TestSubjectToken(t *testing.T) {
	for in, out := range map[string]string{
		"r1":        "r1",
		"U2 Pankow": "U2_Pankow",
		"a.b":       "a_b",
		">*":        "__",
		"  ":        "_",
		"":          "_",
		"a/b\tc":    "a_b_c",
	} {
		assert.Equal(t, out, subjectToken(in), "input %q", in)
	}
}

func TestPublishDelays(t *testing.T) {
	conn := &fakeConn{}
	m := &fakeMetrics{}
	p := NewNATSPublisher(conn, Config{Subject: "gtfskpi.delays"}, nil, m)

	n, err := p.PublishDelays(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, m.ok)

	require.Equal(t, 3, len(conn.published))
	assert.Equal(t, "gtfskpi.delays.U2_Pankow.t_1", conn.published[0].subject)
	assert.Equal(t, "gtfskpi.delays.r__.t2", conn.published[1].subject)
	assert.Equal(t, "gtfskpi.delays.r_3._", conn.published[2].subject)

	msg := DelayMessage{}
	require.NoError(t, json.Unmarshal(conn.published[1].data, &msg))
	assert.Equal(t, DelayMessage{
		ServiceDate:    "2025-11-01",
		TripID:         "t2",
		StopID:         "s2",
		RouteID:        "r>*",
		PlannedArrival: "24:10:00",
		ActualArrival:  "24:05:00",
		DelayMinutes:   -5,
		Reason:         "early_departure",
	}, msg)

	p.Close()
	assert.True(t, conn.drained)
	assert.True(t, conn.closed)
}

func TestPublishDelaysFailure(t *testing.T) {
	conn := &fakeConn{failAfter: 1}
	m := &fakeMetrics{}
	p := NewNATSPublisher(conn, Config{Subject: "d"}, nil, m)

	n, err := p.PublishDelays(context.Background(), events)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.ok)
	assert.Equal(t, 1, m.failed)
}

func TestPublishDelaysCancelled(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, Config{Subject: "d"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := p.PublishDelays(ctx, events)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, len(conn.published))
}

func TestPublishDelaysRateLimited(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, Config{Subject: "d", Rate: 20, Burst: 1}, nil, nil)

	start := time.Now()
	n, err := p.PublishDelays(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// First event uses the burst, the other two wait 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
