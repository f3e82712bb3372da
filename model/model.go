package model

// Holds all external facing types and constants.

type LocationType int

const (
	LocationTypeStop LocationType = iota
	LocationTypeStation
	LocationTypeEntranceExit
	LocationTypeGenericNode
	LocationTypeBoardingArea
)

type RouteType int

const (
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeCable      RouteType = 5
	RouteTypeAerial     RouteType = 6
	RouteTypeFunicular  RouteType = 7
	RouteTypeTrolleybus RouteType = 11
	RouteTypeMonorail   RouteType = 12
)

type ExceptionType int8

const (
	ExceptionTypeAdded   ExceptionType = 1
	ExceptionTypeRemoved ExceptionType = 2
)

type Calendar struct {
	ServiceID string
	StartDate string
	EndDate   string
	Weekday   int8
}

type CalendarDate struct {
	ServiceID     string
	Date          string
	ExceptionType ExceptionType
}

type Stop struct {
	ID            string
	Code          string
	Name          string
	Desc          string
	Lat           float64
	Lon           float64
	LocationType  LocationType
	ParentStation string
}

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	DirectionID int8
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Type      RouteType
	Color     string
	TextColor string
}

// A stop_times.txt record. Arrival and Departure are normalized
// "HH:MM:SS" strings, with hours possibly past 24.
type StopTime struct {
	TripID       string
	StopID       string
	StopSequence uint32
	Arrival      string
	Departure    string
}

// A scheduled arrival of a trip at a stop, joined with the trip's
// route. Time is a duration since service start formatted as
// "HH:MM:SS", and may exceed 24 hours.
type ScheduledStopEvent struct {
	TripID  string
	RouteID string
	StopID  string
	Time    string
}

// A (synthesized) observation of a vehicle arriving at a stop.
//
// DelayMinutes is signed, negative meaning early. ActualArrival is
// derived from PlannedArrival and DelayMinutes, but never earlier
// than the start of the service day. ServiceDate is an ISO date
// (YYYY-MM-DD).
type DelayEvent struct {
	ServiceDate    string
	TripID         string
	StopID         string
	RouteID        string
	PlannedArrival string
	ActualArrival  string
	DelayMinutes   int
	Reason         string
}
