package log

import "time"

// Filter selects capture events. Zero fields match everything; all set
// fields must match.
type Filter struct {
	ConnectionID string
	Direction    *Direction
	Layer        *Layer
	Category     *Category

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time

	// DeviceIndex and MessageName never match events that lack a device
	// or a decoded message.
	DeviceIndex *uint32
	MessageName string
}

type predicate func(Event) bool

// compile turns the set fields into predicates. An empty result matches
// every event.
func (f Filter) compile() []predicate {
	var ps []predicate
	if id := f.ConnectionID; id != "" {
		ps = append(ps, func(e Event) bool { return e.ConnectionID == id })
	}
	if f.Direction != nil {
		d := *f.Direction
		ps = append(ps, func(e Event) bool { return e.Direction == d })
	}
	if f.Layer != nil {
		l := *f.Layer
		ps = append(ps, func(e Event) bool { return e.Layer == l })
	}
	if f.Category != nil {
		c := *f.Category
		ps = append(ps, func(e Event) bool { return e.Category == c })
	}
	if f.TimeStart != nil {
		start := *f.TimeStart
		ps = append(ps, func(e Event) bool { return !e.Timestamp.Before(start) })
	}
	if f.TimeEnd != nil {
		end := *f.TimeEnd
		ps = append(ps, func(e Event) bool { return e.Timestamp.Before(end) })
	}
	if f.DeviceIndex != nil {
		idx := *f.DeviceIndex
		ps = append(ps, func(e Event) bool { return e.DeviceIndex != nil && *e.DeviceIndex == idx })
	}
	if name := f.MessageName; name != "" {
		ps = append(ps, func(e Event) bool { return e.Message != nil && e.Message.Name == name })
	}
	return ps
}

// Match reports whether event satisfies every set field of f.
func (f Filter) Match(event Event) bool {
	return matchAll(f.compile(), event)
}

func matchAll(ps []predicate, event Event) bool {
	for _, p := range ps {
		if !p(event) {
			return false
		}
	}
	return true
}
