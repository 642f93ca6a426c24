package log

// Logger receives protocol capture events. Implementations must be safe for
// concurrent use and must not block: Log is called from the read loop.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(Event)

func (f LoggerFunc) Log(e Event) { f(e) }

// FilteredLogger forwards only the events matching its filter.
type FilteredLogger struct {
	next  Logger
	match []predicate
}

// NewFilteredLogger wraps next so that it only sees events matching filter.
func NewFilteredLogger(next Logger, filter Filter) *FilteredLogger {
	return &FilteredLogger{next: next, match: filter.compile()}
}

func (l *FilteredLogger) Log(e Event) {
	if matchAll(l.match, e) {
		l.next.Log(e)
	}
}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
	_ Logger = (*FilteredLogger)(nil)
)
