package log

// MultiLogger fans one event out to several sinks, typically a FileLogger
// for the capture and a SlogAdapter for the console. Sinks run in order on
// the caller's goroutine.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines sinks. Nil entries and NoopLoggers are dropped,
// nested MultiLoggers are flattened.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	m := &MultiLogger{}
	m.add(sinks)
	return m
}

func (m *MultiLogger) add(sinks []Logger) {
	for _, s := range sinks {
		switch s := s.(type) {
		case nil, NoopLogger:
		case *MultiLogger:
			if s != nil {
				m.add(s.sinks)
			}
		default:
			m.sinks = append(m.sinks, s)
		}
	}
}

// Log hands the event to every sink.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		s.Log(event)
	}
}

// Len reports how many sinks receive events.
func (m *MultiLogger) Len() int {
	return len(m.sinks)
}

var _ Logger = (*MultiLogger)(nil)
