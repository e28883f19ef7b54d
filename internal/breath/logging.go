package breath

import (
	"io"
	"log"
)

var (
	opsLogger   *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the two logging streams for the breath package:
// ops for actionable warnings (discarded ticks, rejected configs) and trace
// for high-frequency per-tick telemetry. Pass nil to disable a stream.
func SetLogWriters(ops, trace io.Writer) {
	opsLogger = newLogger("[breath] ", ops)
	traceLogger = newLogger("[breath] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
