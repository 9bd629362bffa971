package logger

import "go.uber.org/zap"

// Symbols attached to log lines as a structured field, never in the message.
const (
	SymbolPulse      = "꩜" // job execution
	SymbolPulseOpen  = "✿" // startup
	SymbolPulseClose = "❀" // shutdown
	SymbolSweep      = "⌫" // output cleanup
)

// AddPulseSymbol wraps a logger with the Pulse symbol (꩜)
//
//	logger.AddPulseSymbol(s.logger).Infow("Download queued", "job_id", id)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolPulse)
}

// AddPulseOpenSymbol wraps a logger with the PulseOpen symbol (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolPulseOpen)
}

// AddPulseCloseSymbol wraps a logger with the PulseClose symbol (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolPulseClose)
}

// AddSweepSymbol wraps a logger with the sweep symbol (⌫)
func AddSweepSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, SymbolSweep)
}
