// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that harnesses, the engine and stores use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - TurnLogger built on log/slog (a bare *slog.Logger works too)
//   - ZerologAdapter for zerolog, with console output on terminals
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	at, err := agentturn.New(caller, func(o *agentturn.Options) { o.Logger = logger })
//
// Messages are dotted event names ("flow.decision.iteration") followed by
// key/value pairs.
package logging
