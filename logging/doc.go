// Package logging provides a minimal logging interface and adapters for
// maestro.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the orchestrator, planner and provider adapters use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - ZerologAdapter wrapping rs/zerolog for structured output
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewZerologAdapter(zerolog.New(os.Stderr).With().Timestamp().Logger())
//	orch := orchestrator.New(registry, func(o *orchestrator.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
