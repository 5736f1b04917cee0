// Package log provides the structured logging facade used across canvass.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Output formatting is pluggable (text for
// humans, JSON for collectors) and loggers are passed explicitly via
// dependency injection; there is no package-level default.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("reviewqueue"))
//	l.Info("lease acquired", log.Str("response", id), log.Int64("expires_ms", exp))
//
// Use ApplyConfig to build a logger from a declarative Config (level +
// format), and RedirectStdLog to route stdlib log output (Pebble uses it)
// through this facade.
package log
