// Package log is the structured logging port used across fanrelay.
//
// Components depend on the Logger interface only. ZerologAdapter is the
// production implementation and NoopLogger discards everything, which is what
// tests and quiet embedders want.
//
//	logger := log.NewConsoleLogger(os.Stderr, "info")
//	connLog := log.With(logger, log.String("conn_id", id))
//	connLog.Warn("client disconnected", log.Err(err))
//
// Any other logging library can be plugged in by implementing the four level
// methods of Logger.
package log
