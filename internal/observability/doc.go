// Package observability provides the process logger and Prometheus metrics
// for the secret manager.
//
// Loggers are zap loggers; WithRequest attaches the chi request id so every
// handler log line can be correlated. Metrics live on an explicit registry so
// tests can build isolated instances.
package observability
