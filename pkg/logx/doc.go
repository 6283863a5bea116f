// Package logx provides structured logging for paddock.
//
// It wraps zerolog behind a small Logger value with slog-like Field
// helpers. A Service owns the configured sinks (console, file, optional
// Telegram relay for warnings and errors) and can be re-applied at
// runtime when the config file changes.
package logx
