// Package logging configures structured JSON logging for docchat.
// Logs go to a size-rotated file under ~/.docchat/logs/ and, unless
// disabled, to stderr. Components receive a *slog.Logger and never
// configure output themselves.
package logging
