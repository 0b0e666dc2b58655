// Package log is the structured logger used across the proxy.
//
// Loggers are carried in the request context ([WithContext], [FromContext])
// so handlers and the rewrite path log with request_id, path and trace ids
// attached without threading a logger through every call.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the logging surface handed to every component. Error takes the
// error separately so handlers can attach its chain and stack.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string

	Level slog.Level
	// StacktraceLevel is the lowest level whose records carry a stack.
	StacktraceLevel slog.Level

	JsonFormat        bool
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to stdout.
	Writer io.Writer
}

// New returns an slog-backed Logger.
func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel accepts the slog level names, case-insensitive and with an
// optional offset ("debug", "INFO", "warn", "error+2"), plus "warning".
func ParseLevel(s string) (slog.Level, error) {
	name := strings.TrimSpace(s)
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown log level %q (valid levels are debug|info|warn|error)", s)
	}
	return lvl, nil
}
