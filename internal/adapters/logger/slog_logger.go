package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-xray-sdk-go/xray"

	"admin-console/internal/domain"
)

// SlogLogger writes JSON lines. Records made with a request context carry
// the X-Ray trace id and the signed-in subject.
type SlogLogger struct {
	logger *slog.Logger
}

func New(service string, level slog.Leveler) *SlogLogger {
	return NewWithWriter(os.Stdout, service, level)
}

func NewWithWriter(w io.Writer, service string, level slog.Leveler) *SlogLogger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	l := slog.New(h)
	if service != "" {
		l = l.With("service", service)
	}
	return &SlogLogger{logger: l}
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

func (l *SlogLogger) enrich(ctx context.Context, args []any) []any {
	if ctx == nil {
		return args
	}
	if seg := xray.GetSegment(ctx); seg != nil && seg.TraceID != "" {
		args = append(args, "trace_id", seg.TraceID)
	}
	if id, ok := domain.IdentityFromContext(ctx); ok && id.Subject != "" {
		args = append(args, "subject", id.Subject)
	}
	return args
}

func (l *SlogLogger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, l.enrich(ctx, args)...)
}

func (l *SlogLogger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, l.enrich(ctx, args)...)
}

func (l *SlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, l.enrich(ctx, args)...)
}

func (l *SlogLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, l.enrich(ctx, args)...)
}
