// Package diagnostics reports cycle failures to an operational sink.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives errors that aborted a cycle.
type Reporter interface {
	Report(ctx context.Context, err error, attrs ...any)
	Flush(timeout time.Duration)
}

// LogReporter writes reports to a slog logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(ctx context.Context, err error, attrs ...any) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "cycle failed", append([]any{"err", err}, attrs...)...)
}

func (LogReporter) Flush(time.Duration) {}

// SentryReporter sends reports to Sentry and logs them locally as well.
type SentryReporter struct {
	hub *sentry.Hub
	log LogReporter
}

// NewSentryReporter initialises the Sentry client for dsn.
func NewSentryReporter(dsn, environment string, logger *slog.Logger) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return &SentryReporter{
		hub: sentry.NewHub(client, sentry.NewScope()),
		log: LogReporter{Logger: logger},
	}, nil
}

func (r *SentryReporter) Report(ctx context.Context, err error, attrs ...any) {
	r.log.Report(ctx, err, attrs...)

	r.hub.WithScope(func(scope *sentry.Scope) {
		for i := 0; i+1 < len(attrs); i += 2 {
			key, ok := attrs[i].(string)
			if !ok {
				continue
			}
			scope.SetTag(key, fmt.Sprint(attrs[i+1]))
		}
		r.hub.CaptureException(err)
	})
}

func (r *SentryReporter) Flush(timeout time.Duration) {
	r.hub.Flush(timeout)
}
