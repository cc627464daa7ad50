package wacloud

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry"
)

// NewLogger builds the logger the client and its components log through. When
// a Sentry DSN is configured, warnings and errors are fanned out to Sentry as
// well as stdout.
func NewLogger(cfg *Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %s", cfg.LogLevel)
	}

	logHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})

	if cfg.SentryDSN == "" {
		return slog.New(logHandler), nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           cfg.SentryDSN,
		EnableTracing: false,
	})
	if err != nil {
		return nil, fmt.Errorf("error initiating sentry client: %w", err)
	}

	return slog.New(
		slogmulti.Fanout(
			logHandler,
			slogsentry.Option{Level: slog.LevelError}.NewSentryHandler(),
		),
	), nil
}

// FlushLogs gives pending Sentry events a chance to be delivered, typically
// deferred from main.
func FlushLogs() {
	sentry.Flush(2 * time.Second)
}
