package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry is a no-op without a DSN so local runs need no account.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend:       scrubRequest,
	})
}

// scrubRequest drops credentials before an event leaves the process.
func scrubRequest(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		delete(event.Request.Headers, "Authorization")
		delete(event.Request.Headers, "Cookie")
		event.Request.Data = ""
	}
	return event
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}
