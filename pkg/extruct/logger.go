package extruct

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/redact"
)

// restyLogger routes resty's printf-style logging into slog.
type restyLogger struct {
	log *slog.Logger
}

func newRestyLogger(l *slog.Logger) restyLogger {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return restyLogger{log: l.With("component", "extruct-http")}
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.log.Error(redact.Secrets(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.log.Warn(redact.Secrets(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.log.Debug(redact.Secrets(fmt.Sprintf(format, v...)))
}
