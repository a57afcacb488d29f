package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger はwhatsmeowの内部ログをslogへ流すアダプター。
type slogLogger struct {
	l *slog.Logger
}

func newLogger(l *slog.Logger) waLog.Logger {
	return slogLogger{l: l}
}

func (s slogLogger) Errorf(msg string, args ...any) {
	s.l.Error(fmt.Sprintf(msg, args...))
}

func (s slogLogger) Warnf(msg string, args ...any) {
	s.l.Warn(fmt.Sprintf(msg, args...))
}

func (s slogLogger) Infof(msg string, args ...any) {
	s.l.Info(fmt.Sprintf(msg, args...))
}

func (s slogLogger) Debugf(msg string, args ...any) {
	s.l.Debug(fmt.Sprintf(msg, args...))
}

func (s slogLogger) Sub(module string) waLog.Logger {
	return slogLogger{l: s.l.With(slog.String("module", module))}
}
