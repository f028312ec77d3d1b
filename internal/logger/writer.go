package logger

import (
	"log"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Writer adapts a zap logger to io.Writer, one entry per Write.
type Writer struct {
	logger *zap.Logger
	level  zapcore.Level
}

func NewWriter(l *zap.Logger, level zapcore.Level) *Writer {
	return &Writer{logger: l.WithOptions(zap.AddCallerSkip(3)), level: level}
}

func (w *Writer) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		if ce := w.logger.Check(w.level, msg); ce != nil {
			ce.Write()
		}
	}
	return len(p), nil
}

// StdLogger returns a *log.Logger for APIs such as http.Server.ErrorLog.
func StdLogger(l *zap.Logger, level zapcore.Level) *log.Logger {
	return log.New(NewWriter(l, level), "", 0)
}
