package notify

import (
	"context"
	"log"
	"strings"
)

// LogSender only logs messages. It is the development default.
type LogSender struct {
	logger *log.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *log.Logger) *LogSender {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the envelope of msg.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Printf("notify: [log transport] to=%s bcc=%s subject=%q bytes=%d",
		strings.Join(msg.To, ","), strings.Join(msg.Bcc, ","), msg.Subject, len(msg.HTML))
	return nil
}
