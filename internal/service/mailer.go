package service

import (
	"context"
	"log/slog"
)

// LogMailer stands in for a real delivery channel. It logs that a code went out but
// never the code itself outside dev.
type LogMailer struct {
	logger     *slog.Logger
	revealCode bool
}

func NewLogMailer(logger *slog.Logger, revealCode bool) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger, revealCode: revealCode}
}

func (m *LogMailer) SendConfirmationCode(ctx context.Context, msg ConfirmationMessage) error {
	attrs := []any{"to", msg.To, "type", msg.Type, "expires_in", msg.ExpiresIn}
	if m.revealCode {
		attrs = append(attrs, "code", msg.Code)
	}
	m.logger.InfoContext(ctx, "confirmation code dispatched", attrs...)
	return nil
}
