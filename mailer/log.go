package mailer

import (
	"context"

	"github.com/MrEthical07/linkAuth"
	"github.com/rs/zerolog"
)

// Log writes outbound mail to a logger instead of delivering it. It backs
// local development when no SendGrid key is configured.
type Log struct {
	logger zerolog.Logger
}

var _ linkAuth.Mailer = (*Log)(nil)

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "mailer").Logger()}
}

func (l *Log) SendTwoFactorEmail(ctx context.Context, address, code string) error {
	return l.SendTemplatedEmail(ctx, address, templateTwoFactor, map[string]string{"code": code})
}

func (l *Log) SendTemplatedEmail(_ context.Context, address, template string, params map[string]string) error {
	msg, err := Render(template, params)
	if err != nil {
		return err
	}
	l.logger.Info().
		Str("to", address).
		Str("template", template).
		Str("subject", msg.Subject).
		Msg(msg.Text)
	return nil
}
