package mailer

import (
	"context"
	"fmt"

	"github.com/MrEthical07/linkAuth"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// sender is the slice of *sendgrid.Client the mailer needs.
type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGrid delivers mail through the SendGrid v3 API.
type SendGrid struct {
	client sender
	from   *mail.Email
}

var _ linkAuth.Mailer = (*SendGrid)(nil)

func NewSendGrid(apiKey, fromName, fromAddress string) *SendGrid {
	return newSendGrid(sendgrid.NewSendClient(apiKey), fromName, fromAddress)
}

func newSendGrid(client sender, fromName, fromAddress string) *SendGrid {
	return &SendGrid{client: client, from: mail.NewEmail(fromName, fromAddress)}
}

func (s *SendGrid) SendTwoFactorEmail(ctx context.Context, address, code string) error {
	return s.SendTemplatedEmail(ctx, address, templateTwoFactor, map[string]string{"code": code})
}

func (s *SendGrid) SendTemplatedEmail(ctx context.Context, address, template string, params map[string]string) error {
	msg, err := Render(template, params)
	if err != nil {
		return err
	}
	to := mail.NewEmail("", address)
	email := mail.NewSingleEmail(s.from, msg.Subject, to, msg.Text, msg.Text)

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: unexpected status %d", resp.StatusCode)
	}
	return nil
}
