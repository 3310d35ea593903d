package mailer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/linkAuth"
	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeSender) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func TestRenderTemplates(t *testing.T) {
	msg, err := Render(linkAuth.TemplateEmailChanged, map[string]string{
		"username":  "alice",
		"new_email": "alice@new.example.com",
	})
	require.NoError(t, err)
	assert.Contains(t, msg.Subject, "email address was changed")
	assert.Contains(t, msg.Text, "Hi alice,")
	assert.Contains(t, msg.Text, "alice@new.example.com")

	msg, err = Render(linkAuth.TemplateWelcome, nil)
	require.NoError(t, err)
	assert.Contains(t, msg.Text, "Hi ,")

	_, err = Render("nope", nil)
	assert.ErrorContains(t, err, "unknown template")
}

func TestSendGridSendsTwoFactorCode(t *testing.T) {
	client := &fakeSender{status: 202}
	m := newSendGrid(client, "Link Hub", "no-reply@example.com")

	require.NoError(t, m.SendTwoFactorEmail(context.Background(), "alice@example.com", "123456"))
	require.Len(t, client.sent, 1)

	email := client.sent[0]
	assert.Equal(t, "no-reply@example.com", email.From.Address)
	assert.Equal(t, "Your Link Hub verification code", email.Subject)
	require.Len(t, email.Personalizations, 1)
	assert.Equal(t, "alice@example.com", email.Personalizations[0].To[0].Address)
	require.NotEmpty(t, email.Content)
	assert.Contains(t, email.Content[0].Value, "123456")
}

func TestSendGridReportsFailures(t *testing.T) {
	m := newSendGrid(&fakeSender{status: 401}, "Link Hub", "no-reply@example.com")
	err := m.SendTemplatedEmail(context.Background(), "a@example.com", linkAuth.TemplateWelcome, nil)
	assert.ErrorContains(t, err, "unexpected status 401")

	m = newSendGrid(&fakeSender{err: errors.New("dial tcp: timeout")}, "Link Hub", "no-reply@example.com")
	err = m.SendTemplatedEmail(context.Background(), "a@example.com", linkAuth.TemplateWelcome, nil)
	assert.ErrorContains(t, err, "dial tcp")

	client := &fakeSender{status: 202}
	m = newSendGrid(client, "Link Hub", "no-reply@example.com")
	err = m.SendTemplatedEmail(context.Background(), "a@example.com", "missing", nil)
	assert.Error(t, err)
	assert.Empty(t, client.sent)
}

func TestLogMailerWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	m := NewLog(zerolog.New(&buf))

	require.NoError(t, m.SendTwoFactorEmail(context.Background(), "bob@example.com", "654321"))

	out := buf.String()
	assert.Contains(t, out, `"to":"bob@example.com"`)
	assert.Contains(t, out, `"template":"two_factor_code"`)
	assert.Contains(t, out, "654321")
}
