package mailer

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/MrEthical07/linkAuth"
)

// Message is a rendered email.
type Message struct {
	Subject string
	Text    string
}

type messageTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[string]messageTemplate{
	linkAuth.TemplateWelcome: {
		subject: "Welcome to Link Hub",
		body: mustParse(linkAuth.TemplateWelcome,
			"Hi {{.username}},\n\nYour Link Hub account is ready. Sign in any time to start building your page.\n"),
	},
	linkAuth.TemplateEmailChanged: {
		subject: "Your Link Hub email address was changed",
		body: mustParse(linkAuth.TemplateEmailChanged,
			"Hi {{.username}},\n\nThe email address on your account was changed to {{.new_email}}.\n" +
				"If you did not make this change, contact support immediately.\n"),
	},
	templateTwoFactor: {
		subject: "Your Link Hub verification code",
		body: mustParse(templateTwoFactor,
			"Your verification code is {{.code}}.\n\nIt expires in a few minutes. Never share this code with anyone.\n"),
	},
}

const templateTwoFactor = "two_factor_code"

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=zero").Parse(text))
}

// Render executes the named template with params. Missing params render
// as empty strings.
func Render(name string, params map[string]string) (Message, error) {
	tpl, ok := templates[name]
	if !ok {
		return Message{}, fmt.Errorf("mailer: unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, params); err != nil {
		return Message{}, fmt.Errorf("mailer: render %s: %w", name, err)
	}
	return Message{Subject: tpl.subject, Text: buf.String()}, nil
}
