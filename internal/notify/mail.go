package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"studioflow/internal/config"
)

// Mailer sends a plain-text email per event to recipients with an address.
type Mailer struct {
	config config.SMTPConfig
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewMailer(cfg config.SMTPConfig) *Mailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &Mailer{
		config: cfg,
		server: cfg.Host + ":" + cfg.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (m *Mailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

func (m *Mailer) Notify(_ context.Context, evt Event) error {
	if !m.IsConfigured() {
		return nil
	}
	var to []string
	for _, r := range evt.Recipients {
		if r.Email != "" {
			to = append(to, r.Email)
		}
	}
	if len(to) == 0 {
		return nil
	}
	subject, body := render(evt)
	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)
	}
	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "), from, subject, body,
	))
	if err := m.send(m.server, m.auth, m.config.From, to, msg); err != nil {
		return fmt.Errorf("send %s mail: %w", evt.Type, err)
	}
	return nil
}

func render(evt Event) (subject, body string) {
	project := evt.ProjectName
	if project == "" {
		project = evt.ProjectID
	}
	switch evt.Type {
	case EventPhaseAdvanced, EventPhaseChanged:
		subject = fmt.Sprintf("%s moved to %s", project, evt.PhaseName)
	case EventApprovalNeeded:
		subject = fmt.Sprintf("%s: your input is needed in %s", project, evt.PhaseName)
	case EventPhaseApproved:
		subject = fmt.Sprintf("%s: %s approved", project, evt.PhaseName)
	case EventChangesRequested:
		subject = fmt.Sprintf("%s: changes requested in %s", project, evt.PhaseName)
	case EventProjectCompleted:
		subject = fmt.Sprintf("%s is complete", project)
	default:
		subject = fmt.Sprintf("%s: %s", project, evt.Type)
	}
	var b strings.Builder
	b.WriteString(subject + "\r\n")
	if evt.Reason != "" {
		fmt.Fprintf(&b, "\r\nReason: %s\r\n", evt.Reason)
	}
	if evt.Notes != "" {
		fmt.Fprintf(&b, "\r\nNotes:\r\n%s\r\n", evt.Notes)
	}
	return subject, b.String()
}
