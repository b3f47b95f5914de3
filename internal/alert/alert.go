// Package alert emails the operator when a run dies. Sending goes
// through the configured SMTP relay with STARTTLS and an app password;
// a mailer without credentials is a quiet noop so local runs never
// need mail setup.
package alert

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/achesucatas/auditor/internal/log"
)

// Gmail relay defaults. Port 587 is the STARTTLS submission port.
const (
	DefaultHost = "smtp.gmail.com"
	DefaultPort = 587
)

// Options configure a Mailer.
type Options struct {
	// Host of the SMTP relay. Default: smtp.gmail.com.
	Host string

	// Port of the relay. Default: 587.
	Port int

	// From is the sending address and SMTP username.
	From string

	// Password is the app password for From.
	Password string

	// To lists recipients, comma-separated.
	To string

	// Logger for diagnostics. If nil, uses log.Default().
	Logger log.Logger
}

// Mailer sends plain-text alerts. The zero credentials case is legal:
// Send becomes a noop and Configured reports false.
type Mailer struct {
	host     string
	port     int
	from     string
	password string
	to       []string
	logger   log.Logger

	// send is smtp.SendMail, swappable in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New creates a mailer. Missing credentials do not error; they produce
// an unconfigured mailer.
func New(opts Options) *Mailer {
	m := &Mailer{
		host:     opts.Host,
		port:     opts.Port,
		from:     opts.From,
		password: opts.Password,
		to:       splitRecipients(opts.To),
		logger:   opts.Logger,
		send:     smtp.SendMail,
	}
	if m.host == "" {
		m.host = DefaultHost
	}
	if m.port <= 0 {
		m.port = DefaultPort
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	return m
}

// Configured reports whether the mailer has everything it needs to
// actually send.
func (m *Mailer) Configured() bool {
	return m.from != "" && m.password != "" && len(m.to) > 0
}

// Send delivers one plain-text message to every recipient. Unconfigured
// mailers return nil immediately.
func (m *Mailer) Send(subject, body string) error {
	if !m.Configured() {
		m.logger.Debug("alert mailer not configured, skipping", "subject", subject)
		return nil
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	auth := smtp.PlainAuth("", m.from, m.password, m.host)
	msg := buildMessage(m.from, m.to, subject, body)

	if err := m.send(addr, auth, m.from, m.to, msg); err != nil {
		return fmt.Errorf("alert: send %q: %w", subject, err)
	}
	m.logger.Info("alert sent", "subject", subject, "recipients", len(m.to))
	return nil
}

// RunFailed sends the standard run-failure alert. An empty runID means
// the failure happened before a run row could be opened.
func (m *Mailer) RunFailed(runID, reason string, cause error) error {
	subject := "auditor: run FAILED"
	var b strings.Builder
	if runID != "" {
		subject = "auditor: run " + runID + " FAILED"
		fmt.Fprintf(&b, "Run %s terminou com status FAILED.\n\n", runID)
	} else {
		b.WriteString("A execução falhou antes de abrir o run.\n\n")
	}
	if reason != "" {
		fmt.Fprintf(&b, "Motivo: %s\n", reason)
	}
	if cause != nil {
		fmt.Fprintf(&b, "Erro: %v\n", cause)
	}
	b.WriteString("\nConsulte run_executions e pipeline_events para o detalhe.\n")
	return m.Send(subject, b.String())
}

// buildMessage assembles the RFC 5322 message. The subject is
// Q-encoded so Portuguese diacritics survive the 7-bit path.
func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// splitRecipients parses the comma-separated recipient list.
func splitRecipients(raw string) []string {
	var to []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			to = append(to, addr)
		}
	}
	return to
}
