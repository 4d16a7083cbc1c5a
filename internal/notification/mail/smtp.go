package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	gomail "github.com/wneessen/go-mail"

	"concierge/internal/platform/config"
	"concierge/pkg/email"
)

const implicitTLSPort = 465

// SMTPTransport sends mail through an SMTP relay. Port 465 uses implicit TLS;
// any other port upgrades with STARTTLS when the server offers it.
//
// A go-mail client holds one connection, so each Send builds its own and
// concurrent workers never share one.
type SMTPTransport struct {
	host string
	port int
	opts []gomail.Option
	now  func() time.Time
}

func NewSMTP(cfg config.MailConfig) *SMTPTransport {
	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSConfig(tlsConfig),
	}
	if cfg.Port == implicitTLSPort {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	if cfg.User != "" && cfg.Pass != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.User),
			gomail.WithPassword(cfg.Pass),
		)
	}
	return &SMTPTransport{host: cfg.Host, port: cfg.Port, opts: opts, now: time.Now}
}

func (t *SMTPTransport) Send(ctx context.Context, msg email.Message) error {
	m, err := t.message(msg)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(t.host, strconv.Itoa(t.port))
	client, err := gomail.NewClient(t.host, t.opts...)
	if err != nil {
		return fmt.Errorf("configure smtp %s: %w", addr, err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send smtp %s: %w", addr, err)
	}
	return nil
}

// message builds a single-part HTML message. Addresses are parsed, so header
// injection through them is rejected rather than sent.
func (t *SMTPTransport) message(msg email.Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(t.now())
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	return m, nil
}
