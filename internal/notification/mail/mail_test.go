package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"concierge/internal/platform/config"
	"concierge/pkg/email"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	boom := errors.New("connection refused")
	r.FailNext(boom)

	msg := email.Message{To: "admin@acme.test", Subject: "Welcome"}
	assert.ErrorIs(t, r.Send(context.Background(), msg), boom)
	require.NoError(t, r.Send(context.Background(), msg))

	assert.Equal(t, 2, r.Attempts())
	assert.Equal(t, []email.Message{msg}, r.Sent())
}

func TestRecorderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRecorder()
	assert.ErrorIs(t, r.Send(ctx, email.Message{}), context.Canceled)
	assert.Zero(t, r.Attempts())
}

func TestLogTransportOmitsBody(t *testing.T) {
	var buf bytes.Buffer
	tr := NewLogTransport(slog.New(slog.NewTextHandler(&buf, nil)))

	err := tr.Send(context.Background(), email.Message{To: "admin@acme.test", Subject: "Welcome", HTML: "password: s3cret"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "admin@acme.test")
	assert.NotContains(t, buf.String(), "s3cret")
}

func TestSMTPDialFailure(t *testing.T) {
	tr := NewSMTP(config.MailConfig{Host: "127.0.0.1", Port: 1})
	err := tr.Send(context.Background(), email.Message{From: "a@b.test", To: "c@d.test"})
	assert.ErrorContains(t, err, "send smtp 127.0.0.1:1")
}

func TestSMTPMessage(t *testing.T) {
	tr := NewSMTP(config.MailConfig{Host: "smtp.acme.test", Port: 587})
	tr.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	m, err := tr.message(email.Message{
		From:    "no-reply@concierge.local",
		To:      "admin@acme.test",
		Subject: "Welcome to Concierge Control, Jardim São Luís!",
		HTML:    "<p>hi</p>",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "no-reply@concierge.local")
	assert.Contains(t, raw, "<admin@acme.test>")
	assert.Contains(t, raw, "Message-ID: <")
	assert.Contains(t, raw, "text/html")
	assert.Regexp(t, `(?i)Subject: =\?utf-8\?q\?`, raw)
	assert.NotContains(t, raw, "São", "non-ASCII subject is encoded")
}

func TestSMTPMessageRejectsHeaderInjection(t *testing.T) {
	tr := NewSMTP(config.MailConfig{Host: "smtp.acme.test", Port: 587})

	_, err := tr.message(email.Message{From: "a@b.test", To: "victim@x.test\r\nBcc: evil@x.test"})
	assert.ErrorContains(t, err, "invalid recipient")
}
