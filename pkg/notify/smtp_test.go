package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	netmail "net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func recordSend(out *[]*mail.Msg) SendFunc {
	return func(ctx context.Context, m *mail.Msg) error {
		*out = append(*out, m)
		return nil
	}
}

// readMessage renders m and parses it back as a received mail.
func readMessage(t *testing.T, m *mail.Msg) *netmail.Message {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	parsed, err := netmail.ReadMessage(&buf)
	require.NoError(t, err)
	return parsed
}

func TestSMTPNotifierComposesMessage(t *testing.T) {
	var out []*mail.Msg
	n, err := NewSMTPNotifier("mail.example.org:587", nil)
	require.NoError(t, err)
	n.WithSendFunc(recordSend(&out))
	n.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	err = n.Notify(context.Background(), Message{
		From:    "pitfile@web1.example.org",
		To:      "ops@example.org",
		Subject: "Quarantine advisor",
		Body:    "path: /x.php\n<?php system($_GET['c']);",
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, n.useAuth)

	got := readMessage(t, out[0])
	assert.Equal(t, "Quarantine advisor", got.Header.Get("Subject"))
	assert.Contains(t, got.Header.Get("To"), "ops@example.org")
	assert.Contains(t, got.Header.Get("From"), "pitfile@web1.example.org")
	date, err := got.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Regexp(t, `^<[0-9a-f-]{36}@web1\.example\.org>$`, got.Header.Get("Message-ID"))
	assert.Equal(t, "quoted-printable", strings.ToLower(got.Header.Get("Content-Transfer-Encoding")))

	decoded := new(bytes.Buffer)
	_, err = decoded.ReadFrom(quotedprintable.NewReader(got.Body))
	require.NoError(t, err)
	assert.Equal(t, "path: /x.php\n<?php system($_GET['c']);", strings.ReplaceAll(decoded.String(), "\r\n", "\n"))
}

func TestSMTPNotifierEncodesNonASCIISubject(t *testing.T) {
	var out []*mail.Msg
	n, err := NewSMTPNotifier("mail.example.org:25", nil)
	require.NoError(t, err)
	n.WithSendFunc(recordSend(&out))

	require.NoError(t, n.Notify(context.Background(), Message{
		From:    "pitfile@web1.example.org",
		To:      "ops@example.org",
		Subject: "Quarantäne: /ünïcode.php",
	}))
	require.Len(t, out, 1)

	got := readMessage(t, out[0])
	raw := got.Header.Get("Subject")
	assert.True(t, strings.HasPrefix(raw, "=?"), "subject should be an encoded word: %q", raw)

	subject, err := new(mime.WordDecoder).DecodeHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, "Quarantäne: /ünïcode.php", subject)
}

func TestSMTPNotifierUsesAuthWithUsername(t *testing.T) {
	n, err := NewSMTPNotifier("mail.example.org:587", &Secrets{Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.True(t, n.useAuth)

	n, err = NewSMTPNotifier("mail.example.org:587", &Secrets{})
	require.NoError(t, err)
	assert.False(t, n.useAuth)
}

func TestSMTPNotifierRejectsBadAddress(t *testing.T) {
	var out []*mail.Msg
	n, err := NewSMTPNotifier("mail.example.org:25", nil)
	require.NoError(t, err)
	n.WithSendFunc(recordSend(&out))

	err = n.Notify(context.Background(), Message{From: "pitfile@web1", To: "not an address"})
	assert.ErrorIs(t, err, ErrSendMail)
	assert.Empty(t, out)
}

func TestSMTPNotifierErrors(t *testing.T) {
	_, err := NewSMTPNotifier("no-port", nil)
	assert.ErrorIs(t, err, ErrInvalidAddr)

	_, err = NewSMTPNotifier("mail.example.org:smtp", nil)
	assert.ErrorIs(t, err, ErrInvalidAddr)

	n, err := NewSMTPNotifier("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSMTPAddr, n.addr)

	assert.ErrorIs(t, n.Notify(context.Background(), Message{From: "a@b"}), ErrNoRecipient)

	boom := errors.New("connection refused")
	n.WithSendFunc(func(context.Context, *mail.Msg) error { return boom })
	err = n.Notify(context.Background(), Message{From: "a@b", To: "c@d"})
	assert.ErrorIs(t, err, ErrSendMail)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Notify(ctx, Message{From: "a@b", To: "c@d"}), context.Canceled)
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("PITFILE_SMTP_USERNAME", "relay")
	t.Setenv("PITFILE_SMTP_PASSWORD", "hunter2")

	s, err := LoadSecrets()
	require.NoError(t, err)
	assert.Equal(t, "relay", s.Username)
	assert.Equal(t, "hunter2", s.Password)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Notify(context.Background(), Message{To: "ops@example.org", Subject: "Quarantine advisor"}))
	assert.Contains(t, buf.String(), "subject=\"Quarantine advisor\"")
	assert.Contains(t, buf.String(), "to=ops@example.org")
}
