package notify

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/wneessen/go-mail"

	"github.com/jingkaihe/pitfile/internal/errx"
)

// DefaultSMTPAddr is the local MTA.
const DefaultSMTPAddr = "localhost:25"

// Secrets holds SMTP credentials. They are read from the environment only so
// they never show up in process listings.
type Secrets struct {
	// Env: PITFILE_SMTP_USERNAME
	Username string `envconfig:"SMTP_USERNAME"`
	// Env: PITFILE_SMTP_PASSWORD
	Password string `envconfig:"SMTP_PASSWORD"`
}

// LoadSecrets reads PITFILE_SMTP_* from the environment.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process("pitfile", &s); err != nil {
		return nil, errx.Wrap(ErrLoadSecrets, err)
	}
	return &s, nil
}

// SendFunc delivers a composed message.
type SendFunc func(ctx context.Context, msg *mail.Msg) error

// SMTPNotifier sends messages through an SMTP relay.
type SMTPNotifier struct {
	addr    string
	useAuth bool
	send    SendFunc
	now     func() time.Time
}

// NewSMTPNotifier builds a notifier for addr. Credentials are used only when
// a username is set. STARTTLS is used when the relay offers it.
func NewSMTPNotifier(addr string, secrets *Secrets) (*SMTPNotifier, error) {
	if addr == "" {
		addr = DefaultSMTPAddr
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errx.With(ErrInvalidAddr, " %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, errx.With(ErrInvalidAddr, " %q: %w", addr, err)
	}

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	useAuth := secrets != nil && secrets.Username != ""
	if useAuth {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(secrets.Username),
			mail.WithPassword(secrets.Password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, errx.With(ErrInvalidAddr, " %q: %w", addr, err)
	}

	return &SMTPNotifier{
		addr:    addr,
		useAuth: useAuth,
		send: func(ctx context.Context, m *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, m)
		},
		now: time.Now,
	}, nil
}

// WithSendFunc replaces the transport, for tests.
func (n *SMTPNotifier) WithSendFunc(send SendFunc) *SMTPNotifier {
	n.send = send
	return n
}

func (n *SMTPNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := n.compose(msg)
	if err != nil {
		return errx.Wrap(ErrSendMail, err)
	}
	if err := n.send(ctx, m); err != nil {
		return errx.Wrap(ErrSendMail, err)
	}
	return nil
}

func (n *SMTPNotifier) compose(msg Message) (*mail.Msg, error) {
	domain := "localhost"
	if _, d, ok := strings.Cut(msg.From, "@"); ok && d != "" {
		domain = d
	}

	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, err
	}
	if err := m.To(msg.To); err != nil {
		return nil, err
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(n.now())
	m.SetMessageIDWithValue(uuid.NewString() + "@" + domain)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}
