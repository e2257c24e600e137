// Package notifier relays contact-form submissions to the site admin through
// the Mailgun messages API.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/aerth/landingd/config"
	"github.com/aerth/landingd/logging"
)

const (
	// DefaultBaseURL is the Mailgun v3 API root.
	DefaultBaseURL = "https://api.mailgun.net/v3"
	// ProjectMarker tags every subject line.
	ProjectMarker = "[placeholder.2024]"
	// Subject is the fixed subject of every contact message.
	Subject = ProjectMarker + " Website Request"

	apiUser = "api"

	// upper bound on the response body kept for the log
	maxLoggedBody = 64 << 10
)

var (
	ErrBuildRequest = errors.New("notifier: failed to build request")
	ErrSend         = errors.New("notifier: failed to reach mail API")
)

// ContactSubmission is the name/email pair taken from the contact form.
// Neither field is validated.
type ContactSubmission struct {
	Name  string
	Email string
}

// Notifier relays one submission. The boolean reports whether the message was
// handed off; an error means the request never completed.
type Notifier interface {
	Notify(ctx context.Context, sub ContactSubmission) (bool, error)
}

// Doer sends an HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Message is the outbound mail, field for field as the API receives it.
type Message struct {
	From    string
	To      []string
	Subject string
	Text    string
}

// NewMessage builds the admin notification for sub. The submitted address
// becomes the sender as-is.
func NewMessage(sub ContactSubmission, adminEmail string) Message {
	return Message{
		From:    sub.Email,
		To:      []string{adminEmail},
		Subject: Subject,
		Text:    fmt.Sprintf("Message:  \n\nName:  %s \n\nEmail:  %s", sub.Name, sub.Email),
	}
}

// Values is the form encoding of m.
func (m Message) Values() url.Values {
	v := url.Values{}
	v.Set("from", m.From)
	for _, to := range m.To {
		v.Add("to", to)
	}
	v.Set("subject", m.Subject)
	v.Set("text", m.Text)
	return v
}

// Mailgun sends contact messages to a fixed admin address.
type Mailgun struct {
	baseURL    string
	domain     string
	apiKey     string
	adminEmail string
	client     Doer
	log        *slog.Logger
}

type Option func(*Mailgun)

// WithClient replaces the default HTTP client.
func WithClient(c Doer) Option {
	return func(m *Mailgun) {
		if c != nil {
			m.client = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Mailgun) {
		if l != nil {
			m.log = l
		}
	}
}

// WithBaseURL points the notifier at another API root.
func WithBaseURL(u string) Option {
	return func(m *Mailgun) {
		if u != "" {
			m.baseURL = u
		}
	}
}

// NewMailgun builds a notifier from the mail settings. Empty settings are
// accepted; they only show up as failed deliveries.
func NewMailgun(keys config.KeyConfig, opts ...Option) *Mailgun {
	m := &Mailgun{
		baseURL:    DefaultBaseURL,
		domain:     keys.DomainName,
		apiKey:     keys.MailgunAPIKey,
		adminEmail: keys.AdminEmail,
		client:     cleanhttp.DefaultPooledClient(),
		log:        slog.Default(),
	}
	if keys.MailgunURL != "" {
		m.baseURL = keys.MailgunURL
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logging.Module(m.log, "notifier")
	return m
}

// Endpoint is the messages URL for the configured domain.
func (m *Mailgun) Endpoint() string {
	return strings.TrimRight(m.baseURL, "/") + "/" + url.PathEscape(m.domain) + "/messages"
}

// Notify posts the message for sub. Once the API answers, Notify reports
// true whatever the status code; the reply body is only logged.
//
// TODO: inspect resp.StatusCode so a rejected message is reported as false.
func (m *Mailgun) Notify(ctx context.Context, sub ContactSubmission) (bool, error) {
	if m.adminEmail == "" || m.apiKey == "" || m.domain == "" {
		m.log.WarnContext(ctx, "mail settings incomplete",
			slog.Bool("domain", m.domain != ""),
			slog.Bool("admin_email", m.adminEmail != ""),
			slog.Bool("api_key", m.apiKey != ""),
		)
	}

	endpoint := m.Endpoint()
	msg := NewMessage(sub, m.adminEmail)
	m.log.DebugContext(ctx, endpoint)
	m.log.DebugContext(ctx, "outbound message",
		slog.String("from", msg.From),
		slog.Any("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(msg.Values().Encode()))
	if err != nil {
		return false, errors.Join(ErrBuildRequest, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(apiUser, m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return false, errors.Join(ErrSend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if err != nil {
		m.log.WarnContext(ctx, "reading mail API response", logging.Error(err))
	}
	m.log.InfoContext(ctx, string(body), slog.Int("status", resp.StatusCode))
	return true, nil
}
