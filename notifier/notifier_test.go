package notifier_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerth/landingd/config"
	"github.com/aerth/landingd/logging"
	"github.com/aerth/landingd/notifier"
)

type capturedRequest struct {
	method   string
	path     string
	user     string
	pass     string
	hasAuth  bool
	ctype    string
	form     url.Values
	requests int
}

// mailAPI is a stub Mailgun that records the last request and answers with
// the given status and body. The returned func snapshots what it saw.
func mailAPI(t *testing.T, status int, body string) (*httptest.Server, func() capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	got := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, r.ParseForm())
		got.method = r.Method
		got.path = r.URL.Path
		got.user, got.pass, got.hasAuth = r.BasicAuth()
		got.ctype = r.Header.Get("Content-Type")
		got.form = r.PostForm
		got.requests++
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return *got
	}
}

func keys(baseURL string) config.KeyConfig {
	return config.KeyConfig{
		DomainName:    "mg.example.com",
		AdminEmail:    "admin@example.com",
		MailgunAPIKey: "key-123",
		MailgunURL:    baseURL,
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestNewMessage(t *testing.T) {
	t.Parallel()

	msg := notifier.NewMessage(notifier.ContactSubmission{Name: "Ada", Email: "ada@example.com"}, "admin@example.com")

	assert.Equal(t, "ada@example.com", msg.From)
	assert.Equal(t, []string{"admin@example.com"}, msg.To)
	assert.Contains(t, msg.Subject, notifier.ProjectMarker)
	assert.Contains(t, msg.Text, "Ada")
	assert.Contains(t, msg.Text, "ada@example.com")
	assert.Equal(t, "Message:  \n\nName:  Ada \n\nEmail:  ada@example.com", msg.Text)
}

func TestMailgun_Endpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		keys config.KeyConfig
		want string
	}{
		{
			name: "default base",
			keys: config.KeyConfig{DomainName: "mg.example.com"},
			want: "https://api.mailgun.net/v3/mg.example.com/messages",
		},
		{
			name: "trailing slash",
			keys: config.KeyConfig{DomainName: "mg.example.com", MailgunURL: "http://localhost:9999/v3/"},
			want: "http://localhost:9999/v3/mg.example.com/messages",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, notifier.NewMailgun(tt.keys).Endpoint())
		})
	}
}

func TestMailgun_Notify_SendsForm(t *testing.T) {
	t.Parallel()

	srv, seen := mailAPI(t, http.StatusOK, `{"id":"<1@mg.example.com>","message":"Queued. Thank you."}`)
	n := notifier.NewMailgun(keys(srv.URL + "/v3"))

	ok, err := n.Notify(context.Background(), notifier.ContactSubmission{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.True(t, ok)

	got := seen()
	require.Equal(t, 1, got.requests)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/v3/mg.example.com/messages", got.path)
	assert.True(t, got.hasAuth)
	assert.Equal(t, "api", got.user)
	assert.Equal(t, "key-123", got.pass)
	assert.Equal(t, "application/x-www-form-urlencoded", got.ctype)

	assert.Equal(t, "ada@example.com", got.form.Get("from"))
	assert.Equal(t, []string{"admin@example.com"}, got.form["to"])
	assert.Contains(t, got.form.Get("subject"), notifier.ProjectMarker)
	assert.Contains(t, got.form.Get("text"), "Ada")
	assert.Contains(t, got.form.Get("text"), "ada@example.com")
}

// The status code of the reply is never looked at, so a rejected message is
// still reported as sent. This pins the current behavior; see the TODO on
// Notify.
func TestMailgun_Notify_NonSuccessStillTrue(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError} {
		srv, seen := mailAPI(t, status, `{"message":"Forbidden"}`)
		n := notifier.NewMailgun(keys(srv.URL))

		ok, err := n.Notify(context.Background(), notifier.ContactSubmission{Name: "Ada", Email: "ada@example.com"})
		require.NoError(t, err, "status %d", status)
		assert.True(t, ok, "status %d", status)
		assert.Equal(t, 1, seen().requests)
	}
}

func TestMailgun_Notify_LogsResponseBody(t *testing.T) {
	t.Parallel()

	srv, _ := mailAPI(t, http.StatusBadRequest, "to parameter is not a valid address")
	var buf bytes.Buffer
	l, closer := logging.New(logging.WithConsole(&buf), logging.WithLevel(slog.LevelDebug))
	defer closer.Close()

	n := notifier.NewMailgun(keys(srv.URL), notifier.WithLogger(l))
	ok, err := n.Notify(context.Background(), notifier.ContactSubmission{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.True(t, ok)

	out := buf.String()
	assert.Contains(t, out, "to parameter is not a valid address")
	assert.Contains(t, out, `"module":"notifier"`)
	assert.Contains(t, out, "/mg.example.com/messages")
}

func TestMailgun_Notify_TransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	n := notifier.NewMailgun(keys("http://mail.invalid"), notifier.WithClient(doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, boom
	})))

	ok, err := n.Notify(context.Background(), notifier.ContactSubmission{Name: "Ada", Email: "ada@example.com"})
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, notifier.ErrSend)
	assert.ErrorIs(t, err, boom)
}

func TestMailgun_Notify_BadBaseURL(t *testing.T) {
	t.Parallel()

	n := notifier.NewMailgun(keys("http://bad host\x7f"))
	ok, err := n.Notify(context.Background(), notifier.ContactSubmission{Name: "Ada", Email: "ada@example.com"})
	assert.False(t, ok)
	assert.ErrorIs(t, err, notifier.ErrBuildRequest)
}

func TestMailgun_Notify_MissingSettingsStillSends(t *testing.T) {
	t.Parallel()

	srv, seen := mailAPI(t, http.StatusUnauthorized, "Forbidden")
	n := notifier.NewMailgun(config.KeyConfig{DomainName: "mg.example.com", MailgunURL: srv.URL})

	ok, err := n.Notify(context.Background(), notifier.ContactSubmission{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.True(t, ok)

	got := seen()
	assert.Equal(t, []string{""}, got.form["to"])
	assert.Equal(t, "", got.pass)
}
