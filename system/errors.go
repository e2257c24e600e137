package system

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aerth/landingd/logging"
)

var (
	ErrMissingField     = errors.New("missing form field")
	ErrTemplateNotFound = errors.New("template not found")
	ErrAssetNotFound    = errors.New("asset not found")
)

// ClientError is a request the client has to fix. It is answered with 400.
type ClientError struct {
	Field string
	Err   error
}

func (e *ClientError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Field
}

func (e *ClientError) Unwrap() error { return e.Err }

// ServerError is a failure on our side, such as a missing template or asset.
// It is answered with 500 and logged.
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error { return e.Err }

func missingField(name string) error {
	return &ClientError{Field: name, Err: ErrMissingField}
}

// writeError maps err onto a status code. Only the client error text reaches
// the response body.
func (s *System) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *ClientError
	if errors.As(err, &ce) {
		s.log.InfoContext(r.Context(), "bad request", slog.String("path", r.URL.Path), logging.Error(err))
		http.Error(w, ce.Error(), http.StatusBadRequest)
		return
	}
	s.log.ErrorContext(r.Context(), "internal error", slog.String("path", r.URL.Path), logging.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
