package system

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"github.com/aerth/landingd/logging"
)

// Routes returns the site handler.
//
//	GET  /           landing page
//	POST /contact    contact form
//	GET  /static/*   assets
func (s *System) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.RequestLogger)
	r.Use(middleware.Recoverer)
	if s.greylist != nil {
		r.Use(s.greylist.Protect)
	}

	r.Group(func(r chi.Router) {
		if protect := s.csrfProtect(); protect != nil {
			r.Use(protect)
		}
		r.Get("/", s.HomeHandler)
		r.Post("/contact", s.ContactHandler)
	})
	r.Get(staticPrefix+"*", s.StaticHandler)
	return r
}

// csrfProtect is nil unless CSRF is enabled and has a key. The key is
// stretched to the 32 bytes gorilla/csrf wants.
func (s *System) csrfProtect() func(http.Handler) http.Handler {
	if !s.config.CSRFActive() {
		return nil
	}
	key := sha256.Sum256([]byte(s.config.Sec.CSRFKey))
	protect := csrf.Protect(key[:],
		csrf.Secure(!s.config.Plaintext()),
		csrf.FieldName("_csrf"),
		csrf.Path("/"),
		csrf.ErrorHandler(http.HandlerFunc(s.csrfFailure)),
	)
	if !s.config.Plaintext() {
		return protect
	}
	// without TLS there is no Referer to compare against
	return func(h http.Handler) http.Handler {
		next := protect(h)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
		})
	}
}

func (s *System) csrfFailure(w http.ResponseWriter, r *http.Request) {
	s.log.InfoContext(r.Context(), "csrf check failed",
		slog.String("path", r.URL.Path),
		logging.Error(csrf.FailureReason(r)),
	)
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

// RequestLogger logs one line per request once it is served.
func (s *System) RequestLogger(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t1 := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.log.InfoContext(r.Context(), logr(r),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("took", time.Since(t1)),
		)
	})
}

// ez http log
func logr(r *http.Request) string {
	ipaddr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ipaddr = r.RemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ipaddr += " " + xff
	}
	return fmt.Sprintf("%s %s %.50q %q %s", r.Host, r.Method, r.UserAgent(), ipaddr, r.URL.Path)
}
