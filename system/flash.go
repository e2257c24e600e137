package system

import (
	"errors"
	"net/http"

	"github.com/aerth/landingd/logging"
)

const flashCookie = "flash"

// setFlash leaves a one-shot message for the next page view.
func (s *System) setFlash(w http.ResponseWriter, r *http.Request, msg string) {
	if s.cookies == nil {
		return
	}
	encoded, err := s.cookies.Encode(flashCookie, msg)
	if err != nil {
		s.log.WarnContext(r.Context(), "error encoding flash cookie", logging.Error(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    encoded,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   !s.config.Plaintext(),
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash reads and clears the flash message. Tampered cookies are dropped.
func (s *System) popFlash(w http.ResponseWriter, r *http.Request) string {
	if s.cookies == nil {
		return ""
	}
	cookie, err := r.Cookie(flashCookie)
	if err != nil {
		if !errors.Is(err, http.ErrNoCookie) {
			s.log.DebugContext(r.Context(), "error reading cookie from request", logging.Error(err))
		}
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !s.config.Plaintext(),
		SameSite: http.SameSiteLaxMode,
	})
	var msg string
	if err := s.cookies.Decode(flashCookie, cookie.Value, &msg); err != nil {
		s.log.InfoContext(r.Context(), "dropping bad flash cookie", logging.Error(err))
		return ""
	}
	return msg
}
