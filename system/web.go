package system

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/crewjam/csp"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/csrf"

	"github.com/aerth/landingd/logging"
	"github.com/aerth/landingd/notifier"
)

// BackgroundVideo is the landing page video, relative to the static dir.
const BackgroundVideo = "videos/background_video.mp4"

const (
	staticPrefix  = "/static/"
	maxFormMemory = 1 << 20
)

const (
	flashSent   = "Thanks! Your message was sent."
	flashFailed = "Sorry, something went wrong sending your message."
)

func (s *System) SetCSPHeader(w http.ResponseWriter) {
	sources := []string{"'self'"}
	if s.config.Meta.SiteURL != "" {
		u, err := url.Parse(s.config.Meta.SiteURL)
		if err != nil {
			s.log.Warn("can't set Content-Security-Policy", logging.Error(err))
			return
		}
		if host := u.Hostname(); host != "" {
			sources = append(sources, host)
		}
	}
	val := csp.Header{
		DefaultSrc: sources,
	}.String()
	w.Header().Set("Content-Security-Policy", val)
}

// AssetURL returns the public URL of a file under the static dir, or a
// ServerError when the file is not there.
func (s *System) AssetURL(rel string) (string, error) {
	rel = path.Clean("/" + rel)
	info, err := os.Stat(filepath.Join(s.config.Meta.PathStatic, filepath.FromSlash(rel)))
	if err != nil || info.IsDir() {
		return "", &ServerError{Op: "asset " + rel, Err: ErrAssetNotFound}
	}
	return path.Join(staticPrefix, rel), nil
}

// HomeHandler renders the landing page.
func (s *System) HomeHandler(w http.ResponseWriter, r *http.Request) {
	videoURL, err := s.AssetURL(BackgroundVideo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.lookupTemplate("index.html")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	token := csrf.Token(r)
	var buf bytes.Buffer
	err = t.ExecuteTemplate(&buf, "index.html", map[string]any{
		"version":        s.config.Meta.Version,
		"video_url":      videoURL,
		"appName":        s.config.Meta.AppName,
		"flash":          s.popFlash(w, r),
		csrf.TemplateTag: csrf.TemplateField(r),
		"csrfToken":      token,
	})
	if err != nil {
		s.writeError(w, r, &ServerError{Op: "render index.html", Err: err})
		return
	}

	s.SetCSPHeader(w)
	if token != "" {
		w.Header().Set("X-CSRF-Token", token)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		s.log.DebugContext(r.Context(), "writing page", logging.Error(err))
	}
}

// ContactHandler relays the form to the notifier and always sends the
// browser back home, whatever happened upstream.
func (s *System) ContactHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormMemory)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.writeError(w, r, &ClientError{Err: err})
		return
	}
	for _, field := range []string{"name", "email"} {
		if _, ok := r.PostForm[field]; !ok {
			s.writeError(w, r, missingField(field))
			return
		}
	}
	sub := notifier.ContactSubmission{
		Name:  r.PostForm.Get("name"),
		Email: r.PostForm.Get("email"),
	}
	s.log.InfoContext(r.Context(), "contact form submission",
		slog.String("name", sub.Name),
		slog.String("email", sub.Email),
	)

	ok, err := s.notifier.Notify(r.Context(), sub)
	if ok && err == nil {
		s.log.InfoContext(r.Context(), "Message Sent!")
		s.setFlash(w, r, flashSent)
	} else {
		s.log.ErrorContext(r.Context(), "Something went wrong with message.", logging.Error(err))
		s.setFlash(w, r, flashFailed)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// StaticHandler serves files from the static dir. Directories are not
// listed and index.html is served under its own name.
func (s *System) StaticHandler(w http.ResponseWriter, r *http.Request) {
	rel := path.Clean("/" + chi.URLParam(r, "*"))
	f, err := os.Open(filepath.Join(s.config.Meta.PathStatic, filepath.FromSlash(rel)))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Expires", time.Now().Add(time.Hour*24).UTC().Truncate(time.Second).Format(http.TimeFormat))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
