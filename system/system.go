// Package system is the web side of landingd: the landing page, the contact
// form relay and the static assets behind them.
package system

import (
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/aerth/landingd/config"
	"github.com/aerth/landingd/greylist"
	"github.com/aerth/landingd/logging"
	"github.com/aerth/landingd/notifier"
)

// pages are parsed from the template dir, together with any partials.
var pages = []string{"index.html"}

type System struct {
	config   config.Config
	notifier notifier.Notifier
	cookies  *securecookie.SecureCookie
	greylist *greylist.List
	log      *slog.Logger

	tmu       sync.RWMutex
	templates map[string]*template.Template
}

type Option func(*System)

func WithLogger(l *slog.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.log = l
		}
	}
}

// WithGreylist puts the allow/block guard in front of the routes.
func WithGreylist(g *greylist.List) Option {
	return func(s *System) { s.greylist = g }
}

// New builds the system. Missing secrets and a missing template are logged,
// not fatal: the page answers 500 until the template shows up (or is fixed
// and reloaded), and the contact flow fails only when it is used.
func New(cfg config.Config, n notifier.Notifier, opts ...Option) *System {
	s := &System{
		config:    cfg,
		notifier:  n,
		log:       slog.Default(),
		templates: map[string]*template.Template{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.Module(s.log, "system")

	if cfg.Sec.SecretKey != "" {
		s.cookies = securecookie.New([]byte(cfg.Sec.SecretKey), nil)
	} else {
		s.log.Debug("SECRET_KEY not set, flash messages disabled")
	}
	if cfg.Sec.CSRFEnabled && cfg.Sec.CSRFKey == "" {
		s.log.Warn("CSRF_SESSION_KEY not set, CSRF protection disabled")
	}

	if err := s.ReloadTemplates(); err != nil {
		s.log.Error("couldn't parse templates", logging.Error(err))
	}
	return s
}

// Config returns a copy of the running configuration.
func (s *System) Config() config.Config {
	return s.config
}

// ReloadTemplates parses every page again. On error the previous set is kept.
func (s *System) ReloadTemplates() error {
	t1 := time.Now()
	templates := map[string]*template.Template{}
	for _, name := range pages {
		t, err := s.parseTemplate(name)
		if err != nil {
			return err
		}
		templates[name] = t
	}
	s.tmu.Lock()
	s.templates = templates
	s.tmu.Unlock()
	s.log.Debug("parsed templates", slog.Int("count", len(templates)), slog.Duration("took", time.Since(t1)))
	return nil
}

func (s *System) parseTemplate(name string) (*template.Template, error) {
	dir := s.config.Meta.PathTemplates
	partials, err := filepath.Glob(filepath.Join(dir, "_partials", "*.html"))
	if err != nil {
		return nil, fmt.Errorf("couldn't enumerate partial templates: %w", err)
	}
	file := filepath.Join(dir, name)
	if _, err := os.Stat(file); err != nil {
		return nil, &ServerError{Op: "template " + name, Err: ErrTemplateNotFound}
	}
	t, err := template.New(name).ParseFiles(append([]string{file}, partials...)...)
	if err != nil {
		return nil, &ServerError{Op: "template " + name, Err: err}
	}
	return t, nil
}

// lookupTemplate returns the named page, parsing it on the spot in live mode or
// when it failed to parse earlier.
func (s *System) lookupTemplate(name string) (*template.Template, error) {
	live := s.config.Meta.LiveTemplate || s.config.Meta.DevelopmentMode
	if !live {
		s.tmu.RLock()
		t, ok := s.templates[name]
		s.tmu.RUnlock()
		if ok {
			return t, nil
		}
	}
	t, err := s.parseTemplate(name)
	if err != nil {
		return nil, err
	}
	if !live {
		s.tmu.Lock()
		s.templates[name] = t
		s.tmu.Unlock()
	}
	return t, nil
}
