package system

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aerth/landingd/logging"
)

const defaultShutdownTimeout = 5 * time.Second

var (
	ErrStart    = errors.New("system: failed to start server")
	ErrShutdown = errors.New("system: failed to shutdown server")
)

// Run listens on the configured address and serves handler until ctx is
// done. A nil handler serves Routes().
func (s *System) Run(ctx context.Context, handler http.Handler) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return errors.Join(ErrStart, err)
	}
	return s.Serve(ctx, ln, handler)
}

// Serve is Run on an existing listener. When ctx is done the server gets
// HTTP_SHUTDOWN_TIMEOUT to finish in-flight requests.
func (s *System) Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	if handler == nil {
		handler = s.Routes()
	}
	srv := &http.Server{
		Handler:     handler,
		ReadTimeout: s.config.HTTP.ReadTimeout,
		IdleTimeout: s.config.HTTP.IdleTimeout,
		ErrorLog:    slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.greylist != nil {
		go s.greylist.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("serving HTTP", slog.String("addr", ln.Addr().String()))

	var runErr error
	select {
	case <-ctx.Done():
		runErr = s.shutdown(srv)
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = errors.Join(runErr, err)
		}
	case runErr = <-errCh:
		if errors.Is(runErr, http.ErrServerClosed) {
			runErr = nil
		}
		if runErr != nil {
			runErr = errors.Join(ErrStart, runErr)
		}
	}
	return runErr
}

func (s *System) shutdown(srv *http.Server) error {
	timeout := s.config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error("shutdown", logging.Error(err))
		return errors.Join(ErrShutdown, err)
	}
	s.log.Info("server stopped")
	return nil
}
