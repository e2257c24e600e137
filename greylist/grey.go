// Copyright (c) 2020 aerth <aerth@riseup.net>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package greylist guards state-changing requests with an allowlist and a
// blocklist read from two files.
//
// Each file holds one IP address per line; blank lines and lines starting
// with '#' are skipped. Missing or unreadable files are treated as empty.
// With a refresh rate set, Run re-reads files whose modification time moved.
package greylist

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aerth/landingd/logging"
)

// List is a greylist instance
type List struct {
	whitelistFilename, blacklistFilename string
	refreshRate                          time.Duration
	allMethods                           bool
	log                                  *slog.Logger

	mu                   sync.RWMutex
	whitelist, blacklist map[string]struct{}
	whiteMod, blackMod   time.Time
}

// New reads both files once and returns the list. Either filename may be
// empty. refreshRate can be 0, in which case Run does nothing and the lists
// only change through RefreshLists.
//
// By default only non-GET requests are checked; see SetAllMethods.
func New(whitelistFilename, blacklistFilename string, refreshRate time.Duration, log *slog.Logger) *List {
	l := &List{
		whitelistFilename: whitelistFilename,
		blacklistFilename: blacklistFilename,
		refreshRate:       refreshRate,
		log:               logging.Module(log, "greylist"),
		whitelist:         map[string]struct{}{},
		blacklist:         map[string]struct{}{},
	}
	l.RefreshLists()
	return l
}

// SetAllMethods makes GET and HEAD requests go through the check as well.
func (l *List) SetAllMethods(b bool) {
	l.mu.Lock()
	l.allMethods = b
	l.mu.Unlock()
}

// Run refreshes the lists every refreshRate until ctx is done.
func (l *List) Run(ctx context.Context) {
	if l.refreshRate <= 0 {
		return
	}
	tick := time.NewTicker(l.refreshRate)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			l.RefreshLists()
		}
	}
}

// Protect wraps h. It fits chi's Use.
//
//	r.Use(glist.Protect)
func (l *List) Protect(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.mu.RLock()
		all := l.allMethods
		l.mu.RUnlock()
		if !all && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			h.ServeHTTP(w, r)
			return
		}

		peer, hops := requestIPs(r)
		switch l.Check(peer, hops...) {
		case Whitelisted:
			l.log.DebugContext(r.Context(), "allowing whitelisted ip", slog.String("ip", peer))
		case Blacklisted:
			l.log.InfoContext(r.Context(), "blocking blacklisted ip",
				slog.String("ip", peer),
				slog.Any("forwarded", hops),
				slog.String("path", r.URL.Path),
			)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// Status is the outcome of Check.
type Status int

const (
	Unlisted Status = iota
	Whitelisted
	Blacklisted
)

// Check looks up the peer address and any forwarded hops. Only the peer can
// be whitelisted, since hops come from a header the client controls; any of
// them can be blacklisted.
func (l *List) Check(peer string, forwarded ...string) Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.whitelist[peer]; ok {
		return Whitelisted
	}
	for _, ip := range append([]string{peer}, forwarded...) {
		if _, ok := l.blacklist[ip]; ok {
			return Blacklisted
		}
	}
	return Unlisted
}

// RefreshLists re-reads any file that changed since the last read. A file
// that has disappeared empties its list.
func (l *List) RefreshLists() (whitelisted, blacklisted int) {
	t1 := time.Now()

	l.mu.RLock()
	whiteMod, blackMod := l.whiteMod, l.blackMod
	l.mu.RUnlock()

	white, whiteNext, whiteChanged := l.readList(l.whitelistFilename, whiteMod)
	black, blackNext, blackChanged := l.readList(l.blacklistFilename, blackMod)

	l.mu.Lock()
	if whiteChanged {
		l.whitelist, l.whiteMod = white, whiteNext
	}
	if blackChanged {
		l.blacklist, l.blackMod = black, blackNext
	}
	whitelisted, blacklisted = len(l.whitelist), len(l.blacklist)
	l.mu.Unlock()

	if whiteChanged || blackChanged {
		l.log.Info("refreshed lists from file",
			slog.Duration("took", time.Since(t1)),
			slog.Int("whitelisted", whitelisted),
			slog.Int("blacklisted", blacklisted),
		)
	}
	return whitelisted, blacklisted
}

// readList returns the file's entries when its mtime differs from since.
func (l *List) readList(filename string, since time.Time) (map[string]struct{}, time.Time, bool) {
	if filename == "" {
		return nil, since, false
	}
	f, err := os.Open(filename)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.log.Warn("can't open list", slog.String("file", filename), logging.Error(err))
		}
		if since.IsZero() {
			return nil, since, false
		}
		return map[string]struct{}{}, time.Time{}, true
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		l.log.Warn("can't stat list", slog.String("file", filename), logging.Error(err))
		return nil, since, false
	}
	if info.ModTime().Equal(since) {
		return nil, since, false
	}

	list := map[string]struct{}{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ip := strings.TrimSpace(scanner.Text())
		if ip == "" || strings.HasPrefix(ip, "#") {
			continue
		}
		list[ip] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		l.log.Warn("error scanning list", slog.String("file", filename), logging.Error(err))
		return nil, since, false
	}
	return list, info.ModTime(), true
}

// requestIPs splits r into the peer address and any X-Forwarded-For hops.
func requestIPs(r *http.Request) (peer string, hops []string) {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return peer, hops
}
