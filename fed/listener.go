/*
Copyright 2026 the baudrate authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/baudrate/baudrate/ap"
	"github.com/baudrate/baudrate/cfg"
	"github.com/baudrate/baudrate/httpsig"
	"github.com/baudrate/baudrate/inbox"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Listener accepts signed activities over HTTP and forwards them to
// the inbox dispatcher.
type Listener struct {
	Domain   string
	Config   *cfg.Config
	Verifier *Verifier
	Inbox    *inbox.Inbox

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Handler returns the federation HTTP handler.
func (l *Listener) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /inbox", l.handleInbox)
	mux.HandleFunc("POST /b/{board}/inbox", l.handleInbox)
	mux.HandleFunc("POST /user/{user}/inbox", l.handleInbox)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves the federation handler until ctx is cancelled.
func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	server := http.Server{
		Addr:              addr,
		Handler:           l.Handler(),
		ReadHeaderTimeout: time.Second * 10,
	}

	done := make(chan error, 1)
	go func() {
		done <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		server.Shutdown(shutdownCtx)
		return nil

	case err := <-done:
		return err
	}
}

// limiter returns the inbound rate limiter for one remote domain.
func (l *Listener) limiter(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limiters == nil {
		l.limiters = map[string]*rate.Limiter{}
	}

	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.Config.InboxRateLimit), l.Config.InboxRateBurst)
		l.limiters[domain] = limiter
	}

	return limiter
}

// senderDomain extracts the signing domain from the Signature header,
// before any signature validation: rate limiting must be cheaper than
// the request it rejects.
func senderDomain(r *http.Request) string {
	for _, m := range httpsig.Attrs(r.Header.Get("Signature")) {
		if m[1] != "keyId" {
			continue
		}
		if u, err := url.Parse(m[2]); err == nil {
			return u.Host
		}
	}
	return ""
}

func (l *Listener) handleInbox(w http.ResponseWriter, r *http.Request) {
	status := l.serveInbox(w, r)
	inboxRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	w.WriteHeader(status)
}

func (l *Listener) serveInbox(w http.ResponseWriter, r *http.Request) int {
	if t := r.Header.Get("Content-Type"); !strings.Contains(t, "json") {
		return http.StatusBadRequest
	}

	domain := senderDomain(r)
	if domain == "" {
		return http.StatusUnauthorized
	}

	if !l.limiter(domain).Allow() {
		slog.Warn("Rate limiting inbox", "domain", domain)
		return http.StatusTooManyRequests
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, l.Config.MaxRequestBodySize))
	if err != nil {
		return http.StatusBadRequest
	}

	sender, err := l.Verifier.Verify(r.Context(), r, body, time.Now(), l.Config.MaxRequestAge)
	if err != nil {
		switch {
		case errors.Is(err, ErrBlockedDomain):
			// acknowledged and dropped: a block is not advertised
			slog.Info("Dropping activity from blocked domain", "domain", domain)
			return http.StatusAccepted

		case errors.Is(err, ErrActorGone):
			slog.Debug("Ignoring activity from deleted actor", "domain", domain)
			return http.StatusAccepted

		default:
			slog.Warn("Failed to verify inbox request", "domain", domain, "error", err)
			return http.StatusUnauthorized
		}
	}

	var activity ap.Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		slog.Warn("Failed to parse activity", "sender", sender.ID, "error", err)
		return http.StatusBadRequest
	}

	if activity.ID == "" || activity.Type == "" {
		return http.StatusBadRequest
	}

	if err := l.Inbox.Process(r.Context(), &activity, sender); err != nil {
		switch {
		case errors.Is(err, inbox.ErrUnsupported):
			slog.Debug("Rejecting unsupported activity", "id", activity.ID, "type", activity.Type)
			return http.StatusUnprocessableEntity

		case errors.Is(err, inbox.ErrActorMismatch):
			slog.Warn("Activity actor does not match signer", "id", activity.ID, "sender", sender.ID)
			return http.StatusUnauthorized

		case errors.Is(err, inbox.ErrNotFound):
			return http.StatusNotFound

		default:
			slog.Error("Failed to process activity", "id", activity.ID, "error", err)
			return http.StatusUnprocessableEntity
		}
	}

	inboxActivities.WithLabelValues(string(activity.Type)).Inc()
	slog.Info("Processed activity", "id", activity.ID, "type", activity.Type, "sender", sender.ID)
	return http.StatusAccepted
}
