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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/baudrate/baudrate/ap"
	"github.com/baudrate/baudrate/cfg"
	"github.com/baudrate/baudrate/httpsig"
)

// Resolver retrieves actor objects given their ID or key ID.
// Actors are cached in the actors table and refreshed when stale or on
// demand (after a signature verification failure against a cached key).
type Resolver struct {
	Domain    string
	Config    *cfg.Config
	BlockList *BlockList
	Client    Client
	DB        *sql.DB

	// Key signs outgoing fetches, for servers that require it.
	Key httpsig.Key
}

var (
	ErrBlockedDomain = errors.New("domain is blocked")
	ErrActorGone     = errors.New("actor is gone")
	ErrInvalidActor  = errors.New("invalid actor document")
	ErrNoLocalActor  = errors.New("no such local actor")
	ErrInvalidScheme = errors.New("invalid scheme")
)

// Resolve retrieves an actor object by its ID, cache-first.
func (r *Resolver) Resolve(ctx context.Context, id string) (*ap.Actor, error) {
	return r.resolve(ctx, id, false)
}

// ForceRefresh bypasses the cache for exactly one lookup. It is used
// by signature verification to tolerate remote key rotation, and by
// explicit refresh flows.
func (r *Resolver) ForceRefresh(ctx context.Context, id string) (*ap.Actor, error) {
	return r.resolve(ctx, id, true)
}

func (r *Resolver) resolve(ctx context.Context, id string, force bool) (*ap.Actor, error) {
	if id == "" {
		return nil, errors.New("empty ID")
	}

	u, err := url.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve %s: %w", id, err)
	}

	if u.Scheme != "https" {
		return nil, ErrInvalidScheme
	}

	if blocked, err := r.BlockList.Contains(ctx, u.Host); err != nil {
		return nil, err
	} else if blocked {
		return nil, fmt.Errorf("cannot resolve %s: %w", id, ErrBlockedDomain)
	}

	if u.Host == r.Domain {
		return nil, fmt.Errorf("cannot resolve %s: %w", id, ErrNoLocalActor)
	}

	var cached ap.Actor
	var updated int64
	cacheHit := true
	if err := r.DB.QueryRowContext(ctx, `select json(actor), updated from actors where id = $1 or actor->>'$.publicKey.id' = $1`, id).Scan(&cached, &updated); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to fetch %s cache: %w", id, err)
	} else if errors.Is(err, sql.ErrNoRows) {
		cacheHit = false
	}

	if cacheHit && !force && time.Since(time.Unix(updated, 0)) < r.Config.ResolverCacheTTL {
		slog.Debug("Resolved actor using cache", "id", cached.ID)
		return &cached, nil
	}

	actor, err := r.fetchActor(ctx, u.Host, id)
	if err != nil && cacheHit && !force && !errors.Is(err, ErrActorGone) {
		slog.Warn("Using old cache entry for actor", "id", cached.ID, "error", err)
		return &cached, nil
	}

	return actor, err
}

func (r *Resolver) fetchActor(ctx context.Context, host, profile string) (*ap.Actor, error) {
	slog.Debug("Fetching actor", "id", profile)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profile, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", profile, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Add("Accept", "application/activity+json")

	if r.Key.ID != "" {
		if err := httpsig.Sign(req, r.Key, time.Now()); err != nil {
			return nil, fmt.Errorf("failed to sign request for %s: %w", profile, err)
		}
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", profile, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		resolverFetches.WithLabelValues("gone").Inc()
		r.deleteActor(ctx, profile)
		return nil, fmt.Errorf("failed to fetch %s: %w", profile, ErrActorGone)
	}

	if resp.StatusCode != http.StatusOK {
		resolverFetches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to fetch %s: status %d", profile, resp.StatusCode)
	}

	if resp.ContentLength > r.Config.MaxResponseBodySize {
		return nil, fmt.Errorf("failed to fetch %s: response is too big", profile)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.Config.MaxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", profile, err)
	}

	var actor ap.Actor
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", profile, err)
	}

	// the document must claim the fetched URI as its own ID or key ID
	if actor.ID != profile && actor.PublicKey.ID != profile {
		return nil, fmt.Errorf("%s does not match %s: %w", actor.ID, profile, ErrInvalidActor)
	}

	actorURL, err := url.Parse(actor.ID)
	if err != nil || actorURL.Host != host {
		return nil, fmt.Errorf("%s is not an actor on %s: %w", actor.ID, host, ErrInvalidActor)
	}

	if actor.Inbox == "" {
		return nil, fmt.Errorf("%s has no inbox: %w", actor.ID, ErrInvalidActor)
	}

	if _, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO actors(id, host, actor, fetched) VALUES($1, $2, $3, UNIXEPOCH()) ON CONFLICT(id) DO UPDATE SET actor = $3, updated = UNIXEPOCH(), fetched = UNIXEPOCH()`,
		actor.ID,
		actorURL.Host,
		string(body),
	); err != nil {
		return nil, fmt.Errorf("failed to cache %s: %w", actor.ID, err)
	}

	resolverFetches.WithLabelValues("ok").Inc()
	return &actor, nil
}

// deleteActor removes a gone actor and its follow relationships.
func (r *Resolver) deleteActor(ctx context.Context, id string) {
	if _, err := r.DB.ExecContext(ctx, `delete from follows where remote = ?`, id); err != nil {
		slog.Warn("Failed to delete follows for actor", "id", id, "error", err)
	}

	if _, err := r.DB.ExecContext(ctx, `delete from actors where id = ?`, id); err != nil {
		slog.Warn("Failed to delete actor", "id", id, "error", err)
	}
}
