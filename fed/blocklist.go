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
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// BlockList is the set of blocked domains. It is backed by the
// blocked_domains table and queried fresh at every decision point, so a
// block applied after a delivery job was enqueued is still honored at
// send time.
type BlockList struct {
	DB *sql.DB
}

const blockListReloadDelay = time.Second * 5

// Contains determines if a domain is blocked.
func (b *BlockList) Contains(ctx context.Context, domain string) (bool, error) {
	var blocked int
	if err := b.DB.QueryRowContext(ctx, `select exists (select 1 from blocked_domains where domain = ?)`, normalizeDomain(domain)).Scan(&blocked); err != nil {
		return false, fmt.Errorf("failed to check if %s is blocked: %w", domain, err)
	}
	return blocked == 1, nil
}

// Add blocks a domain.
func (b *BlockList) Add(ctx context.Context, domain string) error {
	if _, err := b.DB.ExecContext(ctx, `INSERT OR IGNORE INTO blocked_domains(domain) VALUES(?)`, normalizeDomain(domain)); err != nil {
		return fmt.Errorf("failed to block %s: %w", domain, err)
	}
	return nil
}

// Remove unblocks a domain.
func (b *BlockList) Remove(ctx context.Context, domain string) error {
	if _, err := b.DB.ExecContext(ctx, `delete from blocked_domains where domain = ?`, normalizeDomain(domain)); err != nil {
		return fmt.Errorf("failed to unblock %s: %w", domain, err)
	}
	return nil
}

// Domains lists all blocked domains.
func (b *BlockList) Domains(ctx context.Context) ([]string, error) {
	rows, err := b.DB.QueryContext(ctx, `select domain from blocked_domains order by domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, err
		}
		domains = append(domains, domain)
	}

	return domains, rows.Err()
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func loadBlocklistFile(path string) (map[string]struct{}, error) {
	domains := make(map[string]struct{})

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := csv.NewReader(f)
	first := true
	for {
		r, err := c.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		// skip the header row
		if first {
			first = false
			continue
		}

		if d := normalizeDomain(r[0]); d != "" {
			domains[d] = struct{}{}
		}
	}

	return domains, nil
}

func (b *BlockList) importFile(ctx context.Context, path string) (int, error) {
	domains, err := loadBlocklistFile(path)
	if err != nil {
		return 0, err
	}

	// an empty file is suspicious; maybe it was opened with O_TRUNC
	if len(domains) == 0 {
		return 0, nil
	}

	for domain := range domains {
		if err := b.Add(ctx, domain); err != nil {
			return 0, err
		}
	}

	return len(domains), nil
}

// Watch imports a CSV of blocked domains into the blocklist and merges
// it again whenever the file changes, until ctx is cancelled.
func (b *BlockList) Watch(ctx context.Context, path string) error {
	if n, err := b.importFile(ctx, path); err != nil {
		return err
	} else if n > 0 {
		slog.Info("Imported blocklist", "path", path, "length", n)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	absPath := filepath.Join(dir, filepath.Base(path))

	timer := time.NewTimer(math.MaxInt64)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}

			if (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) && event.Name == absPath {
				timer.Reset(blockListReloadDelay)
			}

		case <-timer.C:
			n, err := b.importFile(ctx, path)
			if err != nil {
				slog.Warn("Failed to import blocklist", "path", path, "error", err)
				continue
			}

			if n == 0 {
				slog.Warn("New blocklist is empty", "path", path)
				continue
			}

			slog.Info("Imported blocklist", "path", path, "length", n)
		}
	}
}
