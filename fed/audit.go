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
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/baudrate/baudrate/cfg"
)

var ErrNoAuditURL = errors.New("no audit URL is configured")

// Auditor compares the local blocklist against a published reference
// list and reports the differences. It never changes the blocklist:
// acting on the report is an operator decision.
type Auditor struct {
	Config    *cfg.Config
	Client    Client
	BlockList *BlockList
	DB        *sql.DB
}

// AuditReport is the difference between the local blocklist and the
// reference list.
type AuditReport struct {
	// Missing domains appear in the reference list but are not blocked
	// locally, with the number of cached actors per domain.
	Missing map[string]int

	// Extra domains are blocked locally but absent from the reference
	// list.
	Extra []string
}

// Audit fetches the reference list and diffs it against the local
// blocklist.
func (a *Auditor) Audit(ctx context.Context) (*AuditReport, error) {
	if a.Config.BlocklistAuditURL == "" {
		return nil, ErrNoAuditURL
	}

	reference, err := a.fetchReference(ctx)
	if err != nil {
		return nil, err
	}

	local, err := a.BlockList.Domains(ctx)
	if err != nil {
		return nil, err
	}

	report := AuditReport{Missing: map[string]int{}}

	for domain := range reference {
		if !slices.Contains(local, domain) {
			n, err := a.knownActors(ctx, domain)
			if err != nil {
				return nil, err
			}
			report.Missing[domain] = n
		}
	}

	for _, domain := range local {
		if _, listed := reference[domain]; !listed {
			report.Extra = append(report.Extra, domain)
		}
	}

	slices.Sort(report.Extra)
	return &report, nil
}

func (a *Auditor) fetchReference(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Config.AuditTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.Config.BlocklistAuditURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reference list: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reference list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch reference list: status %d", resp.StatusCode)
	}

	domains := map[string]struct{}{}

	c := csv.NewReader(io.LimitReader(resp.Body, a.Config.MaxResponseBodySize))
	first := true
	for {
		r, err := c.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse reference list: %w", err)
		}

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

func (a *Auditor) knownActors(ctx context.Context, domain string) (int, error) {
	var n int
	if err := a.DB.QueryRowContext(ctx, `select count(*) from actors where host = ?`, domain).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count actors on %s: %w", domain, err)
	}
	return n, nil
}
