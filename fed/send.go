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
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/baudrate/baudrate/cfg"
	"github.com/baudrate/baudrate/httpsig"
)

// StatusError is returned when a remote inbox responds with a
// non-2xx status. The delivery queue uses the status code to decide
// between retrying and failing permanently.
type StatusError struct {
	StatusCode int

	// RetryAfter is the delay requested through Retry-After, or zero.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return "status " + strconv.Itoa(e.StatusCode)
}

// Temporary reports whether the failure is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// post signs body with key and delivers it to inbox.
func post(ctx context.Context, config *cfg.Config, client Client, key httpsig.Key, inbox string, body []byte) error {
	u, err := url.Parse(inbox)
	if err != nil {
		return fmt.Errorf("cannot deliver to %s: %w", inbox, err)
	}

	if u.Scheme != "https" {
		return fmt.Errorf("cannot deliver to %s: %w", inbox, ErrInvalidScheme)
	}

	if u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1" || u.Hostname() == "::1" {
		return fmt.Errorf("cannot deliver to %s: invalid host", inbox)
	}

	if int64(len(body)) > config.MaxRequestBodySize {
		return fmt.Errorf("cannot deliver to %s: request is too big", inbox)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cannot deliver to %s: %w", inbox, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/activity+json")

	if err := httpsig.Sign(req, key, time.Now()); err != nil {
		return fmt.Errorf("failed to sign request for %s: %w", inbox, err)
	}

	slog.Debug("Sending activity", "inbox", inbox, "key", key.ID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", inbox, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, config.MaxResponseBodySize))

		return fmt.Errorf("failed to deliver to %s: %w", inbox, &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		})
	}

	return nil
}

// parseRetryAfter parses a Retry-After header, in both the
// delay-seconds and the HTTP-date form.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if t, err := time.Parse(http.TimeFormat, value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
