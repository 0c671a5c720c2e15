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
	"log/slog"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/baudrate/baudrate/ap"
	"github.com/baudrate/baudrate/cfg"
	"github.com/baudrate/baudrate/keys"
)

// Job statuses. A job moves pending -> in_flight -> delivered, or back
// to pending with a later next_attempt on a retriable failure. Jobs
// that fail permanently or exhaust their attempts become
// failed_permanent; an operator can retry or abandon them.
const (
	StatusPending         = "pending"
	StatusInFlight        = "in_flight"
	StatusDelivered       = "delivered"
	StatusFailedPermanent = "failed_permanent"
	StatusAbandoned       = "abandoned"
)

// Job is a single queued delivery of one activity to one inbox.
type Job struct {
	ID          int64
	Inbox       string
	Activity    string
	SenderKind  keys.Kind
	SenderID    string
	Status      string
	Attempts    int
	NextAttempt time.Time
	LastError   string
}

// Queue delivers queued activities to remote inboxes, with retries.
type Queue struct {
	Domain    string
	Config    *cfg.Config
	DB        *sql.DB
	Client    Client
	BlockList *BlockList
	Keys      *keys.Manager

	// Now is replaced in tests; nil means [time.Now].
	Now func() time.Time
}

func (q *Queue) now() time.Time {
	if q.Now == nil {
		return time.Now()
	}
	return q.Now()
}

// Enqueue adds one job per distinct inbox. The activity is serialized
// once; jobs are independent and fail independently.
func (q *Queue) Enqueue(ctx context.Context, activity *ap.Activity, senderKind keys.Kind, senderID string, inboxes []string) error {
	raw, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", activity.ID, err)
	}

	seen := map[string]struct{}{}
	for _, inbox := range inboxes {
		if inbox == "" {
			continue
		}
		if _, dup := seen[inbox]; dup {
			continue
		}
		if len(seen) == q.Config.MaxRecipients {
			slog.Warn("Dropping recipients over the fan-out cap", "activity", activity.ID, "cap", q.Config.MaxRecipients)
			break
		}
		seen[inbox] = struct{}{}

		if _, err := q.DB.ExecContext(
			ctx,
			`INSERT INTO deliveries(inbox, activity, sender_kind, sender_id, next_attempt) VALUES(?,?,?,?,?)`,
			inbox,
			string(raw),
			senderKind,
			senderID,
			q.now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to enqueue %s for %s: %w", activity.ID, inbox, err)
		}
	}

	return nil
}

// Run polls for due jobs until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	t := time.NewTicker(q.Config.DeliveryPollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-t.C:
			for {
				n, err := q.ProcessBatch(ctx)
				if err != nil {
					slog.Error("Failed to process queue", "error", err)
					break
				}
				if n == 0 {
					break
				}
			}

			q.prune(ctx)
		}
	}
}

// ProcessBatch claims up to DeliveryBatchSize due jobs and attempts
// them concurrently. It returns the number of jobs claimed.
func (q *Queue) ProcessBatch(ctx context.Context) (int, error) {
	rows, err := q.DB.QueryContext(
		ctx,
		`UPDATE deliveries SET status = 'in_flight', updated = UNIXEPOCH() WHERE id IN (SELECT id FROM deliveries WHERE status = 'pending' AND next_attempt <= ? ORDER BY next_attempt LIMIT ?) RETURNING id, inbox, activity, sender_kind, sender_id, attempts`,
		q.now().Unix(),
		q.Config.DeliveryBatchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to claim deliveries: %w", err)
	}

	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.Inbox, &job.Activity, &job.SenderKind, &job.SenderID, &job.Attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan delivery: %w", err)
		}
		jobs = append(jobs, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	ch := make(chan Job)

	for range min(q.Config.DeliveryWorkers, len(jobs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range ch {
				q.process(ctx, job)
			}
		}()
	}

	for _, job := range jobs {
		ch <- job
	}
	close(ch)
	wg.Wait()

	return len(jobs), nil
}

func (q *Queue) process(ctx context.Context, job Job) {
	err := q.attempt(ctx, job)
	attempts := job.Attempts + 1

	if err == nil {
		deliveryAttempts.WithLabelValues("delivered").Inc()
		q.finish(ctx, job.ID, StatusDelivered, attempts, 0, "")
		slog.Info("Delivered activity", "id", job.ID, "inbox", job.Inbox, "attempts", attempts)
		return
	}

	var statusError *StatusError
	retriable := true
	retryAfter := time.Duration(0)
	if errors.As(err, &statusError) {
		retriable = statusError.Temporary()
		retryAfter = statusError.RetryAfter
	} else if errors.Is(err, ErrBlockedDomain) || errors.Is(err, ErrInvalidScheme) {
		retriable = false
	}

	if !retriable || attempts >= q.Config.MaxDeliveryAttempts {
		deliveryAttempts.WithLabelValues("failed").Inc()
		q.finish(ctx, job.ID, StatusFailedPermanent, attempts, 0, err.Error())
		slog.Warn("Giving up on delivery", "id", job.ID, "inbox", job.Inbox, "attempts", attempts, "error", err)
		return
	}

	next := q.now().Add(q.backoff(attempts, retryAfter))
	deliveryAttempts.WithLabelValues("retried").Inc()
	q.finish(ctx, job.ID, StatusPending, attempts, next.Unix(), err.Error())
	slog.Warn("Failed to deliver activity", "id", job.ID, "inbox", job.Inbox, "attempts", attempts, "next", next, "error", err)
}

func (q *Queue) attempt(ctx context.Context, job Job) error {
	u, err := url.Parse(job.Inbox)
	if err != nil {
		return fmt.Errorf("cannot deliver to %s: %w", job.Inbox, err)
	}

	// the blocklist is consulted at send time, not enqueue time: a
	// domain blocked while a job waited must not receive it
	if blocked, err := q.BlockList.Contains(ctx, u.Host); err != nil {
		return err
	} else if blocked {
		return fmt.Errorf("cannot deliver to %s: %w", job.Inbox, ErrBlockedDomain)
	}

	key, err := q.Keys.SigningKey(ctx, job.SenderKind, job.SenderID, q.keyID(job.SenderKind, job.SenderID))
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, q.Config.DeliveryTimeout)
	defer cancel()

	return post(sendCtx, q.Config, q.Client, key, job.Inbox, []byte(job.Activity))
}

func (q *Queue) keyID(kind keys.Kind, actorID string) string {
	switch kind {
	case keys.Board:
		return fmt.Sprintf("https://%s/b/%s#main-key", q.Domain, actorID)
	case keys.User:
		return fmt.Sprintf("https://%s/user/%s#main-key", q.Domain, actorID)
	default:
		return fmt.Sprintf("https://%s/actor#main-key", q.Domain)
	}
}

// backoff doubles the base delay per attempt, up to the ceiling, with
// up to 10% jitter. A Retry-After longer than the computed delay wins.
func (q *Queue) backoff(attempts int, retryAfter time.Duration) time.Duration {
	delay := q.Config.DeliveryRetryBase
	for i := 1; i < attempts && delay < q.Config.DeliveryRetryCeiling; i++ {
		delay *= 2
	}
	if delay > q.Config.DeliveryRetryCeiling {
		delay = q.Config.DeliveryRetryCeiling
	}

	if retryAfter > delay {
		delay = retryAfter
	}

	return delay + time.Duration(rand.Int64N(int64(delay)/10+1))
}

func (q *Queue) finish(ctx context.Context, id int64, status string, attempts int, nextAttempt int64, lastError string) {
	if _, err := q.DB.ExecContext(
		ctx,
		`UPDATE deliveries SET status = ?, attempts = ?, next_attempt = ?, last_error = ?, updated = UNIXEPOCH() WHERE id = ?`,
		status,
		attempts,
		nextAttempt,
		lastError,
		id,
	); err != nil {
		slog.Error("Failed to update delivery", "id", id, "error", err)
	}
}

// Retry reschedules a job for immediate delivery, whatever its current
// state; only an already delivered job cannot be retried.
func (q *Queue) Retry(ctx context.Context, id int64) error {
	res, err := q.DB.ExecContext(
		ctx,
		`UPDATE deliveries SET status = 'pending', next_attempt = ?, updated = UNIXEPOCH() WHERE id = ? AND status != 'delivered'`,
		q.now().Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to retry %d: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to retry %d: already delivered", id)
	}

	return nil
}

// Abandon marks a job as given up on, by operator decision.
func (q *Queue) Abandon(ctx context.Context, id int64) error {
	if _, err := q.DB.ExecContext(
		ctx,
		`UPDATE deliveries SET status = 'abandoned', updated = UNIXEPOCH() WHERE id = ? AND status IN ('pending', 'in_flight', 'failed_permanent')`,
		id,
	); err != nil {
		return fmt.Errorf("failed to abandon %d: %w", id, err)
	}

	return nil
}

// prune deletes delivered jobs and processed activity IDs that are old
// enough to be useless.
func (q *Queue) prune(ctx context.Context) {
	if _, err := q.DB.ExecContext(
		ctx,
		`delete from deliveries where status = 'delivered' and updated < ?`,
		q.now().Add(-q.Config.DeliveredRetentionTime).Unix(),
	); err != nil {
		slog.Warn("Failed to prune deliveries", "error", err)
	}

	if _, err := q.DB.ExecContext(
		ctx,
		`delete from processed where inserted < ?`,
		q.now().Add(-q.Config.ProcessedActivityTTL).Unix(),
	); err != nil {
		slog.Warn("Failed to prune processed activities", "error", err)
	}
}

// StatusCounts returns the number of jobs per status.
func (q *Queue) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := q.DB.QueryContext(ctx, `select status, count(*) from deliveries group by status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

// Failures lists jobs that need operator attention, newest first.
func (q *Queue) Failures(ctx context.Context, limit int) ([]Job, error) {
	rows, err := q.DB.QueryContext(
		ctx,
		`select id, inbox, activity, sender_kind, sender_id, status, attempts, next_attempt, coalesce(last_error, '') from deliveries where status = 'failed_permanent' order by updated desc limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var job Job
		var next int64
		if err := rows.Scan(&job.ID, &job.Inbox, &job.Activity, &job.SenderKind, &job.SenderID, &job.Status, &job.Attempts, &next, &job.LastError); err != nil {
			return nil, err
		}
		job.NextAttempt = time.Unix(next, 0)
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// ErrorRate returns the fraction of jobs resolved within the window
// that failed permanently.
func (q *Queue) ErrorRate(ctx context.Context, window time.Duration) (float64, error) {
	var failed, total int
	if err := q.DB.QueryRowContext(
		ctx,
		`select count(case when status = 'failed_permanent' then 1 end), count(*) from deliveries where status in ('delivered', 'failed_permanent') and updated >= ?`,
		q.now().Add(-window).Unix(),
	).Scan(&failed, &total); err != nil {
		return 0, err
	}

	if total == 0 {
		return 0, nil
	}

	return float64(failed) / float64(total), nil
}
