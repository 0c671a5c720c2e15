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

// Package forum stores boards and the remote content attached to them.
package forum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/baudrate/baudrate/ap"
	"github.com/baudrate/baudrate/text/plain"
	"github.com/baudrate/baudrate/text/sanitize"
)

var (
	ErrNoSuchPost  = errors.New("no such post")
	ErrNotAuthor   = errors.New("actor is not the author")
	ErrNoSuchBoard = errors.New("no such board")
)

// Forum stores boards, remote comments, likes, shares and reports.
type Forum struct {
	DB *sql.DB
}

// CreateBoard creates a board. Federated boards accept remote follows
// and remote comments; others are invisible to the fediverse.
func (f *Forum) CreateBoard(ctx context.Context, name, title string, federated bool) error {
	if _, err := f.DB.ExecContext(
		ctx,
		`INSERT INTO boards(name, title, federated) VALUES(?,?,?) ON CONFLICT(name) DO UPDATE SET title = excluded.title, federated = excluded.federated`,
		name,
		title,
		federated,
	); err != nil {
		return fmt.Errorf("failed to create board %s: %w", name, err)
	}
	return nil
}

// CreateUser registers a local user.
func (f *Forum) CreateUser(ctx context.Context, name string) error {
	if _, err := f.DB.ExecContext(ctx, `INSERT OR IGNORE INTO users(name) VALUES(?)`, name); err != nil {
		return fmt.Errorf("failed to create user %s: %w", name, err)
	}
	return nil
}

// UserExists determines if a local user exists.
func (f *Forum) UserExists(ctx context.Context, name string) (bool, error) {
	var exists int
	if err := f.DB.QueryRowContext(ctx, `select exists (select 1 from users where name = ?)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", name, err)
	}
	return exists == 1, nil
}

// BoardExists determines if a board exists, optionally requiring it to
// be federated.
func (f *Forum) BoardExists(ctx context.Context, name string, federatedOnly bool) (bool, error) {
	var exists int
	var err error
	if federatedOnly {
		err = f.DB.QueryRowContext(ctx, `select exists (select 1 from boards where name = ? and federated = 1)`, name).Scan(&exists)
	} else {
		err = f.DB.QueryRowContext(ctx, `select exists (select 1 from boards where name = ?)`, name).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check board %s: %w", name, err)
	}
	return exists == 1, nil
}

// CreateRemoteComment files a remote post under a board. Content is
// sanitized on the way in; raw remote markup is never stored.
func (f *Forum) CreateRemoteComment(ctx context.Context, board, author string, obj *ap.Object) error {
	content := sanitize.HTML(obj.Content)

	if _, err := f.DB.ExecContext(
		ctx,
		`INSERT INTO remote_posts(id, board, author, content, in_reply_to) VALUES(?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		obj.ID,
		board,
		author,
		content,
		obj.InReplyTo,
	); err != nil {
		return fmt.Errorf("failed to store %s: %w", obj.ID, err)
	}

	slog.Info("Stored remote comment", "id", obj.ID, "board", board, "author", author, "excerpt", plain.Excerpt(content, 64))
	return nil
}

// UpdateRemoteComment replaces the content of a remote post, but only
// for its author.
func (f *Forum) UpdateRemoteComment(ctx context.Context, author string, obj *ap.Object) error {
	res, err := f.DB.ExecContext(
		ctx,
		`UPDATE remote_posts SET content = ?, updated = UNIXEPOCH() WHERE id = ? AND author = ? AND deleted = 0`,
		sanitize.HTML(obj.Content),
		obj.ID,
		author,
	)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", obj.ID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update %s: %w", obj.ID, ErrNoSuchPost)
	}

	return nil
}

// DeleteRemoteComment soft-deletes a remote post, but only for its
// author. The row remains so replies keep their context.
func (f *Forum) DeleteRemoteComment(ctx context.Context, id, by string) error {
	res, err := f.DB.ExecContext(
		ctx,
		`UPDATE remote_posts SET deleted = 1, content = '', updated = UNIXEPOCH() WHERE id = ? AND author = ?`,
		id,
		by,
	)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to delete %s: %w", id, ErrNoSuchPost)
	}

	return nil
}

// RecordLike records a like; duplicates by the same actor collapse.
func (f *Forum) RecordLike(ctx context.Context, object, liker string) error {
	if _, err := f.DB.ExecContext(ctx, `INSERT OR IGNORE INTO likes(object, liker) VALUES(?,?)`, object, liker); err != nil {
		return fmt.Errorf("failed to record like on %s: %w", object, err)
	}
	return nil
}

// DeleteLike removes a like; removing a like that was never recorded
// is a no-op.
func (f *Forum) DeleteLike(ctx context.Context, object, liker string) error {
	if _, err := f.DB.ExecContext(ctx, `delete from likes where object = ? and liker = ?`, object, liker); err != nil {
		return fmt.Errorf("failed to delete like on %s: %w", object, err)
	}
	return nil
}

// RecordShare records a boost of an object. A repeated boost by the
// same actor collapses into one row carrying the latest activity ID.
func (f *Forum) RecordShare(ctx context.Context, object, by, activity string) error {
	if _, err := f.DB.ExecContext(ctx, `INSERT INTO shares(object, by, activity) VALUES(?,?,?) ON CONFLICT(object, by) DO UPDATE SET activity = excluded.activity`, object, by, activity); err != nil {
		return fmt.Errorf("failed to record share of %s: %w", object, err)
	}
	return nil
}

// DeleteShare removes a boost. The row is keyed by object and actor,
// so an undo matches no matter which of the actor's boost activities
// it wraps.
func (f *Forum) DeleteShare(ctx context.Context, object, by string) error {
	if _, err := f.DB.ExecContext(ctx, `delete from shares where object = ? and by = ?`, object, by); err != nil {
		return fmt.Errorf("failed to delete share of %s: %w", object, err)
	}
	return nil
}

// FileReport stores a remote moderation report for operator review.
func (f *Forum) FileReport(ctx context.Context, reporter, object, note string) error {
	if _, err := f.DB.ExecContext(ctx, `INSERT INTO reports(reporter, object, note) VALUES(?,?,?)`, reporter, object, plain.FromHTML(note)); err != nil {
		return fmt.Errorf("failed to file report on %s: %w", object, err)
	}

	slog.Info("Filed remote report", "reporter", reporter, "object", object)
	return nil
}

// LikeCount returns the number of likes an object has received.
func (f *Forum) LikeCount(ctx context.Context, object string) (int, error) {
	var n int
	if err := f.DB.QueryRowContext(ctx, `select count(*) from likes where object = ?`, object).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
