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

// Package inbox dispatches verified inbound activities to their
// side effects.
package inbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/baudrate/baudrate/ap"
	"github.com/baudrate/baudrate/keys"
)

var (
	ErrActorMismatch = errors.New("actor does not match signer")
	ErrUnsupported   = errors.New("unsupported activity type")
	ErrNotFound      = errors.New("no such local recipient")
)

// Acceptor builds and enqueues an Accept for an inbound Follow of a
// local board or user.
type Acceptor interface {
	Accept(ctx context.Context, kind keys.Kind, name string, follow *ap.Activity, follower *ap.Actor) error
}

// ContentModel applies remote content to the forum.
type ContentModel interface {
	BoardExists(ctx context.Context, name string, federatedOnly bool) (bool, error)
	UserExists(ctx context.Context, name string) (bool, error)
	CreateRemoteComment(ctx context.Context, board, author string, obj *ap.Object) error
	UpdateRemoteComment(ctx context.Context, author string, obj *ap.Object) error
	DeleteRemoteComment(ctx context.Context, id, by string) error
	RecordLike(ctx context.Context, object, liker string) error
	DeleteLike(ctx context.Context, object, liker string) error
	RecordShare(ctx context.Context, object, by, activity string) error
	DeleteShare(ctx context.Context, object, by string) error
	FileReport(ctx context.Context, reporter, object, note string) error
}

// Inbox applies inbound activities: exactly once per activity ID, and
// only on behalf of the actor that signed the request.
type Inbox struct {
	Domain   string
	DB       *sql.DB
	Forum    ContentModel
	Acceptor Acceptor
}

// Process applies one verified activity. sender is the actor that
// signed the HTTP request; it must be the activity's actor.
func (in *Inbox) Process(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	if activity.Actor == "" || activity.Actor != sender.ID {
		return fmt.Errorf("%s does not belong to %s: %w", activity.ID, sender.ID, ErrActorMismatch)
	}

	// the activity ID is claimed before any side effect; a duplicate
	// (e.g. the same activity through two inboxes) is dropped here
	res, err := in.DB.ExecContext(ctx, `INSERT INTO processed(id) VALUES(?) ON CONFLICT(id) DO NOTHING`, activity.ID)
	if err != nil {
		return fmt.Errorf("failed to mark %s as processed: %w", activity.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		slog.Debug("Skipping processed activity", "id", activity.ID)
		return nil
	}

	if err := in.dispatch(ctx, activity, sender); err != nil {
		// release the ID so the sender can retry
		if _, deleteErr := in.DB.ExecContext(ctx, `delete from processed where id = ?`, activity.ID); deleteErr != nil {
			slog.Warn("Failed to unmark activity", "id", activity.ID, "error", deleteErr)
		}
		return err
	}

	return nil
}

func (in *Inbox) dispatch(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	switch activity.Type {
	case ap.Follow:
		return in.follow(ctx, activity, sender)

	case ap.Accept:
		return in.accept(ctx, activity, sender)

	case ap.Reject:
		return in.reject(ctx, activity, sender)

	case ap.Undo:
		return in.undo(ctx, activity, sender)

	case ap.Create:
		return in.create(ctx, activity, sender)

	case ap.Update:
		return in.update(ctx, activity, sender)

	case ap.Delete:
		return in.delete(ctx, activity, sender)

	case ap.Announce:
		return in.announce(ctx, activity, sender)

	case ap.Like:
		return in.like(ctx, activity, sender)

	case ap.Flag:
		return in.flag(ctx, activity, sender)

	default:
		return fmt.Errorf("cannot process %s: %w", activity.ID, ErrUnsupported)
	}
}

// localActor maps an actor ID on this server to a board or user name.
func (in *Inbox) localActor(id string) (keys.Kind, string, bool) {
	u, err := url.Parse(id)
	if err != nil || u.Host != in.Domain {
		return "", "", false
	}

	if name, ok := strings.CutPrefix(u.Path, "/b/"); ok && name != "" && !strings.Contains(name, "/") {
		return keys.Board, name, true
	}

	if name, ok := strings.CutPrefix(u.Path, "/user/"); ok && name != "" && !strings.Contains(name, "/") {
		return keys.User, name, true
	}

	return "", "", false
}

// localObject determines if an object ID lives on this server.
func (in *Inbox) localObject(id string) bool {
	u, err := url.Parse(id)
	return err == nil && u.Host == in.Domain
}

func (in *Inbox) follow(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	followed := activity.ObjectID()

	kind, name, ok := in.localActor(followed)
	if !ok {
		return fmt.Errorf("cannot follow %s: %w", followed, ErrNotFound)
	}

	var exists bool
	var err error
	switch kind {
	case keys.Board:
		exists, err = in.Forum.BoardExists(ctx, name, true)
	case keys.User:
		exists, err = in.Forum.UserExists(ctx, name)
	}
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("cannot follow %s: %w", followed, ErrNotFound)
	}

	// duplicate follows collapse into the existing row
	if _, err := in.DB.ExecContext(
		ctx,
		`INSERT INTO follows(id, local, remote, direction, accepted) VALUES($1, $2, $3, 'in', 1) ON CONFLICT(local, remote, direction) DO UPDATE SET id = $1`,
		activity.ID,
		followed,
		sender.ID,
	); err != nil {
		return fmt.Errorf("failed to record follow %s: %w", activity.ID, err)
	}

	slog.Info("Accepting follow", "follow", activity.ID, "followed", followed, "follower", sender.ID)
	return in.Acceptor.Accept(ctx, kind, name, activity, sender)
}

func (in *Inbox) accept(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	followID := activity.ObjectID()
	if followID == "" {
		return fmt.Errorf("cannot accept %s: %w", activity.ID, ErrUnsupported)
	}

	if _, err := in.DB.ExecContext(
		ctx,
		`UPDATE follows SET accepted = 1 WHERE id = ? AND direction = 'out' AND remote = ?`,
		followID,
		sender.ID,
	); err != nil {
		return fmt.Errorf("failed to accept follow %s: %w", followID, err)
	}

	return nil
}

func (in *Inbox) reject(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	followID := activity.ObjectID()

	if _, err := in.DB.ExecContext(
		ctx,
		`delete from follows where id = ? and direction = 'out' and remote = ?`,
		followID,
		sender.ID,
	); err != nil {
		return fmt.Errorf("failed to reject follow %s: %w", followID, err)
	}

	return nil
}

func (in *Inbox) undo(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	inner, ok := activity.Object.(*ap.Activity)
	if !ok {
		// Undo of a bare ID: only follows can be undone this way
		if id := activity.ObjectID(); id != "" {
			_, err := in.DB.ExecContext(ctx, `delete from follows where id = ? and remote = ? and direction = 'in'`, id, sender.ID)
			return err
		}
		return fmt.Errorf("cannot undo %s: %w", activity.ID, ErrUnsupported)
	}

	// only the actor that did something can undo it
	if inner.Actor != sender.ID {
		return fmt.Errorf("cannot undo %s: %w", inner.ID, ErrActorMismatch)
	}

	switch inner.Type {
	case ap.Follow:
		if _, err := in.DB.ExecContext(ctx, `delete from follows where local = ? and remote = ? and direction = 'in'`, inner.ObjectID(), sender.ID); err != nil {
			return fmt.Errorf("failed to undo follow %s: %w", inner.ID, err)
		}
		return nil

	case ap.Like:
		return in.Forum.DeleteLike(ctx, inner.ObjectID(), sender.ID)

	case ap.Announce:
		return in.Forum.DeleteShare(ctx, inner.ObjectID(), sender.ID)

	default:
		slog.Debug("Ignoring undo", "id", activity.ID, "inner", inner.Type)
		return nil
	}
}

func (in *Inbox) create(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	obj, ok := activity.Object.(*ap.Object)
	if !ok {
		return fmt.Errorf("cannot process %s: %w", activity.ID, ErrUnsupported)
	}

	if obj.AttributedTo != sender.ID {
		return fmt.Errorf("%s is not attributed to %s: %w", obj.ID, sender.ID, ErrActorMismatch)
	}

	board, ok := in.board(obj)
	if !ok {
		return fmt.Errorf("cannot file %s: %w", obj.ID, ErrNotFound)
	}

	if exists, err := in.Forum.BoardExists(ctx, board, true); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("cannot file %s: %w", obj.ID, ErrNotFound)
	}

	return in.Forum.CreateRemoteComment(ctx, board, sender.ID, obj)
}

// board finds the local board an object is addressed to, through its
// to and cc audiences or its parent.
func (in *Inbox) board(obj *ap.Object) (string, bool) {
	var found string
	ok := false

	for _, audience := range []*ap.Audience{&obj.To, &obj.CC} {
		audience.Range(func(id string) bool {
			if kind, name, local := in.localActor(id); local && kind == keys.Board {
				found = name
				ok = true
				return false
			}
			return true
		})
		if ok {
			return found, true
		}
	}

	return "", false
}

func (in *Inbox) update(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	obj, ok := activity.Object.(*ap.Object)
	if !ok {
		return fmt.Errorf("cannot process %s: %w", activity.ID, ErrUnsupported)
	}

	if obj.AttributedTo != "" && obj.AttributedTo != sender.ID {
		return fmt.Errorf("%s is not attributed to %s: %w", obj.ID, sender.ID, ErrActorMismatch)
	}

	return in.Forum.UpdateRemoteComment(ctx, sender.ID, obj)
}

func (in *Inbox) delete(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	id := activity.ObjectID()
	if id == "" {
		return fmt.Errorf("cannot process %s: %w", activity.ID, ErrUnsupported)
	}

	// a Delete for the actor itself removes everything we hold for it
	if id == sender.ID {
		if _, err := in.DB.ExecContext(ctx, `delete from follows where remote = ?`, id); err != nil {
			return err
		}
		if _, err := in.DB.ExecContext(ctx, `delete from actors where id = ?`, id); err != nil {
			return err
		}
		return nil
	}

	return in.Forum.DeleteRemoteComment(ctx, id, sender.ID)
}

func (in *Inbox) announce(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	object := activity.ObjectID()
	if object == "" {
		return fmt.Errorf("cannot process %s: %w", activity.ID, ErrUnsupported)
	}

	// boosts of things hosted elsewhere are not ours to count
	if !in.localObject(object) {
		slog.Debug("Ignoring share of foreign object", "id", activity.ID, "object", object)
		return nil
	}

	return in.Forum.RecordShare(ctx, object, sender.ID, activity.ID)
}

func (in *Inbox) like(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	object := activity.ObjectID()
	if object == "" {
		return fmt.Errorf("cannot process %s: %w", activity.ID, ErrUnsupported)
	}

	if !in.localObject(object) {
		slog.Debug("Ignoring like of foreign object", "id", activity.ID, "object", object)
		return nil
	}

	return in.Forum.RecordLike(ctx, object, sender.ID)
}

func (in *Inbox) flag(ctx context.Context, activity *ap.Activity, sender *ap.Actor) error {
	object := activity.ObjectID()
	if object == "" {
		return fmt.Errorf("cannot process %s: %w", activity.ID, ErrUnsupported)
	}

	if !in.localObject(object) {
		slog.Debug("Ignoring report of foreign object", "id", activity.ID, "object", object)
		return nil
	}

	return in.Forum.FileReport(ctx, sender.ID, object, activity.Content)
}
