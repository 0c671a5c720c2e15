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

// Package outbox builds outbound activities and hands them to the
// delivery queue.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/baudrate/baudrate/ap"
	"github.com/baudrate/baudrate/keys"
)

// Deliverer queues one activity for delivery to a set of inboxes.
type Deliverer interface {
	Enqueue(ctx context.Context, activity *ap.Activity, senderKind keys.Kind, senderID string, inboxes []string) error
}

// Publisher builds activities on behalf of local actors. Activities
// are unsigned when queued; the delivery queue signs each request with
// the sender's current key.
type Publisher struct {
	Domain string
	DB     *sql.DB
	Queue  Deliverer
}

// BoardID returns the actor ID of a local board.
func (p *Publisher) BoardID(board string) string {
	return fmt.Sprintf("https://%s/b/%s", p.Domain, board)
}

// ActorID returns the actor ID of a local actor.
func (p *Publisher) ActorID(kind keys.Kind, name string) string {
	switch kind {
	case keys.Board:
		return p.BoardID(name)
	case keys.User:
		return fmt.Sprintf("https://%s/user/%s", p.Domain, name)
	default:
		return fmt.Sprintf("https://%s/actor", p.Domain)
	}
}

// Accept responds to an inbound Follow of a local board or user.
func (p *Publisher) Accept(ctx context.Context, kind keys.Kind, name string, follow *ap.Activity, follower *ap.Actor) error {
	id, err := NewID(p.Domain)
	if err != nil {
		return err
	}

	accept := ap.Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      id,
		Type:    ap.Accept,
		Actor:   p.ActorID(kind, name),
		Object: &ap.Activity{
			ID:     follow.ID,
			Type:   ap.Follow,
			Actor:  follow.Actor,
			Object: follow.ObjectID(),
		},
	}
	accept.To.Add(follower.ID)

	return p.Queue.Enqueue(ctx, &accept, kind, name, []string{preferredInbox(follower)})
}

// Create federates a new local post to the board's followers.
func (p *Publisher) Create(ctx context.Context, board string, obj *ap.Object) error {
	id, err := NewID(p.Domain)
	if err != nil {
		return err
	}

	actor := p.BoardID(board)

	obj.To.Add(ap.Public)
	obj.CC.Add(actor + "/followers")

	create := ap.Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      id,
		Type:    ap.Create,
		Actor:   actor,
		Object:  obj,
		To:      obj.To,
		CC:      obj.CC,
	}

	return p.toFollowers(ctx, board, &create)
}

// Announce boosts a post to the board's followers.
func (p *Publisher) Announce(ctx context.Context, board, object string) error {
	id, err := NewID(p.Domain)
	if err != nil {
		return err
	}

	actor := p.BoardID(board)

	announce := ap.Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      id,
		Type:    ap.Announce,
		Actor:   actor,
		Object:  object,
	}
	announce.To.Add(ap.Public)
	announce.CC.Add(actor + "/followers")

	return p.toFollowers(ctx, board, &announce)
}

// Undo retracts a previously published activity.
func (p *Publisher) Undo(ctx context.Context, board string, inner *ap.Activity) error {
	id, err := NewID(p.Domain)
	if err != nil {
		return err
	}

	undo := ap.Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      id,
		Type:    ap.Undo,
		Actor:   p.BoardID(board),
		Object:  inner,
	}
	undo.To = inner.To
	undo.CC = inner.CC

	return p.toFollowers(ctx, board, &undo)
}

// Delete federates removal of a local post to the board's followers.
func (p *Publisher) Delete(ctx context.Context, board, object string) error {
	id, err := NewID(p.Domain)
	if err != nil {
		return err
	}

	del := ap.Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      id,
		Type:    ap.Delete,
		Actor:   p.BoardID(board),
		Object: &ap.Object{
			ID:   object,
			Type: ap.Tombstone,
		},
	}
	del.To.Add(ap.Public)

	return p.toFollowers(ctx, board, &del)
}

// Flag reports a remote object to the server that hosts its author.
func (p *Publisher) Flag(ctx context.Context, reporter keys.Kind, reporterID, object, note string, author *ap.Actor) error {
	id, err := NewID(p.Domain)
	if err != nil {
		return err
	}

	flag := ap.Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      id,
		Type:    ap.Flag,
		Actor:   p.ActorID(reporter, reporterID),
		Object:  object,
		Content: note,
	}

	return p.Queue.Enqueue(ctx, &flag, reporter, reporterID, []string{preferredInbox(author)})
}

// toFollowers queues an activity for every accepted follower of a
// board, one job per distinct inbox.
func (p *Publisher) toFollowers(ctx context.Context, board string, activity *ap.Activity) error {
	rows, err := p.DB.QueryContext(
		ctx,
		`select json(actors.actor) from follows join actors on actors.id = follows.remote where follows.local = ? and follows.direction = 'in' and follows.accepted = 1`,
		p.BoardID(board),
	)
	if err != nil {
		return fmt.Errorf("failed to list followers of %s: %w", board, err)
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var follower ap.Actor
		if err := rows.Scan(&follower); err != nil {
			return fmt.Errorf("failed to list followers of %s: %w", board, err)
		}
		inboxes = append(inboxes, preferredInbox(&follower))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(inboxes) == 0 {
		slog.Debug("No followers to deliver to", "board", board, "activity", activity.ID)
		return nil
	}

	return p.Queue.Enqueue(ctx, activity, keys.Board, board, inboxes)
}

// preferredInbox picks the shared inbox when the actor's server has
// one, collapsing per-follower jobs into one per server.
func preferredInbox(actor *ap.Actor) string {
	if shared := actor.SharedInbox(); shared != "" {
		return shared
	}
	return actor.Inbox
}
