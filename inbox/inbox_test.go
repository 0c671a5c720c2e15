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

package inbox

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/baudrate/baudrate/ap"
	"github.com/baudrate/baudrate/data"
	"github.com/baudrate/baudrate/forum"
	"github.com/baudrate/baudrate/keys"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

type testAcceptor struct {
	accepted []string
	kinds    []keys.Kind
}

func (a *testAcceptor) Accept(ctx context.Context, kind keys.Kind, name string, follow *ap.Activity, follower *ap.Actor) error {
	a.accepted = append(a.accepted, follow.ID)
	a.kinds = append(a.kinds, kind)
	return nil
}

func newTestInbox(t *testing.T) (*Inbox, *testAcceptor) {
	f, err := os.CreateTemp("", "baudrate-*.sqlite3")
	assert.NoError(t, err)
	f.Close()

	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	assert.NoError(t, data.Migrate(context.Background(), db))

	boards := forum.Forum{DB: db}
	assert.NoError(t, boards.CreateBoard(context.Background(), "retro", "Retrocomputing", true))
	assert.NoError(t, boards.CreateBoard(context.Background(), "private", "Local only", false))
	assert.NoError(t, boards.CreateUser(context.Background(), "bob"))

	acceptor := testAcceptor{}
	return &Inbox{
		Domain:   "forum.example",
		DB:       db,
		Forum:    &boards,
		Acceptor: &acceptor,
	}, &acceptor
}

func remoteActor(id string) *ap.Actor {
	return &ap.Actor{
		ID:    id,
		Type:  ap.Person,
		Inbox: id + "/inbox",
	}
}

func follow(id, actor, board string) *ap.Activity {
	return &ap.Activity{
		ID:     id,
		Type:   ap.Follow,
		Actor:  actor,
		Object: board,
	}
}

func TestFollow_AcceptedOnce(t *testing.T) {
	assert := assert.New(t)
	in, acceptor := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")
	f := follow("https://other.example/follow/1", sender.ID, "https://forum.example/b/retro")

	assert.NoError(in.Process(context.Background(), f, sender))

	// the same activity again is dropped
	assert.NoError(in.Process(context.Background(), f, sender))

	var follows int
	assert.NoError(in.DB.QueryRow(`select count(*) from follows`).Scan(&follows))
	assert.Equal(1, follows)
	assert.Len(acceptor.accepted, 1)

	// a fresh follow by the same actor collapses into the same row
	// but is acknowledged again
	assert.NoError(in.Process(context.Background(), follow("https://other.example/follow/2", sender.ID, "https://forum.example/b/retro"), sender))

	assert.NoError(in.DB.QueryRow(`select count(*) from follows`).Scan(&follows))
	assert.Equal(1, follows)
	assert.Len(acceptor.accepted, 2)
}

func TestFollow_UserInbox(t *testing.T) {
	assert := assert.New(t)
	in, acceptor := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")
	f := follow("https://other.example/follow/1", sender.ID, "https://forum.example/user/bob")

	// the same signed follow twice: exactly one relationship
	assert.NoError(in.Process(context.Background(), f, sender))
	assert.NoError(in.Process(context.Background(), f, sender))

	var follows int
	assert.NoError(in.DB.QueryRow(`select count(*) from follows where local = 'https://forum.example/user/bob' and remote = ? and direction = 'in' and accepted = 1`, sender.ID).Scan(&follows))
	assert.Equal(1, follows)

	assert.Len(acceptor.accepted, 1)
	assert.Equal([]keys.Kind{keys.User}, acceptor.kinds)
}

func TestFollow_UnknownUser(t *testing.T) {
	assert := assert.New(t)
	in, acceptor := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	err := in.Process(context.Background(), follow("https://other.example/follow/1", sender.ID, "https://forum.example/user/nosuch"), sender)
	assert.ErrorIs(err, ErrNotFound)
	assert.Empty(acceptor.accepted)
}

func TestFollow_UnknownBoard(t *testing.T) {
	assert := assert.New(t)
	in, acceptor := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	err := in.Process(context.Background(), follow("https://other.example/follow/1", sender.ID, "https://forum.example/b/nosuch"), sender)
	assert.ErrorIs(err, ErrNotFound)
	assert.Empty(acceptor.accepted)
}

func TestFollow_NotFederated(t *testing.T) {
	assert := assert.New(t)
	in, acceptor := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	err := in.Process(context.Background(), follow("https://other.example/follow/1", sender.ID, "https://forum.example/b/private"), sender)
	assert.ErrorIs(err, ErrNotFound)
	assert.Empty(acceptor.accepted)
}

func TestProcess_ActorMismatch(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	err := in.Process(context.Background(), follow("https://other.example/follow/1", "https://other.example/user/eve", "https://forum.example/b/retro"), sender)
	assert.ErrorIs(err, ErrActorMismatch)

	// nothing is written on a spoofed activity
	var processed int
	assert.NoError(in.DB.QueryRow(`select count(*) from processed`).Scan(&processed))
	assert.Zero(processed)
}

func TestUndo_Follow(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")
	f := follow("https://other.example/follow/1", sender.ID, "https://forum.example/b/retro")

	assert.NoError(in.Process(context.Background(), f, sender))

	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/undo/1",
		Type:   ap.Undo,
		Actor:  sender.ID,
		Object: f,
	}, sender))

	var follows int
	assert.NoError(in.DB.QueryRow(`select count(*) from follows`).Scan(&follows))
	assert.Zero(follows)
}

func TestUndo_SomeoneElsesFollow(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	alice := remoteActor("https://other.example/user/alice")
	eve := remoteActor("https://other.example/user/eve")
	f := follow("https://other.example/follow/1", alice.ID, "https://forum.example/b/retro")

	assert.NoError(in.Process(context.Background(), f, alice))

	err := in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/undo/1",
		Type:   ap.Undo,
		Actor:  eve.ID,
		Object: f,
	}, eve)
	assert.ErrorIs(err, ErrActorMismatch)

	var follows int
	assert.NoError(in.DB.QueryRow(`select count(*) from follows`).Scan(&follows))
	assert.Equal(1, follows)
}

func note(id, author, board string) *ap.Object {
	obj := ap.Object{
		ID:           id,
		Type:         ap.Note,
		AttributedTo: author,
		Content:      "<p>hi</p>",
	}
	obj.To.Add(board)
	obj.CC.Add(ap.Public)
	return &obj
}

func TestCreate_StoresSanitized(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")
	obj := note("https://other.example/note/1", sender.ID, "https://forum.example/b/retro")
	obj.Content = `<p>hi</p><script>alert(1)</script>`

	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/create/1",
		Type:   ap.Create,
		Actor:  sender.ID,
		Object: obj,
	}, sender))

	var content, board string
	assert.NoError(in.DB.QueryRow(`select content, board from remote_posts where id = ?`, obj.ID).Scan(&content, &board))
	assert.Equal("<p>hi</p>", content)
	assert.Equal("retro", board)
}

func TestCreate_WrongAttribution(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")
	obj := note("https://other.example/note/1", "https://other.example/user/eve", "https://forum.example/b/retro")

	err := in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/create/1",
		Type:   ap.Create,
		Actor:  sender.ID,
		Object: obj,
	}, sender)
	assert.ErrorIs(err, ErrActorMismatch)
}

func TestCreate_NotAddressedToBoard(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")
	obj := ap.Object{
		ID:           "https://other.example/note/1",
		Type:         ap.Note,
		AttributedTo: sender.ID,
		Content:      "<p>hi</p>",
	}
	obj.To.Add(ap.Public)

	err := in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/create/1",
		Type:   ap.Create,
		Actor:  sender.ID,
		Object: &obj,
	}, sender)
	assert.ErrorIs(err, ErrNotFound)
}

func TestDelete_OnlyAuthor(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	alice := remoteActor("https://other.example/user/alice")
	eve := remoteActor("https://other.example/user/eve")
	obj := note("https://other.example/note/1", alice.ID, "https://forum.example/b/retro")

	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/create/1",
		Type:   ap.Create,
		Actor:  alice.ID,
		Object: obj,
	}, alice))

	assert.Error(in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/delete/1",
		Type:   ap.Delete,
		Actor:  eve.ID,
		Object: obj.ID,
	}, eve))

	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/delete/2",
		Type:   ap.Delete,
		Actor:  alice.ID,
		Object: obj.ID,
	}, alice))

	var deleted int
	assert.NoError(in.DB.QueryRow(`select deleted from remote_posts where id = ?`, obj.ID).Scan(&deleted))
	assert.Equal(1, deleted)
}

func TestLike_Collapses(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	for _, id := range []string{"https://other.example/like/1", "https://other.example/like/2"} {
		assert.NoError(in.Process(context.Background(), &ap.Activity{
			ID:     id,
			Type:   ap.Like,
			Actor:  sender.ID,
			Object: "https://forum.example/post/1",
		}, sender))
	}

	var likes int
	assert.NoError(in.DB.QueryRow(`select count(*) from likes`).Scan(&likes))
	assert.Equal(1, likes)

	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:    "https://other.example/undo/1",
		Type:  ap.Undo,
		Actor: sender.ID,
		Object: &ap.Activity{
			ID:     "https://other.example/like/1",
			Type:   ap.Like,
			Actor:  sender.ID,
			Object: "https://forum.example/post/1",
		},
	}, sender))

	assert.NoError(in.DB.QueryRow(`select count(*) from likes`).Scan(&likes))
	assert.Zero(likes)
}

func TestLike_ForeignObjectIgnored(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/like/1",
		Type:   ap.Like,
		Actor:  sender.ID,
		Object: "https://elsewhere.example/note/1",
	}, sender))

	var likes int
	assert.NoError(in.DB.QueryRow(`select count(*) from likes`).Scan(&likes))
	assert.Zero(likes)
}

func TestAnnounce_UndoMatchesAnyBoostID(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	// the same post boosted twice, under two activity IDs
	for _, id := range []string{"https://other.example/announce/1", "https://other.example/announce/2"} {
		assert.NoError(in.Process(context.Background(), &ap.Activity{
			ID:     id,
			Type:   ap.Announce,
			Actor:  sender.ID,
			Object: "https://forum.example/post/1",
		}, sender))
	}

	var shares int
	assert.NoError(in.DB.QueryRow(`select count(*) from shares`).Scan(&shares))
	assert.Equal(1, shares)

	// undoing the first boost still removes the share
	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:    "https://other.example/undo/1",
		Type:  ap.Undo,
		Actor: sender.ID,
		Object: &ap.Activity{
			ID:     "https://other.example/announce/1",
			Type:   ap.Announce,
			Actor:  sender.ID,
			Object: "https://forum.example/post/1",
		},
	}, sender))

	assert.NoError(in.DB.QueryRow(`select count(*) from shares`).Scan(&shares))
	assert.Zero(shares)
}

func TestAnnounce_ForeignObjectIgnored(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:     "https://other.example/announce/1",
		Type:   ap.Announce,
		Actor:  sender.ID,
		Object: "https://elsewhere.example/note/1",
	}, sender))

	var shares int
	assert.NoError(in.DB.QueryRow(`select count(*) from shares`).Scan(&shares))
	assert.Zero(shares)
}

func TestFlag_ForeignObjectIgnored(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:      "https://other.example/flag/1",
		Type:    ap.Flag,
		Actor:   sender.ID,
		Object:  "https://elsewhere.example/note/1",
		Content: "spam",
	}, sender))

	var reports int
	assert.NoError(in.DB.QueryRow(`select count(*) from reports`).Scan(&reports))
	assert.Zero(reports)
}

func TestFlag_FilesReport(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	assert.NoError(in.Process(context.Background(), &ap.Activity{
		ID:      "https://other.example/flag/1",
		Type:    ap.Flag,
		Actor:   sender.ID,
		Object:  "https://forum.example/post/1",
		Content: "spam",
	}, sender))

	var reporter, object string
	assert.NoError(in.DB.QueryRow(`select reporter, object from reports`).Scan(&reporter, &object))
	assert.Equal(sender.ID, reporter)
	assert.Equal("https://forum.example/post/1", object)
}

func TestProcess_Unsupported(t *testing.T) {
	assert := assert.New(t)
	in, _ := newTestInbox(t)

	sender := remoteActor("https://other.example/user/alice")

	err := in.Process(context.Background(), &ap.Activity{
		ID:    "https://other.example/activity/1",
		Type:  "Arrive",
		Actor: sender.ID,
	}, sender)
	assert.ErrorIs(err, ErrUnsupported)

	// the ID is released so a retry is not silently dropped
	err = in.Process(context.Background(), &ap.Activity{
		ID:    "https://other.example/activity/1",
		Type:  "Arrive",
		Actor: sender.ID,
	}, sender)
	assert.ErrorIs(err, ErrUnsupported)
}
