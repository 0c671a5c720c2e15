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

package data

import (
	"context"
	"database/sql"
)

// Migrate creates missing tables and indexes.
//
// Uniqueness constraints are the only concurrency-safety mechanism:
// inbound requests and delivery workers race freely and rely on
// actors.id, follows(local, remote, direction), processed.id and
// likes(object, liker) to resolve conflicts.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS actors(id TEXT NOT NULL PRIMARY KEY, host TEXT NOT NULL, actor JSON NOT NULL, inserted INTEGER DEFAULT (UNIXEPOCH()), updated INTEGER DEFAULT (UNIXEPOCH()), fetched INTEGER)`,
		`CREATE INDEX IF NOT EXISTS actorshost ON actors(host)`,
		`CREATE INDEX IF NOT EXISTS actorskey ON actors(actor->>'$.publicKey.id')`,

		`CREATE TABLE IF NOT EXISTS follows(id TEXT NOT NULL PRIMARY KEY, local TEXT NOT NULL, remote TEXT NOT NULL, direction TEXT NOT NULL, accepted INTEGER, inserted INTEGER DEFAULT (UNIXEPOCH()))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS followslocalremote ON follows(local, remote, direction)`,
		`CREATE INDEX IF NOT EXISTS followsremote ON follows(remote)`,

		`CREATE TABLE IF NOT EXISTS deliveries(id INTEGER PRIMARY KEY AUTOINCREMENT, inbox TEXT NOT NULL, activity JSON NOT NULL, sender_kind TEXT NOT NULL, sender_id TEXT NOT NULL, status TEXT NOT NULL DEFAULT 'pending', attempts INTEGER NOT NULL DEFAULT 0, next_attempt INTEGER NOT NULL DEFAULT (UNIXEPOCH()), last_error TEXT, inserted INTEGER DEFAULT (UNIXEPOCH()), updated INTEGER DEFAULT (UNIXEPOCH()))`,
		`CREATE INDEX IF NOT EXISTS deliveriespending ON deliveries(status, next_attempt)`,

		`CREATE TABLE IF NOT EXISTS keypairs(kind TEXT NOT NULL, actor_id TEXT NOT NULL, privkey TEXT NOT NULL, pubkey TEXT NOT NULL, inserted INTEGER DEFAULT (UNIXEPOCH()), rotated INTEGER, PRIMARY KEY(kind, actor_id))`,

		`CREATE TABLE IF NOT EXISTS processed(id TEXT NOT NULL PRIMARY KEY, inserted INTEGER DEFAULT (UNIXEPOCH()))`,

		`CREATE TABLE IF NOT EXISTS blocked_domains(domain TEXT NOT NULL PRIMARY KEY, inserted INTEGER DEFAULT (UNIXEPOCH()))`,

		`CREATE TABLE IF NOT EXISTS boards(name TEXT NOT NULL PRIMARY KEY, title TEXT NOT NULL DEFAULT '', federated INTEGER NOT NULL DEFAULT 0, inserted INTEGER DEFAULT (UNIXEPOCH()))`,

		`CREATE TABLE IF NOT EXISTS users(name TEXT NOT NULL PRIMARY KEY, inserted INTEGER DEFAULT (UNIXEPOCH()))`,

		`CREATE TABLE IF NOT EXISTS remote_posts(id TEXT NOT NULL PRIMARY KEY, board TEXT NOT NULL, author TEXT NOT NULL, content TEXT NOT NULL, in_reply_to TEXT, deleted INTEGER NOT NULL DEFAULT 0, inserted INTEGER DEFAULT (UNIXEPOCH()), updated INTEGER DEFAULT (UNIXEPOCH()))`,
		`CREATE INDEX IF NOT EXISTS remotepostsboard ON remote_posts(board)`,

		`CREATE TABLE IF NOT EXISTS likes(object TEXT NOT NULL, liker TEXT NOT NULL, inserted INTEGER DEFAULT (UNIXEPOCH()))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS likesobjectliker ON likes(object, liker)`,

		`CREATE TABLE IF NOT EXISTS shares(object TEXT NOT NULL, by TEXT NOT NULL, activity TEXT NOT NULL, inserted INTEGER DEFAULT (UNIXEPOCH()))`,
		`CREATE UNIQUE INDEX IF NOT EXISTS sharesobjectby ON shares(object, by)`,

		`CREATE TABLE IF NOT EXISTS reports(id INTEGER PRIMARY KEY AUTOINCREMENT, reporter TEXT NOT NULL, object TEXT NOT NULL, note TEXT NOT NULL DEFAULT '', inserted INTEGER DEFAULT (UNIXEPOCH()))`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
