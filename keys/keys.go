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

// Package keys generates, stores and rotates actor keypairs.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"

	"github.com/baudrate/baudrate/data"
	"github.com/baudrate/baudrate/httpsig"
	"golang.org/x/sync/semaphore"
)

// Kind is the kind of local actor a keypair belongs to.
type Kind string

const (
	Site  Kind = "site"
	Board Kind = "board"
	User  Kind = "user"
)

const keyBits = 2048

// limit the number of concurrent keypair generations
var sem = semaphore.NewWeighted(2)

// Pair is a PEM-encoded keypair.
type Pair struct {
	PrivateKeyPem string
	PublicKeyPem  string
}

// PrivateKey parses the private half of the pair.
func (p Pair) PrivateKey() (any, error) {
	return data.ParsePrivateKey(p.PrivateKeyPem)
}

// Manager generates and stores keypairs, one per (kind, actor id).
type Manager struct {
	DB *sql.DB
}

func generate(ctx context.Context) (Pair, error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return Pair{}, fmt.Errorf("failed to acquire semaphore: %w", err)
	}
	defer sem.Release(1)

	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return Pair{}, fmt.Errorf("failed to generate private key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return Pair{}, fmt.Errorf("failed to marshal private key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return Pair{}, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return Pair{
		PrivateKeyPem: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})),
		PublicKeyPem:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})),
	}, nil
}

// Ensure returns the keypair for an actor, generating one if none exists.
// It is idempotent: concurrent callers race on the keypairs primary key
// and all observe the same winning pair.
func (m *Manager) Ensure(ctx context.Context, kind Kind, actorID string) (Pair, error) {
	var pair Pair
	if err := m.DB.QueryRowContext(ctx, `select privkey, pubkey from keypairs where kind = ? and actor_id = ?`, kind, actorID).Scan(&pair.PrivateKeyPem, &pair.PublicKeyPem); err == nil {
		return pair, nil
	}

	fresh, err := generate(ctx)
	if err != nil {
		return Pair{}, err
	}

	if _, err := m.DB.ExecContext(
		ctx,
		`INSERT INTO keypairs(kind, actor_id, privkey, pubkey) VALUES(?,?,?,?) ON CONFLICT(kind, actor_id) DO NOTHING`,
		kind,
		actorID,
		fresh.PrivateKeyPem,
		fresh.PublicKeyPem,
	); err != nil {
		return Pair{}, fmt.Errorf("failed to store keypair for %s %s: %w", kind, actorID, err)
	}

	// another caller may have won the insert
	if err := m.DB.QueryRowContext(ctx, `select privkey, pubkey from keypairs where kind = ? and actor_id = ?`, kind, actorID).Scan(&pair.PrivateKeyPem, &pair.PublicKeyPem); err != nil {
		return Pair{}, fmt.Errorf("failed to fetch keypair for %s %s: %w", kind, actorID, err)
	}

	return pair, nil
}

// Rotate unconditionally replaces an actor's keypair. Requests signed
// with the previous key fail verification from this moment on: there is
// no overlap window.
func (m *Manager) Rotate(ctx context.Context, kind Kind, actorID string) (Pair, error) {
	fresh, err := generate(ctx)
	if err != nil {
		return Pair{}, err
	}

	if _, err := m.DB.ExecContext(
		ctx,
		`INSERT INTO keypairs(kind, actor_id, privkey, pubkey, rotated) VALUES($1, $2, $3, $4, UNIXEPOCH()) ON CONFLICT(kind, actor_id) DO UPDATE SET privkey = $3, pubkey = $4, rotated = UNIXEPOCH()`,
		kind,
		actorID,
		fresh.PrivateKeyPem,
		fresh.PublicKeyPem,
	); err != nil {
		return Pair{}, fmt.Errorf("failed to rotate keypair for %s %s: %w", kind, actorID, err)
	}

	return fresh, nil
}

// SigningKey returns a ready-to-use signing key for an actor.
func (m *Manager) SigningKey(ctx context.Context, kind Kind, actorID, keyID string) (httpsig.Key, error) {
	pair, err := m.Ensure(ctx, kind, actorID)
	if err != nil {
		return httpsig.Key{}, err
	}

	priv, err := pair.PrivateKey()
	if err != nil {
		return httpsig.Key{}, fmt.Errorf("failed to parse private key for %s %s: %w", kind, actorID, err)
	}

	return httpsig.Key{ID: keyID, PrivateKey: priv}, nil
}
