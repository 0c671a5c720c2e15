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
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/baudrate/baudrate/ap"
	"github.com/baudrate/baudrate/data"
	"github.com/baudrate/baudrate/httpsig"
	"github.com/btcsuite/btcutil/base58"
)

var ErrKeyNotFound = errors.New("cannot find key")

// ed25519 public keys carry a two-byte multicodec prefix
var ed25519Prefix = []byte{0xed, 0x01}

// Verifier validates signed inbound requests and maps the signing key
// back to its owning actor.
type Verifier struct {
	Domain   string
	Resolver *Resolver
}

// Verify verifies the signature of r over body and returns the actor
// that owns the signing key.
//
// If the signature does not match the cached key, the actor is fetched
// again, once: the remote server may have rotated its key since the
// actor was cached.
func (v *Verifier) Verify(ctx context.Context, r *http.Request, body []byte, now time.Time, maxAge time.Duration) (*ap.Actor, error) {
	sig, err := httpsig.Extract(r, body, v.Domain, now, maxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to verify message: %w", err)
	}

	actor, err := v.Resolver.Resolve(ctx, sig.KeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", sig.KeyID, err)
	}

	if err := v.verifyWithActor(sig, actor); err == nil {
		return actor, nil
	} else if !errors.Is(err, httpsig.ErrSignatureMismatch) && !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}

	actor, refreshErr := v.Resolver.ForceRefresh(ctx, sig.KeyID)
	if refreshErr != nil {
		return nil, fmt.Errorf("failed to refresh %s: %w", sig.KeyID, refreshErr)
	}

	if err := v.verifyWithActor(sig, actor); err != nil {
		return nil, err
	}

	return actor, nil
}

func (v *Verifier) verifyWithActor(sig *httpsig.Signature, actor *ap.Actor) error {
	key, err := findKey(sig.KeyID, actor)
	if err != nil {
		return err
	}

	if err := sig.Verify(key); err != nil {
		return fmt.Errorf("failed to verify message using %s: %w", sig.KeyID, err)
	}

	return nil
}

// findKey returns the public key matching keyID in an actor document:
// either the publicKey PEM or an Ed25519 assertionMethod entry.
func findKey(keyID string, actor *ap.Actor) (any, error) {
	if actor.PublicKey.ID == keyID {
		key, err := data.ParsePublicKey(actor.PublicKey.PublicKeyPem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", keyID, err)
		}
		return key, nil
	}

	for _, method := range actor.AssertionMethod {
		if method.ID != keyID || method.Type != "Multikey" {
			continue
		}

		if len(method.PublicKeyMultibase) < 2 || method.PublicKeyMultibase[0] != 'z' {
			return nil, fmt.Errorf("%s is not base58-multibase: %w", keyID, ErrKeyNotFound)
		}

		raw := base58.Decode(method.PublicKeyMultibase[1:])
		if len(raw) != len(ed25519Prefix)+ed25519.PublicKeySize || raw[0] != ed25519Prefix[0] || raw[1] != ed25519Prefix[1] {
			return nil, fmt.Errorf("%s is not an Ed25519 key: %w", keyID, ErrKeyNotFound)
		}

		return ed25519.PublicKey(raw[len(ed25519Prefix):]), nil
	}

	return nil, fmt.Errorf("%s does not own %s: %w", actor.ID, keyID, ErrKeyNotFound)
}
