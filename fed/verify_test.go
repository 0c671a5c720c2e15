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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	"github.com/baudrate/baudrate/ap"
	"github.com/baudrate/baudrate/httpsig"
	"github.com/stretchr/testify/assert"
)

func pemEncode(t *testing.T, pub *rsa.PublicKey) string {
	raw, err := x509.MarshalPKIXPublicKey(pub)
	assert.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: raw}))
}

func signedRequest(t *testing.T, priv *rsa.PrivateKey, keyID string, body []byte) *http.Request {
	r, err := http.NewRequest(http.MethodPost, "https://forum.example/inbox", bytes.NewReader(body))
	assert.NoError(t, err)
	r.Header.Set("Host", "forum.example")
	r.Header.Set("Content-Type", "application/activity+json")

	assert.NoError(t, httpsig.Sign(r, httpsig.Key{ID: keyID, PrivateKey: priv}, time.Now()))
	return r
}

func cacheActor(t *testing.T, resolver *Resolver, actor *ap.Actor) {
	raw, err := json.Marshal(actor)
	assert.NoError(t, err)

	_, err = resolver.DB.Exec(`INSERT INTO actors(id, host, actor, fetched) VALUES(?, 'other.example', ?, UNIXEPOCH())`, actor.ID, string(raw))
	assert.NoError(t, err)
}

func TestVerify_HappyFlow(t *testing.T) {
	assert := assert.New(t)
	resolver, _ := newTestResolver(t)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(err)

	const id = "https://other.example/user/alice"
	cacheActor(t, resolver, &ap.Actor{
		ID:    id,
		Type:  ap.Person,
		Inbox: id + "/inbox",
		PublicKey: ap.PublicKey{
			ID:           id + "#main-key",
			Owner:        id,
			PublicKeyPem: pemEncode(t, &priv.PublicKey),
		},
	})

	v := Verifier{Domain: "forum.example", Resolver: resolver}

	body := []byte(`{"id":"a"}`)
	actor, err := v.Verify(context.Background(), signedRequest(t, priv, id+"#main-key", body), body, time.Now(), time.Second*30)
	assert.NoError(err)
	assert.Equal(id, actor.ID)
}

func TestVerify_RefreshAfterRotation(t *testing.T) {
	assert := assert.New(t)
	resolver, client := newTestResolver(t)

	oldKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(err)
	newKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(err)

	const id = "https://other.example/user/alice"

	// the cache holds the pre-rotation key
	cacheActor(t, resolver, &ap.Actor{
		ID:    id,
		Type:  ap.Person,
		Inbox: id + "/inbox",
		PublicKey: ap.PublicKey{
			ID:           id + "#main-key",
			Owner:        id,
			PublicKeyPem: pemEncode(t, &oldKey.PublicKey),
		},
	})

	fresh, err := json.Marshal(&ap.Actor{
		ID:    id,
		Type:  ap.Person,
		Inbox: id + "/inbox",
		PublicKey: ap.PublicKey{
			ID:           id + "#main-key",
			Owner:        id,
			PublicKeyPem: pemEncode(t, &newKey.PublicKey),
		},
	})
	assert.NoError(err)
	client.json(id+"#main-key", string(fresh))

	v := Verifier{Domain: "forum.example", Resolver: resolver}

	body := []byte(`{"id":"a"}`)
	actor, err := v.Verify(context.Background(), signedRequest(t, newKey, id+"#main-key", body), body, time.Now(), time.Second*30)
	assert.NoError(err)
	assert.Equal(id, actor.ID)

	// exactly one refresh
	assert.Equal(1, client.calls[id+"#main-key"])
}

func TestVerify_WrongKey(t *testing.T) {
	assert := assert.New(t)
	resolver, client := newTestResolver(t)

	cachedKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(err)
	wrongKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(err)

	const id = "https://other.example/user/alice"

	actor := ap.Actor{
		ID:    id,
		Type:  ap.Person,
		Inbox: id + "/inbox",
		PublicKey: ap.PublicKey{
			ID:           id + "#main-key",
			Owner:        id,
			PublicKeyPem: pemEncode(t, &cachedKey.PublicKey),
		},
	}
	cacheActor(t, resolver, &actor)

	raw, err := json.Marshal(&actor)
	assert.NoError(err)
	client.json(id+"#main-key", string(raw))

	v := Verifier{Domain: "forum.example", Resolver: resolver}

	body := []byte(`{"id":"a"}`)
	_, err = v.Verify(context.Background(), signedRequest(t, wrongKey, id+"#main-key", body), body, time.Now(), time.Second*30)
	assert.ErrorIs(err, httpsig.ErrSignatureMismatch)

	// the refresh happens once, then verification fails for good
	assert.Equal(1, client.calls[id+"#main-key"])
}
