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
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/baudrate/baudrate/cfg"
	"github.com/baudrate/baudrate/data"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func newTestDB(t *testing.T) *sql.DB {
	f, err := os.CreateTemp("", "baudrate-*.sqlite3")
	assert.NoError(t, err)
	f.Close()

	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	assert.NoError(t, data.Migrate(context.Background(), db))
	return db
}

func newTestConfig() *cfg.Config {
	var c cfg.Config
	c.FillDefaults()
	return &c
}

// testClient serves canned responses by URL and counts requests.
type testClient struct {
	responses map[string]func(*http.Request) (*http.Response, error)
	calls     map[string]int
}

func newTestClient() *testClient {
	return &testClient{
		responses: map[string]func(*http.Request) (*http.Response, error){},
		calls:     map[string]int{},
	}
}

func (c *testClient) Do(r *http.Request) (*http.Response, error) {
	c.calls[r.URL.String()]++

	f, ok := c.responses[r.URL.String()]
	if !ok {
		return nil, fmt.Errorf("unexpected request to %s", r.URL)
	}

	return f(r)
}

func (c *testClient) status(url string, code int) {
	c.responses[url] = func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: code,
			Header:     http.Header{},
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	}
}

func (c *testClient) json(url, body string) {
	c.responses[url] = func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			ContentLength: int64(len(body)),
			Header:        http.Header{},
			Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		}, nil
	}
}

func actorDocument(id string) string {
	return fmt.Sprintf(`{"id":%q,"type":"Person","preferredUsername":"x","inbox":%q,"publicKey":{"id":%q,"owner":%q,"publicKeyPem":""}}`, id, id+"/inbox", id+"#main-key", id)
}
