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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockList_Normalizes(t *testing.T) {
	assert := assert.New(t)

	b := BlockList{DB: newTestDB(t)}

	assert.NoError(b.Add(context.Background(), " Evil.Example "))

	blocked, err := b.Contains(context.Background(), "evil.example")
	assert.NoError(err)
	assert.True(blocked)

	blocked, err = b.Contains(context.Background(), "EVIL.EXAMPLE")
	assert.NoError(err)
	assert.True(blocked)

	assert.NoError(b.Remove(context.Background(), "evil.example"))

	blocked, err = b.Contains(context.Background(), "evil.example")
	assert.NoError(err)
	assert.False(blocked)
}

func writeBlocklist(t *testing.T, content string) string {
	f, err := os.CreateTemp("", "blocklist-*.csv")
	assert.NoError(t, err)

	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	_, err = f.WriteString(content)
	assert.NoError(t, err)
	f.Close()

	return path
}

func TestBlockList_Import(t *testing.T) {
	assert := assert.New(t)

	b := BlockList{DB: newTestDB(t)}

	path := writeBlocklist(t, "domain,severity\nevil.example,suspend\nWorse.Example,suspend\n")

	n, err := b.importFile(context.Background(), path)
	assert.NoError(err)
	assert.Equal(2, n)

	blocked, err := b.Contains(context.Background(), "worse.example")
	assert.NoError(err)
	assert.True(blocked)
}

func TestBlockList_ImportMerges(t *testing.T) {
	assert := assert.New(t)

	b := BlockList{DB: newTestDB(t)}
	assert.NoError(b.Add(context.Background(), "old.example"))

	path := writeBlocklist(t, "domain\nnew.example\n")

	_, err := b.importFile(context.Background(), path)
	assert.NoError(err)

	// import adds, it never unblocks
	for _, domain := range []string{"old.example", "new.example"} {
		blocked, err := b.Contains(context.Background(), domain)
		assert.NoError(err)
		assert.True(blocked)
	}
}

func TestBlockList_EmptyImport(t *testing.T) {
	assert := assert.New(t)

	b := BlockList{DB: newTestDB(t)}

	// a header-only file looks truncated: refuse to treat it as empty
	path := writeBlocklist(t, "domain\n")

	n, err := b.importFile(context.Background(), path)
	assert.NoError(err)
	assert.Zero(n)
}
