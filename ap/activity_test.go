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

package ap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActivity_ObjectIsLink(t *testing.T) {
	assert := assert.New(t)

	var a Activity
	assert.NoError(json.Unmarshal([]byte(`{"id":"https://a.example/1","type":"Follow","actor":"https://a.example/user/x","object":"https://b.example/b/retro"}`), &a))

	assert.Equal(Follow, a.Type)
	assert.Equal("https://b.example/b/retro", a.Object)
	assert.Equal("https://b.example/b/retro", a.ObjectID())
}

func TestActivity_ObjectIsObject(t *testing.T) {
	assert := assert.New(t)

	var a Activity
	assert.NoError(json.Unmarshal([]byte(`{"id":"https://a.example/1","type":"Create","actor":"https://a.example/user/x","object":{"id":"https://a.example/note/1","type":"Note","content":"hi"}}`), &a))

	obj, ok := a.Object.(*Object)
	assert.True(ok)
	assert.Equal(Note, obj.Type)
	assert.Equal("hi", obj.Content)
	assert.Equal("https://a.example/note/1", a.ObjectID())
}

func TestActivity_ObjectIsActivity(t *testing.T) {
	assert := assert.New(t)

	var a Activity
	assert.NoError(json.Unmarshal([]byte(`{"id":"https://a.example/2","type":"Undo","actor":"https://a.example/user/x","object":{"id":"https://a.example/1","type":"Follow","actor":"https://a.example/user/x","object":"https://b.example/b/retro"}}`), &a))

	inner, ok := a.Object.(*Activity)
	assert.True(ok)
	assert.Equal(Follow, inner.Type)
	assert.Equal("https://b.example/b/retro", inner.ObjectID())
}

func TestAudience_StringOrList(t *testing.T) {
	assert := assert.New(t)

	var a Activity
	assert.NoError(json.Unmarshal([]byte(`{"id":"https://a.example/1","type":"Like","actor":"https://a.example/user/x","object":"https://b.example/1","to":"https://www.w3.org/ns/activitystreams#Public","cc":["https://b.example/followers"]}`), &a))

	assert.True(a.IsPublic())
	assert.True(a.CC.Contains("https://b.example/followers"))
}

func TestActivity_RoundTrip(t *testing.T) {
	assert := assert.New(t)

	var a Activity
	a.ID = "https://a.example/1"
	a.Type = Announce
	a.Actor = "https://a.example/b/retro"
	a.Object = "https://b.example/note/1"
	a.To.Add(Public)

	raw, err := json.Marshal(&a)
	assert.NoError(err)

	var back Activity
	assert.NoError(json.Unmarshal(raw, &back))
	assert.Equal(a.ID, back.ID)
	assert.Equal(a.Type, back.Type)
	assert.Equal("https://b.example/note/1", back.ObjectID())
	assert.True(back.IsPublic())

	// an empty cc is omitted, not serialized as []
	assert.NotContains(string(raw), `"cc"`)
}
