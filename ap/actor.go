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
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type ActorType string

const (
	Person       ActorType = "Person"
	Group        ActorType = "Group"
	Organization ActorType = "Organization"
	Application  ActorType = "Application"
	Service      ActorType = "Service"
)

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Multikey is a multibase-encoded verification key, as published by
// servers that sign with Ed25519.
type Multikey struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

type Actor struct {
	Context                   any               `json:"@context,omitempty"`
	ID                        string            `json:"id"`
	Type                      ActorType         `json:"type"`
	PreferredUsername         string            `json:"preferredUsername"`
	Name                      string            `json:"name,omitempty"`
	Inbox                     string            `json:"inbox"`
	Outbox                    string            `json:"outbox,omitempty"`
	Endpoints                 map[string]string `json:"endpoints,omitempty"`
	Followers                 string            `json:"followers,omitempty"`
	PublicKey                 PublicKey         `json:"publicKey"`
	AssertionMethod           []Multikey        `json:"assertionMethod,omitempty"`
	ManuallyApprovesFollowers bool              `json:"manuallyApprovesFollowers"`
}

// SharedInbox returns the actor's shared inbox, or "" if it has none.
func (a *Actor) SharedInbox() string {
	return a.Endpoints["sharedInbox"]
}

func (a *Actor) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported conversion from %T to %T", src, a)
	}
}

func (a *Actor) Value() (driver.Value, error) {
	buf, err := json.Marshal(a)
	return string(buf), err
}
