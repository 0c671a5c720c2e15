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
	"slices"
)

// Audience is a deduplicated list of actor and collection IDs,
// preserving the order they were added in.
type Audience struct {
	ids []string
}

// Add appends an ID unless it is already present.
func (a *Audience) Add(id string) {
	if !slices.Contains(a.ids, id) {
		a.ids = append(a.ids, id)
	}
}

// Contains determines if the audience includes an ID.
func (a Audience) Contains(id string) bool {
	return slices.Contains(a.ids, id)
}

// Range calls f for each ID, in insertion order, until f returns false.
func (a Audience) Range(f func(id string) bool) {
	for _, id := range a.ids {
		if !f(id) {
			return
		}
	}
}

func (a *Audience) UnmarshalJSON(b []byte) error {
	var l []string
	if err := json.Unmarshal(b, &l); err != nil {
		// some servers put a single string where a list belongs
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		l = []string{s}
	}

	a.ids = a.ids[:0]
	for _, id := range l {
		a.Add(id)
	}

	return nil
}

func (a Audience) MarshalJSON() ([]byte, error) {
	if a.ids == nil {
		return []byte("[]"), nil
	}

	return json.Marshal(a.ids)
}

// IsZero reports whether the audience is empty, for omitzero.
func (a Audience) IsZero() bool {
	return len(a.ids) == 0
}
