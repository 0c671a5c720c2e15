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

// Package ap defines the subset of ActivityStreams baudrate understands.
package ap

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type ActivityType string

const (
	Create   ActivityType = "Create"
	Update   ActivityType = "Update"
	Delete   ActivityType = "Delete"
	Follow   ActivityType = "Follow"
	Accept   ActivityType = "Accept"
	Reject   ActivityType = "Reject"
	Undo     ActivityType = "Undo"
	Announce ActivityType = "Announce"
	Like     ActivityType = "Like"
	Flag     ActivityType = "Flag"
)

// Public is the special audience collection denoting public addressing.
const Public = "https://www.w3.org/ns/activitystreams#Public"

type anyActivity struct {
	ID      string          `json:"id"`
	Type    ActivityType    `json:"type"`
	Actor   string          `json:"actor"`
	Object  json.RawMessage `json:"object"`
	To      Audience        `json:"to"`
	CC      Audience        `json:"cc"`
	Content string          `json:"content"`
}

// Activity is an ActivityStreams activity. Object is a tagged union:
// *Activity for nested activities, *Object for objects and a plain
// string for links.
type Activity struct {
	Context any          `json:"@context,omitempty"`
	ID      string       `json:"id"`
	Type    ActivityType `json:"type"`
	Actor   string       `json:"actor"`
	Object  any          `json:"object"`
	To      Audience     `json:"to,omitzero"`
	CC      Audience     `json:"cc,omitzero"`
	Content string       `json:"content,omitempty"`
}

func (a *Activity) UnmarshalJSON(b []byte) error {
	var common anyActivity
	if err := json.Unmarshal(b, &common); err != nil {
		return err
	}

	a.ID = common.ID
	a.Type = common.Type
	a.Actor = common.Actor
	a.To = common.To
	a.CC = common.CC
	a.Content = common.Content

	if len(common.Object) == 0 {
		a.Object = nil
		return nil
	}

	var activity Activity
	var object Object
	var link string
	if err := json.Unmarshal(common.Object, &activity); err == nil && activity.Type != "" && isActivityType(activity.Type) {
		a.Object = &activity
	} else if err := json.Unmarshal(common.Object, &object); err == nil && object.ID != "" {
		a.Object = &object
	} else if err := json.Unmarshal(common.Object, &link); err == nil {
		a.Object = link
	} else {
		return fmt.Errorf("invalid activity: %s", string(b))
	}

	return nil
}

func isActivityType(t ActivityType) bool {
	switch t {
	case Create, Update, Delete, Follow, Accept, Reject, Undo, Announce, Like, Flag:
		return true
	}
	return false
}

// IsPublic determines if the activity is publicly addressed.
func (a *Activity) IsPublic() bool {
	return a.To.Contains(Public) || a.CC.Contains(Public)
}

// ObjectID returns the ID of the wrapped object, whatever its shape.
func (a *Activity) ObjectID() string {
	switch o := a.Object.(type) {
	case *Activity:
		return o.ID
	case *Object:
		return o.ID
	case string:
		return o
	}
	return ""
}

func (a *Activity) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported conversion from %T to %T", src, a)
	}
}

func (a *Activity) Value() (driver.Value, error) {
	buf, err := json.Marshal(a)
	return string(buf), err
}
