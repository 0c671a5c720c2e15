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

// Package httpsig signs and verifies HTTP requests using the
// draft-cavage HTTP Signatures scheme used across the fediverse.
package httpsig

import "errors"

// Key is a signing key: the key ID published in the actor document
// and the matching private key.
type Key struct {
	ID         string
	PrivateKey any
}

var (
	ErrMissingSignature     = errors.New("missing signature")
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrStaleDate            = errors.New("date is outside the allowed window")
	ErrDigestMismatch       = errors.New("body digest mismatch")
	ErrSignatureMismatch    = errors.New("signature mismatch")
)
