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

package httpsig

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Signature is a parsed, not yet verified request signature.
type Signature struct {
	KeyID     string
	Algorithm string
	s         string
	signature []byte
}

const (
	minKeyBits = 2048
	maxKeyBits = 8192
)

var signatureAttrRegex = regexp.MustCompile(`\b([^"=]+)="([^"]+)"`)

// Attrs splits a Signature header into its attributes, without any
// validation.
func Attrs(header string) [][]string {
	return signatureAttrRegex.FindAllStringSubmatch(header, -1)
}

// Extract extracts signature attributes and returns a [Signature].
// Caller should obtain the key and pass it to [Signature.Verify].
func Extract(r *http.Request, body []byte, domain string, now time.Time, maxAge time.Duration) (*Signature, error) {
	host := r.Header.Get("Host")
	if host == "" {
		if r.Host == "" {
			return nil, errors.New("host is unspecified")
		}

		if r.Host != domain {
			return nil, errors.New("wrong host: " + r.Host)
		}

		r.Header.Set("Host", r.Host)
	} else if host != domain {
		return nil, errors.New("wrong host: " + host)
	}

	date := r.Header.Get("Date")
	if date == "" {
		return nil, fmt.Errorf("%w: date is unspecified", ErrStaleDate)
	}

	t, err := time.Parse(http.TimeFormat, date)
	if err != nil {
		return nil, err
	}

	if delta := now.Sub(t); delta > maxAge || delta < -maxAge {
		return nil, fmt.Errorf("%w: %s", ErrStaleDate, date)
	}

	values := r.Header.Values("Signature")
	if len(values) == 0 {
		return nil, ErrMissingSignature
	}
	if len(values) > 1 {
		return nil, errors.New("more than one signature")
	}

	var keyID, algorithm, headers, signature string
	for _, m := range signatureAttrRegex.FindAllStringSubmatch(values[0], -1) {
		switch m[1] {
		case "keyId":
			if keyID != "" {
				return nil, errors.New("more than one keyId")
			}
			keyID = m[2]
		case "algorithm":
			if algorithm != "" {
				return nil, errors.New("more than one algorithm")
			}
			algorithm = m[2]
		case "headers":
			if headers != "" {
				return nil, errors.New("more than one headers")
			}
			headers = m[2]
		case "signature":
			if signature != "" {
				return nil, errors.New("more than one signature")
			}
			signature = m[2]
		default:
			return nil, errors.New("unsupported attribute: " + m[1])
		}
	}

	if keyID == "" || headers == "" || signature == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingSignature, values[0])
	}

	switch algorithm {
	case "rsa-sha256", "ed25519", "hs2019":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}

	rawSignature, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}

	rawHeaders := strings.Fields(strings.ToLower(headers))
	signed := make(map[string]struct{}, len(rawHeaders))
	for _, h := range rawHeaders {
		if _, dup := signed[h]; dup {
			return nil, errors.New("duplicate header: " + h)
		}
		signed[h] = struct{}{}
	}

	if len(rawHeaders) == 0 {
		return nil, errors.New("empty headers list")
	}

	for _, h := range []string{"(request-target)", "host", "date"} {
		if _, ok := signed[h]; !ok {
			return nil, errors.New(h + " is not signed")
		}
	}

	if body != nil {
		if _, ok := signed["digest"]; !ok {
			return nil, errors.New("digest is not signed")
		}

		digest := r.Header.Get("Digest")
		if digest == "" {
			return nil, fmt.Errorf("%w: digest is unspecified", ErrDigestMismatch)
		}

		if len(digest) <= len("SHA-256=") || !strings.HasPrefix(digest, "SHA-256=") {
			return nil, fmt.Errorf("%w: invalid digest algorithm: %s", ErrDigestMismatch, digest)
		}

		rawDigest, err := base64.StdEncoding.DecodeString(digest[len("SHA-256="):])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, err)
		}

		if len(rawDigest) != sha256.Size {
			return nil, fmt.Errorf("%w: invalid digest size", ErrDigestMismatch)
		}

		hash := sha256.Sum256(body)
		if !bytes.Equal(hash[:], rawDigest) {
			return nil, ErrDigestMismatch
		}
	}

	s, err := buildSignatureString(r, rawHeaders)
	if err != nil {
		return nil, err
	}

	return &Signature{
		KeyID:     keyID,
		Algorithm: algorithm,
		s:         s,
		signature: rawSignature,
	}, nil
}

// Verify verifies a signature against a public key.
func (s *Signature) Verify(key any) error {
	switch pub := key.(type) {
	case *rsa.PublicKey:
		if s.Algorithm != "rsa-sha256" && s.Algorithm != "hs2019" {
			return fmt.Errorf("%w: %q with RSA key", ErrUnsupportedAlgorithm, s.Algorithm)
		}

		bits := pub.N.BitLen()
		if bits < minKeyBits || bits > maxKeyBits {
			return fmt.Errorf("invalid key size: %d", bits)
		}

		hash := sha256.Sum256([]byte(s.s))
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], s.signature); err != nil {
			return fmt.Errorf("%w: %s", ErrSignatureMismatch, err)
		}

	case ed25519.PublicKey:
		if s.Algorithm != "ed25519" && s.Algorithm != "hs2019" {
			return fmt.Errorf("%w: %q with Ed25519 key", ErrUnsupportedAlgorithm, s.Algorithm)
		}

		if !ed25519.Verify(pub, []byte(s.s), s.signature) {
			return ErrSignatureMismatch
		}

	default:
		return fmt.Errorf("invalid public key: %T", key)
	}

	return nil
}
