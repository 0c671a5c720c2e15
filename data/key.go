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

// Package data holds key parsing helpers and the database schema.
package data

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
)

// ParsePrivateKey parses a PEM-encoded private key.
func ParsePrivateKey(privateKeyPemString string) (any, error) {
	privateKeyPem, _ := pem.Decode([]byte(privateKeyPemString))
	if privateKeyPem == nil {
		return nil, errors.New("invalid private key PEM")
	}

	privateKey, err := x509.ParsePKCS8PrivateKey(privateKeyPem.Bytes)
	if err != nil {
		// fallback for openssl<3.0.0
		privateKey, err = x509.ParsePKCS1PrivateKey(privateKeyPem.Bytes)
		if err != nil {
			return nil, err
		}
	}

	return privateKey, nil
}

// ParsePublicKey parses a PEM-encoded public key.
func ParsePublicKey(publicKeyPemString string) (any, error) {
	publicKeyPem, _ := pem.Decode([]byte(publicKeyPemString))
	if publicKeyPem == nil {
		return nil, errors.New("invalid public key PEM")
	}

	publicKey, err := x509.ParsePKIXPublicKey(publicKeyPem.Bytes)
	if err != nil {
		publicKey, err = x509.ParsePKCS1PublicKey(publicKeyPem.Bytes)
		if err != nil {
			return nil, err
		}
	}

	return publicKey, nil
}
