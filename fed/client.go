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

// Package fed implements the federation boundary: actor resolution,
// signature verification, the inbound listener and outbound delivery.
package fed

import (
	"net/http"
	"time"

	"github.com/baudrate/baudrate/buildinfo"
	"github.com/baudrate/baudrate/cfg"
)

var userAgent = "baudrate/" + buildinfo.Version

// Client sends HTTP requests; *http.Client satisfies it and tests
// replace it with a stub.
type Client interface {
	Do(r *http.Request) (*http.Response, error)
}

// NewClient returns the HTTP client used for all outbound federation
// traffic.
func NewClient(cfg *cfg.Config) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:    cfg.ResolverMaxIdleConns,
			IdleConnTimeout: time.Minute,
		},
	}
}
