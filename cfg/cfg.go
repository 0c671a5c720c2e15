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

// Package cfg defines the baudrate configuration file format and defaults.
package cfg

import "time"

// Config represents a baudrate configuration file.
type Config struct {
	DatabaseOptions string

	MaxRequestBodySize  int64
	MaxRequestAge       time.Duration
	MaxResponseBodySize int64

	InboxRateLimit int
	InboxRateBurst int

	DeliveryWorkers        int
	DeliveryBatchSize      int
	DeliveryTimeout        time.Duration
	DeliveryRetryBase      time.Duration
	DeliveryRetryCeiling   time.Duration
	MaxDeliveryAttempts    int
	DeliveryPollInterval   time.Duration
	DeliveredRetentionTime time.Duration

	ResolverCacheTTL     time.Duration
	ResolverTimeout      time.Duration
	ResolverMaxIdleConns int

	ProcessedActivityTTL time.Duration

	BlocklistImportPath string
	BlocklistAuditURL   string
	AuditTimeout        time.Duration

	// MaxRecipients caps the number of distinct inboxes a single
	// activity fans out to.
	MaxRecipients int
}

// FillDefaults replaces missing or invalid settings with defaults.
func (c *Config) FillDefaults() {
	if c.DatabaseOptions == "" {
		c.DatabaseOptions = "_journal_mode=WAL&_synchronous=1&_busy_timeout=5000"
	}

	if c.MaxRequestBodySize <= 0 {
		c.MaxRequestBodySize = 1024 * 1024
	}

	if c.MaxRequestAge <= 0 {
		c.MaxRequestAge = time.Second * 30
	}

	if c.MaxResponseBodySize <= 0 {
		c.MaxResponseBodySize = 1024 * 1024
	}

	if c.InboxRateLimit <= 0 {
		c.InboxRateLimit = 10
	}

	if c.InboxRateBurst <= 0 {
		c.InboxRateBurst = 30
	}

	if c.DeliveryWorkers <= 0 {
		c.DeliveryWorkers = 4
	}

	if c.DeliveryBatchSize <= 0 {
		c.DeliveryBatchSize = 16
	}

	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = time.Minute
	}

	if c.DeliveryRetryBase <= 0 {
		c.DeliveryRetryBase = time.Second * 30
	}

	if c.DeliveryRetryCeiling <= 0 {
		c.DeliveryRetryCeiling = time.Hour * 6
	}

	if c.MaxDeliveryAttempts <= 0 {
		c.MaxDeliveryAttempts = 10
	}

	if c.DeliveryPollInterval <= 0 {
		c.DeliveryPollInterval = time.Second * 5
	}

	if c.DeliveredRetentionTime <= 0 {
		c.DeliveredRetentionTime = time.Hour * 24
	}

	if c.ResolverCacheTTL <= 0 {
		c.ResolverCacheTTL = time.Hour * 24 * 3
	}

	if c.ResolverTimeout <= 0 {
		c.ResolverTimeout = time.Second * 10
	}

	if c.ResolverMaxIdleConns <= 0 {
		c.ResolverMaxIdleConns = 32
	}

	if c.ProcessedActivityTTL <= 0 {
		c.ProcessedActivityTTL = time.Hour * 24 * 7
	}

	if c.AuditTimeout <= 0 {
		c.AuditTimeout = time.Second * 30
	}

	if c.MaxRecipients <= 0 {
		c.MaxRecipients = 512
	}
}
