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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	inboxRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baudrate_inbox_requests_total",
			Help: "Inbound inbox requests by response status.",
		},
		[]string{"status"},
	)

	inboxActivities = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baudrate_inbox_activities_total",
			Help: "Accepted inbound activities by type.",
		},
		[]string{"type"},
	)

	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baudrate_delivery_attempts_total",
			Help: "Outbound delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	resolverFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baudrate_resolver_fetches_total",
			Help: "Remote actor fetches by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(inboxRequests, inboxActivities, deliveryAttempts, resolverFetches)
}
