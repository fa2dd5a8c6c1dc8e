// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the Prometheus collectors shared by the server
// components. Collectors register on the default registry; embedders
// decide whether and where to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsAccepted counts client connections accepted across
	// all listeners.
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stevedore",
		Name:      "connections_accepted_total",
		Help:      "Client connections accepted.",
	})

	// OpenConnections tracks currently registered client connections.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stevedore",
		Name:      "open_connections",
		Help:      "Client connections currently open.",
	})

	// Requests counts routed requests by method and response status.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stevedore",
		Name:      "requests_total",
		Help:      "Requests routed, by method and status.",
	}, []string{"method", "status"})

	// CGIExecutions counts CGI runs by outcome (ok, error, timeout).
	CGIExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stevedore",
		Name:      "cgi_executions_total",
		Help:      "CGI script executions, by outcome.",
	}, []string{"outcome"})
)
