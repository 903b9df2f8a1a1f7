// Copyright 2025 The respd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/respd/common"
)

var (
	connectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "connected_clients",
			Help:      "Currently connected clients",
		},
	)

	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "connections_total",
			Help:      "Accepted connections total",
		},
	)

	receivedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "received_bytes_total",
			Help:      "Received bytes total",
		},
	)

	sentBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "sent_bytes_total",
			Help:      "Sent bytes total",
		},
	)

	protocolErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "protocol_errors_total",
			Help:      "Connections dropped by protocol errors total",
		},
	)
)
