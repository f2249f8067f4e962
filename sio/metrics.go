/* Copyright 2026 The CWMP Session Engine Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sio

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsStarted counts Informs handled.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cwmp",
		Subsystem: "session",
		Name:      "sessions_started_total",
		Help:      "Number of CWMP sessions started (Informs handled).",
	})

	// RpcsSent counts outbound RPCs by method name.
	RpcsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cwmp",
		Subsystem: "session",
		Name:      "rpcs_sent_total",
		Help:      "Number of RPC requests emitted, by method.",
	}, []string{"method"})

	// Faults counts engine faults by code.
	Faults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cwmp",
		Subsystem: "session",
		Name:      "faults_total",
		Help:      "Number of session faults, by fault code.",
	}, []string{"code"})
)

// MetricsHandler exposes the default registry for scraping.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
