// Copyright 2019 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reftable

import "github.com/prometheus/client_golang/prometheus"

// stackMetrics holds the Prometheus collectors a Stack updates as it
// compacts. Each Stack registers its own set against the collector
// it's given, labeled by the reftable directory, so multiple stacks
// in one process don't collide.
type stackMetrics struct {
	attempted prometheus.Counter
	failed    prometheus.Counter
	bytes     prometheus.Counter
}

func newStackMetrics(reg prometheus.Registerer, dir string) *stackMetrics {
	m := &stackMetrics{
		attempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reftable_compactions_attempted_total",
			Help:        "Compactions attempted by this stack.",
			ConstLabels: prometheus.Labels{"dir": dir},
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reftable_compactions_failed_total",
			Help:        "Compactions that lost the lock race or otherwise aborted.",
			ConstLabels: prometheus.Labels{"dir": dir},
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reftable_compacted_bytes_total",
			Help:        "Bytes written by successful compactions.",
			ConstLabels: prometheus.Labels{"dir": dir},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempted, m.failed, m.bytes)
	}
	return m
}
