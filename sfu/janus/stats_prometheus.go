/**
 * Jingle signaling gateway for multi-party meetings.
 * Copyright (C) 2025 struktur AG
 *
 * @author Joachim Bauch <bauch@struktur.de>
 *
 * @license GNU AGPL version 3 or any later version
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */
package janus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/strukturag/meet-signaling/metrics"
)

var (
	statsConnectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "sfu",
		Name:      "connected",
		Help:      "Whether the connection to the SFU is established",
	})
	statsRoomsCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "sfu",
		Name:      "rooms",
		Help:      "The current number of rooms on the SFU",
	})
	statsSessionsCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "sfu",
		Name:      "sessions",
		Help:      "The current number of sessions on the SFU",
	})
	statsPublishersCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "sfu",
		Name:      "publishers",
		Help:      "The current number of publishers",
	})
	statsSubscribersCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "sfu",
		Name:      "subscribers",
		Help:      "The current number of subscribers",
	})

	janusSfuStats = []prometheus.Collector{
		statsConnectedGauge,
		statsRoomsCurrent,
		statsSessionsCurrent,
		statsPublishersCurrent,
		statsSubscribersCurrent,
	}
)

func RegisterJanusSfuStats() {
	metrics.RegisterAll(janusSfuStats...)
}

func UnregisterJanusSfuStats() {
	metrics.UnregisterAll(janusSfuStats...)
}
