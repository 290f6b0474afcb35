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
package meet

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/strukturag/meet-signaling/metrics"
)

var (
	statsMeetsCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "meet",
		Name:      "meets",
		Help:      "The current number of meetings",
	})
	statsParticipantsCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "signaling",
		Subsystem: "meet",
		Name:      "participants",
		Help:      "The current number of participants",
	})
	statsMeetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "signaling",
		Subsystem: "meet",
		Name:      "meets_total",
		Help:      "The total number of created meetings",
	})

	meetStats = []prometheus.Collector{
		statsMeetsCurrent,
		statsParticipantsCurrent,
		statsMeetsTotal,
	}
)

func RegisterMeetStats() {
	metrics.RegisterAll(meetStats...)
}

func UnregisterMeetStats() {
	metrics.UnregisterAll(meetStats...)
}
