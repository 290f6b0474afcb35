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
	"sync"
)

// DelayedRunQueue buffers submitted functions until the delay has finished
// once. After that, functions are executed directly when submitted.
type DelayedRunQueue struct {
	mu    sync.Mutex
	delay bool
	queue []func()
}

func NewDelayedRunQueue() *DelayedRunQueue {
	return &DelayedRunQueue{
		delay: true,
	}
}

// Offer runs the function if the delay has finished, otherwise it is queued
// until "DelayFinished" is called.
func (q *DelayedRunQueue) Offer(f func()) {
	q.mu.Lock()
	if q.delay {
		q.queue = append(q.queue, f)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	f()
}

// DelayFinished runs all queued functions in the order they were submitted
// and switches the queue into pass-through mode. Only the first call has an
// effect.
func (q *DelayedRunQueue) DelayFinished() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.delay {
		return
	}

	q.delay = false
	for _, f := range q.queue {
		f()
	}
	q.queue = nil
}
