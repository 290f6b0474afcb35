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
package internal

import (
	"sync/atomic"
)

// Closer provides a way to notify waiting goroutines that something has been
// closed. Can be closed multiple times.
type Closer struct {
	closed atomic.Bool

	// C can be used to wait for the closer to be closed.
	C chan struct{}
}

func NewCloser() *Closer {
	return &Closer{
		C: make(chan struct{}),
	}
}

func (c *Closer) IsClosed() bool {
	return c.closed.Load()
}

func (c *Closer) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.C)
	}
}
