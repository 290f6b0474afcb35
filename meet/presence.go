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

	"github.com/strukturag/meet-signaling/api"
)

// PresenceRepository tracks which participant addresses are available for a
// meeting. Addresses become available by sending presence to the meeting and
// an address that goes away triggers an implicit leave of its participation.
type PresenceRepository struct {
	repository *Repository

	mu        sync.Mutex
	available map[api.Address]map[api.Address]bool
}

func newPresenceRepository(repository *Repository) *PresenceRepository {
	return &PresenceRepository{
		repository: repository,

		available: make(map[api.Address]map[api.Address]bool),
	}
}

// AddAddress marks the address as available for the meeting.
func (r *PresenceRepository) AddAddress(meetAddress api.Address, address api.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	addresses, found := r.available[meetAddress]
	if !found {
		return ErrMeetNotFound
	}

	addresses[address] = true
	return nil
}

// RemoveAddress marks the address as no longer available. A participation
// that joined with the address leaves the meeting.
func (r *PresenceRepository) RemoveAddress(meetAddress api.Address, address api.Address) error {
	r.mu.Lock()
	addresses, found := r.available[meetAddress]
	if found {
		delete(addresses, address)
	}
	r.mu.Unlock()
	if !found {
		return ErrMeetNotFound
	}

	r.repository.participationDisappeared(meetAddress, address)
	return nil
}

func (r *PresenceRepository) IsAvailable(meetAddress api.Address, address api.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	addresses, found := r.available[meetAddress]
	return found && addresses[address]
}

func (r *PresenceRepository) meetCreated(meetAddress api.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available[meetAddress] = make(map[api.Address]bool)
}

func (r *PresenceRepository) meetDestroyed(meetAddress api.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.available, meetAddress)
}
