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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/log"
)

var (
	ErrParticipationExists = errors.New("participation already exists")

	ErrParticipationNotFound = errors.New("no such participation")

	ErrNotAllowed = errors.New("not allowed to join")
)

// AllowEveryone on the allow-list makes a meeting public.
const AllowEveryone = api.Address("*")

// Meet is one meeting, backed by a room on the SFU. Participants join with
// their address, at most one participation per address.
type Meet struct {
	logger     log.Logger
	repository *Repository

	address api.Address
	roomId  api.RoomId

	mu             sync.Mutex
	allowed        map[api.Address]bool
	participations map[api.Address]*Participation
	timeoutTimer   *time.Timer
	destroyed      bool
}

func newMeet(repository *Repository, address api.Address, roomId api.RoomId) *Meet {
	meet := &Meet{
		logger:     repository.logger,
		repository: repository,

		address: address,
		roomId:  roomId,

		allowed:        make(map[api.Address]bool),
		participations: make(map[api.Address]*Participation),
	}
	meet.timeoutTimer = repository.scheduleJoinTimeout(meet)
	return meet
}

func (m *Meet) Address() api.Address {
	return m.address
}

func (m *Meet) RoomId() api.RoomId {
	return m.roomId
}

// Allow adds an address to the allow-list of the meeting.
func (m *Meet) Allow(address api.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowed[address] = true
}

// Deny removes an address from the allow-list. A participant that already
// joined with that address is kicked from the meeting.
func (m *Meet) Deny(ctx context.Context, address api.Address) {
	m.mu.Lock()
	delete(m.allowed, address)
	participation := m.participations[address]
	m.mu.Unlock()

	if participation != nil {
		if err := participation.Leave(ctx); err != nil {
			m.logger.Printf("Error kicking %s from meet %s: %s", address, m.address, err)
		}
	}
}

func (m *Meet) IsPublic() bool {
	return m.IsAllowed(AllowEveryone)
}

func (m *Meet) IsAllowed(address api.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allowed[AllowEveryone] || m.allowed[address]
}

// Join adds a participant to the meeting. The participant is joined to the
// SFU room as a publisher, the subscriber side is created lazily with the
// first remote publisher. A second join with the same address is rejected.
func (m *Meet) Join(ctx context.Context, address api.Address) (*Participation, error) {
	if !m.IsAllowed(address) {
		return nil, ErrNotAllowed
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, ErrMeetNotFound
	}
	if _, found := m.participations[address]; found {
		m.mu.Unlock()
		return nil, ErrParticipationExists
	}
	m.mu.Unlock()

	session, err := m.repository.sfuConn.NewSession(ctx)
	if err != nil {
		return nil, err
	}

	publisher, err := session.JoinPublisher(ctx, m.roomId, string(address))
	if err != nil {
		if err2 := session.Destroy(ctx); err2 != nil {
			m.logger.Printf("Error destroying session after failed join of %s: %s", address, err2)
		}
		return nil, err
	}

	subscriber := session.NewSubscriber(m.roomId)
	participation := newParticipation(m, address, session, publisher, subscriber)

	m.mu.Lock()
	if _, found := m.participations[address]; found || m.destroyed {
		destroyed := m.destroyed
		m.mu.Unlock()
		participation.closeResources(ctx)
		if destroyed {
			return nil, ErrMeetNotFound
		}
		return nil, ErrParticipationExists
	}
	m.participations[address] = participation
	m.mu.Unlock()

	m.cancelTimeout()
	statsParticipantsCurrent.Inc()
	return participation, nil
}

// GetParticipation returns the participation of the given address.
func (m *Meet) GetParticipation(address api.Address) (*Participation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	participation, found := m.participations[address]
	if !found {
		return nil, ErrParticipationNotFound
	}
	return participation, nil
}

func (m *Meet) HasParticipants() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.participations) > 0
}

func (m *Meet) ParticipantsCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.participations)
}

// left removes the participation from the meeting and returns whether it was
// the last one, in which case the caller is expected to destroy the meeting
// after it finished its own teardown.
func (m *Meet) left(participation *Participation) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.participations[participation.Address()]; !found {
		return false
	}

	delete(m.participations, participation.Address())
	statsParticipantsCurrent.Dec()
	return len(m.participations) == 0 && !m.destroyed
}

// Destroy removes the meeting from the repository and destroys the room on
// the SFU. Remaining participants are kicked first.
func (m *Meet) Destroy(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	m.destroyed = true
	participations := make([]*Participation, 0, len(m.participations))
	for _, p := range m.participations {
		participations = append(participations, p)
	}
	m.mu.Unlock()

	m.cancelTimeout()
	for _, p := range participations {
		if err := p.Leave(ctx); err != nil {
			m.logger.Printf("Error removing %s from destroyed meet %s: %s", p.Address(), m.address, err)
		}
	}

	err := m.repository.sfuConn.DestroyRoom(ctx, m.roomId)
	if err != nil {
		m.logger.Printf("Error destroying room %s of meet %s: %s", m.roomId, m.address, err)
	}
	m.repository.destroyed(m.address)
	return err
}

// cancelTimeout stops a pending join timeout. May be called multiple times
// and after the timer fired.
func (m *Meet) cancelTimeout() {
	m.mu.Lock()
	timer := m.timeoutTimer
	m.timeoutTimer = nil
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}
