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
	"sync/atomic"
	"time"

	"github.com/dlintw/goconf"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/log"
	"github.com/strukturag/meet-signaling/sfu"
)

const (
	defaultJoinTimeout = 300 * time.Second

	defaultMaxPublishers = 6
)

var (
	ErrMeetExists = errors.New("meet already exists")

	ErrMeetNotFound = errors.New("no such meet")
)

// CreatePermissionChecker decides whether an address may create meetings.
type CreatePermissionChecker func(address api.Address) bool

type meetEntry struct {
	done chan struct{}

	meet *Meet
	err  error
}

// Repository tracks the meetings of the gateway by their address. At most
// one creation per address may be in flight at any time.
type Repository struct {
	logger  log.Logger
	sfuConn sfu.SFU

	presence *PresenceRepository

	joinTimeout   atomic.Int64
	maxPublishers atomic.Int32
	public        atomic.Bool

	checkCreate atomic.Value // CreatePermissionChecker

	mu    sync.Mutex
	meets map[api.Address]*meetEntry
}

func NewRepository(ctx context.Context, sfuConn sfu.SFU, config *goconf.ConfigFile) *Repository {
	result := &Repository{
		logger:  log.LoggerFromContext(ctx),
		sfuConn: sfuConn,

		meets: make(map[api.Address]*meetEntry),
	}
	result.presence = newPresenceRepository(result)
	result.Reload(config)
	return result
}

// Reload applies the reloadable settings from the configuration.
func (r *Repository) Reload(config *goconf.ConfigFile) {
	joinTimeout := defaultJoinTimeout
	if seconds, err := config.GetInt("meet", "jointimeout"); err == nil && seconds > 0 {
		joinTimeout = time.Duration(seconds) * time.Second
	}
	r.joinTimeout.Store(int64(joinTimeout))

	maxPublishers := defaultMaxPublishers
	if value, err := config.GetInt("meet", "maxpublishers"); err == nil && value > 0 {
		maxPublishers = value
	}
	r.maxPublishers.Store(int32(maxPublishers))

	public, _ := config.GetBool("meet", "public")
	r.public.Store(public)
}

func (r *Repository) JoinTimeout() time.Duration {
	return time.Duration(r.joinTimeout.Load())
}

func (r *Repository) MaxPublishers() int {
	return int(r.maxPublishers.Load())
}

// Presence returns the presence store of the repository.
func (r *Repository) Presence() *PresenceRepository {
	return r.presence
}

// SetCreatePermissionChecker installs a hook that decides which addresses
// may create meetings. Without a hook, everybody may create.
func (r *Repository) SetCreatePermissionChecker(f CreatePermissionChecker) {
	r.checkCreate.Store(f)
}

func (r *Repository) CheckCreatePermission(address api.Address) bool {
	if f, ok := r.checkCreate.Load().(CreatePermissionChecker); ok && f != nil {
		return f(address)
	}
	return true
}

// Create reserves the address and creates a room for the meeting on the SFU.
// A second creation while one is still in flight (or the meeting exists)
// fails with ErrMeetExists. The reservation is released if the room can not
// be created.
func (r *Repository) Create(ctx context.Context, address api.Address, maxPublishers int) (*Meet, error) {
	entry := &meetEntry{
		done: make(chan struct{}),
	}
	r.mu.Lock()
	if _, found := r.meets[address]; found {
		r.mu.Unlock()
		return nil, ErrMeetExists
	}
	r.meets[address] = entry
	r.mu.Unlock()

	if maxPublishers <= 0 {
		maxPublishers = r.MaxPublishers()
	}
	roomId, err := r.sfuConn.CreateRoom(ctx, sfu.RoomSettings{
		PublisherLimit: maxPublishers,
	})
	if err != nil {
		r.mu.Lock()
		if r.meets[address] == entry {
			delete(r.meets, address)
		}
		r.mu.Unlock()
		entry.err = err
		close(entry.done)
		return nil, err
	}

	meet := newMeet(r, address, roomId)
	if r.public.Load() {
		meet.Allow(AllowEveryone)
	}
	entry.meet = meet
	close(entry.done)

	r.presence.meetCreated(address)
	statsMeetsCurrent.Inc()
	statsMeetsTotal.Inc()
	r.logger.Printf("Created meet %s with room %s", address, roomId)
	return meet, nil
}

// GetMeet returns the meeting with the given address. Meetings that are
// still being created are not returned.
func (r *Repository) GetMeet(address api.Address) (*Meet, error) {
	r.mu.Lock()
	entry, found := r.meets[address]
	r.mu.Unlock()
	if !found {
		return nil, ErrMeetNotFound
	}

	select {
	case <-entry.done:
		if entry.err != nil {
			return nil, ErrMeetNotFound
		}
		return entry.meet, nil
	default:
		return nil, ErrMeetNotFound
	}
}

// Size returns the number of tracked meetings, including those still being
// created.
func (r *Repository) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.meets)
}

func (r *Repository) destroyed(address api.Address) {
	r.mu.Lock()
	_, found := r.meets[address]
	delete(r.meets, address)
	r.mu.Unlock()
	if !found {
		return
	}

	r.presence.meetDestroyed(address)
	statsMeetsCurrent.Dec()
	r.logger.Printf("Meet %s was destroyed", address)
}

// scheduleJoinTimeout starts the timer that destroys the meeting if nobody
// joined it in time.
func (r *Repository) scheduleJoinTimeout(meet *Meet) *time.Timer {
	return time.AfterFunc(r.JoinTimeout(), func() {
		if meet.HasParticipants() {
			return
		}

		ctx := log.NewLoggerContext(context.Background(), r.logger)
		if err := meet.Destroy(ctx); err != nil {
			r.logger.Printf("Error destroying meet %s after join timeout: %s", meet.Address(), err)
		}
	})
}

// participationDisappeared performs the implicit leave of a participant
// whose presence went away.
func (r *Repository) participationDisappeared(meetAddress api.Address, address api.Address) {
	meet, err := r.GetMeet(meetAddress)
	if err != nil {
		return
	}

	participation, err := meet.GetParticipation(address)
	if err != nil {
		return
	}

	r.logger.Printf("Participant %s of meet %s disappeared, leaving", address, meetAddress)
	ctx := log.NewLoggerContext(context.Background(), r.logger)
	if err := participation.Leave(ctx); err != nil {
		r.logger.Printf("Error leaving meet %s for disappeared participant %s: %s", meetAddress, address, err)
	}
}
