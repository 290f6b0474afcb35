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
package sfu

import (
	"context"
	"errors"

	"github.com/dlintw/goconf"

	"github.com/strukturag/meet-signaling/api"
)

var (
	ErrNotConnected = errors.New("not connected")

	ErrNoSuchSession = errors.New("no such session")
)

// Candidate is a trickle ICE candidate exchanged with the SFU.
type Candidate struct {
	SdpMid        string `json:"sdpMid"`
	SdpMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`

	Completed bool `json:"completed,omitempty"`
}

// Stream selects a single media stream of a remote publisher.
type Stream struct {
	Feed uint64 `json:"feed"`
	Mid  string `json:"mid,omitempty"`
}

// StreamInfo describes one media stream a publisher is sending.
type StreamInfo struct {
	Type string `json:"type"`
	Mid  string `json:"mid"`
}

// PublisherInfo describes a remote publisher in a room.
type PublisherInfo struct {
	Id      uint64
	Display string
	Streams []StreamInfo
}

// RoomSettings contains the properties of a room on the SFU.
type RoomSettings struct {
	// PublisherLimit is the maximum number of concurrent publishers.
	PublisherLimit int
	// VideoCodec lists the video codecs supported in the room.
	VideoCodec string
	// AudioCodec lists the audio codecs supported in the room.
	AudioCodec string
	// Bitrate is the maximum bitrate in bits per second for each stream
	// in the room. It is capped by the configured global maximum.
	Bitrate int
}

// PublisherListener receives callbacks for the publisher leg of a session.
type PublisherListener interface {
	ReceivedPublisherSDP(jsep *api.JSEP)
	ReceivedPublisherCandidate(candidate *Candidate)

	AddedPublishers(publishers []PublisherInfo)
	RemovedPublisher(id uint64)
}

// SubscriberListener receives callbacks for the subscriber leg of a session.
type SubscriberListener interface {
	ReceivedSubscriberSDP(jsep *api.JSEP)
	ReceivedSubscriberCandidate(candidate *Candidate)
}

// Publisher is the local publisher of a session that joined a room.
type Publisher interface {
	Id() uint64
	PrivateId() uint64

	SetListener(listener PublisherListener)

	// Publish sends the local offer to the SFU and returns its answer.
	Publish(ctx context.Context, jsep *api.JSEP) (*api.JSEP, error)
	Unpublish(ctx context.Context) error
	Leave(ctx context.Context) error

	SendCandidate(ctx context.Context, candidate *Candidate) error

	Close(ctx context.Context)
}

// Subscriber receives streams of remote publishers in a room. The room is
// joined lazily with the first subscription.
type Subscriber interface {
	SetListener(listener SubscriberListener)

	Subscribe(ctx context.Context, streams []Stream) error
	Unsubscribe(ctx context.Context, feed uint64) error

	// Start confirms the answer of the client to an offer of the SFU.
	Start(ctx context.Context, jsep *api.JSEP) error

	SendCandidate(ctx context.Context, candidate *Candidate) error

	Close(ctx context.Context)
}

// Session bundles the publisher and subscriber legs of one participant on
// the SFU.
type Session interface {
	Id() uint64

	JoinPublisher(ctx context.Context, room api.RoomId, display string) (Publisher, error)
	NewSubscriber(room api.RoomId) Subscriber

	Destroy(ctx context.Context) error
}

// SFU is a connection to a media router that hosts rooms.
type SFU interface {
	Start(ctx context.Context) error
	Stop()
	Reload(config *goconf.ConfigFile)

	SetOnConnected(f func())
	SetOnDisconnected(f func())

	CreateRoom(ctx context.Context, settings RoomSettings) (api.RoomId, error)
	DestroyRoom(ctx context.Context, room api.RoomId) error

	NewSession(ctx context.Context) (Session, error)
}
