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
	"context"
	"testing"
	"time"

	"github.com/dlintw/goconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/log"
	metricstest "github.com/strukturag/meet-signaling/metrics/test"
	"github.com/strukturag/meet-signaling/sfu"
	"github.com/strukturag/meet-signaling/sfu/janus/janus"
	janustest "github.com/strukturag/meet-signaling/sfu/janus/test"
)

const (
	testTimeout = 10 * time.Second
)

func TestJanusSfuStats(t *testing.T) {
	t.Parallel()
	metricstest.CollectAndLint(t, janusSfuStats...)
}

func newJanusSFUForTesting(t *testing.T) (*janusSFU, *janustest.JanusGateway) {
	gateway := janustest.NewJanusGateway(t)

	config := goconf.NewConfigFile()
	config.AddOption("sfu", "maxpublishers", "4")
	config.AddOption("sfu", "maxstreambitrate", "524288")
	logger := log.NewLoggerForTest(t)
	ctx := log.NewLoggerContext(t.Context(), logger)
	m, err := NewJanusSFU(ctx, "", config)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Stop()
	})

	mJanus := m.(*janusSFU)
	mJanus.createJanusGateway = func(ctx context.Context, wsURL string, listener janus.GatewayListener) (janus.GatewayInterface, error) {
		return gateway, nil
	}
	require.NoError(t, m.Start(ctx))
	return mJanus, gateway
}

type testPublisherListener struct {
	added      chan []sfu.PublisherInfo
	removed    chan uint64
	candidates chan *sfu.Candidate
}

func newTestPublisherListener() *testPublisherListener {
	return &testPublisherListener{
		added:      make(chan []sfu.PublisherInfo, 4),
		removed:    make(chan uint64, 4),
		candidates: make(chan *sfu.Candidate, 4),
	}
}

func (l *testPublisherListener) ReceivedPublisherSDP(jsep *api.JSEP) {
}

func (l *testPublisherListener) ReceivedPublisherCandidate(candidate *sfu.Candidate) {
	l.candidates <- candidate
}

func (l *testPublisherListener) AddedPublishers(publishers []sfu.PublisherInfo) {
	l.added <- publishers
}

func (l *testPublisherListener) RemovedPublisher(id uint64) {
	l.removed <- id
}

type testSubscriberListener struct {
	offers     chan *api.JSEP
	candidates chan *sfu.Candidate
}

func newTestSubscriberListener() *testSubscriberListener {
	return &testSubscriberListener{
		offers:     make(chan *api.JSEP, 4),
		candidates: make(chan *sfu.Candidate, 4),
	}
}

func (l *testSubscriberListener) ReceivedSubscriberSDP(jsep *api.JSEP) {
	l.offers <- jsep
}

func (l *testSubscriberListener) ReceivedSubscriberCandidate(candidate *sfu.Candidate) {
	l.candidates <- candidate
}

func TestJanusSFUStart(t *testing.T) {
	t.Parallel()
	m, _ := newJanusSFUForTesting(t)
	assert := assert.New(t)
	assert.True(m.IsConnected())

	if info := m.Info(); assert.NotNil(info) {
		assert.Equal("TestJanus", info.Name)
	}
	// The keepalive interval is derived from the session timeout.
	assert.Equal(55*time.Second, m.keepaliveInterval)
	assert.Equal(4, m.Settings().MaxPublishers())
	assert.Equal(524288, m.Settings().MaxStreamBitrate())
}

func TestJanusSFURooms(t *testing.T) {
	t.Parallel()
	m, gateway := newJanusSFUForTesting(t)
	assert := assert.New(t)
	require := require.New(t)

	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	room, err := m.CreateRoom(ctx, sfu.RoomSettings{})
	require.NoError(err)
	assert.True(room.IsNumeric())
	assert.Equal(1, gateway.CountRooms())

	second, err := m.CreateRoom(ctx, sfu.RoomSettings{
		PublisherLimit: 2,
		// Larger than the configured maximum, will be capped.
		Bitrate: 8 * 1024 * 1024,
	})
	require.NoError(err)
	assert.False(room.Equal(second))

	require.NoError(m.DestroyRoom(ctx, room))
	require.NoError(m.DestroyRoom(ctx, second))
	assert.Equal(0, gateway.CountRooms())

	// Destroying a room that no longer exists is not an error.
	assert.NoError(m.DestroyRoom(ctx, room))
}

func TestJanusPublisher(t *testing.T) {
	t.Parallel()
	m, _ := newJanusSFUForTesting(t)
	assert := assert.New(t)
	require := require.New(t)

	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	room, err := m.CreateRoom(ctx, sfu.RoomSettings{})
	require.NoError(err)
	defer func() {
		assert.NoError(m.DestroyRoom(ctx, room))
	}()

	session, err := m.NewSession(ctx)
	require.NoError(err)
	defer func() {
		assert.NoError(session.Destroy(ctx))
	}()

	publisher, err := session.JoinPublisher(ctx, room, "first user")
	require.NoError(err)
	defer publisher.Close(ctx)
	assert.NotZero(publisher.Id())
	assert.NotZero(publisher.PrivateId())

	listener := newTestPublisherListener()
	publisher.SetListener(listener)

	answer, err := publisher.Publish(ctx, &api.JSEP{
		Type: api.JSEPTypeOffer,
		SDP:  janustest.MockSdpOffer,
	})
	require.NoError(err)
	require.NotNil(answer)
	assert.Equal(api.JSEPTypeAnswer, answer.Type)
	assert.Equal(janustest.MockSdpAnswer, answer.SDP)

	assert.NoError(publisher.SendCandidate(ctx, &sfu.Candidate{
		SdpMid:    "0",
		Candidate: "candidate:1 1 udp 2122194687 192.168.1.2 49203 typ host generation 0",
	}))

	// A second publisher in the room is announced to the first one.
	session2, err := m.NewSession(ctx)
	require.NoError(err)
	defer func() {
		assert.NoError(session2.Destroy(ctx))
	}()

	publisher2, err := session2.JoinPublisher(ctx, room, "second user")
	require.NoError(err)
	defer publisher2.Close(ctx)
	_, err = publisher2.Publish(ctx, &api.JSEP{
		Type: api.JSEPTypeOffer,
		SDP:  janustest.MockSdpOffer,
	})
	require.NoError(err)

	select {
	case added := <-listener.added:
		require.Len(added, 1)
		assert.Equal(publisher2.Id(), added[0].Id)
		assert.Equal("second user", added[0].Display)
		assert.Len(added[0].Streams, 2)
	case <-ctx.Done():
		require.Fail("timeout waiting for added publishers")
	}

	require.NoError(publisher2.Unpublish(ctx))
	select {
	case removed := <-listener.removed:
		assert.Equal(publisher2.Id(), removed)
	case <-ctx.Done():
		require.Fail("timeout waiting for removed publisher")
	}

	assert.NoError(publisher2.Leave(ctx))
	assert.NoError(publisher.Unpublish(ctx))
	assert.NoError(publisher.Leave(ctx))
}

func TestJanusPublisherListenerAfterJoin(t *testing.T) {
	t.Parallel()
	m, _ := newJanusSFUForTesting(t)
	assert := assert.New(t)
	require := require.New(t)

	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	room, err := m.CreateRoom(ctx, sfu.RoomSettings{})
	require.NoError(err)
	defer func() {
		assert.NoError(m.DestroyRoom(ctx, room))
	}()

	session, err := m.NewSession(ctx)
	require.NoError(err)
	defer func() {
		assert.NoError(session.Destroy(ctx))
	}()

	publisher, err := session.JoinPublisher(ctx, room, "first user")
	require.NoError(err)
	defer publisher.Close(ctx)
	_, err = publisher.Publish(ctx, &api.JSEP{
		Type: api.JSEPTypeOffer,
		SDP:  janustest.MockSdpOffer,
	})
	require.NoError(err)

	session2, err := m.NewSession(ctx)
	require.NoError(err)
	defer func() {
		assert.NoError(session2.Destroy(ctx))
	}()

	// Publishers that are already in the room are reported even if the
	// listener is only registered after joining.
	publisher2, err := session2.JoinPublisher(ctx, room, "second user")
	require.NoError(err)
	defer publisher2.Close(ctx)

	listener := newTestPublisherListener()
	publisher2.SetListener(listener)
	select {
	case added := <-listener.added:
		require.Len(added, 1)
		assert.Equal(publisher.Id(), added[0].Id)
		assert.Equal("first user", added[0].Display)
	case <-ctx.Done():
		require.Fail("timeout waiting for added publishers")
	}
}

func TestJanusSubscriber(t *testing.T) {
	t.Parallel()
	m, _ := newJanusSFUForTesting(t)
	assert := assert.New(t)
	require := require.New(t)

	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	room, err := m.CreateRoom(ctx, sfu.RoomSettings{})
	require.NoError(err)
	defer func() {
		assert.NoError(m.DestroyRoom(ctx, room))
	}()

	session, err := m.NewSession(ctx)
	require.NoError(err)
	defer func() {
		assert.NoError(session.Destroy(ctx))
	}()

	publisher, err := session.JoinPublisher(ctx, room, "publishing user")
	require.NoError(err)
	defer publisher.Close(ctx)
	_, err = publisher.Publish(ctx, &api.JSEP{
		Type: api.JSEPTypeOffer,
		SDP:  janustest.MockSdpOffer,
	})
	require.NoError(err)

	session2, err := m.NewSession(ctx)
	require.NoError(err)
	defer func() {
		assert.NoError(session2.Destroy(ctx))
	}()

	subscriber := session2.NewSubscriber(room)
	defer subscriber.Close(ctx)
	listener := newTestSubscriberListener()
	subscriber.SetListener(listener)

	// The first subscription joins the room and yields the offer of the SFU.
	require.NoError(subscriber.Subscribe(ctx, []sfu.Stream{
		{
			Feed: publisher.Id(),
		},
	}))
	select {
	case offer := <-listener.offers:
		assert.Equal(api.JSEPTypeOffer, offer.Type)
		assert.Equal(janustest.MockSdpOffer, offer.SDP)
	case <-ctx.Done():
		require.Fail("timeout waiting for subscriber offer")
	}

	require.NoError(subscriber.Start(ctx, &api.JSEP{
		Type: api.JSEPTypeAnswer,
		SDP:  janustest.MockSdpAnswer,
	}))

	assert.NoError(subscriber.SendCandidate(ctx, &sfu.Candidate{
		SdpMid:    "0",
		Candidate: "candidate:1 1 udp 2122194687 192.168.1.2 49203 typ host generation 0",
	}))

	// Updating the subscription triggers a renegotiation offer.
	require.NoError(subscriber.Unsubscribe(ctx, publisher.Id()))
	select {
	case offer := <-listener.offers:
		assert.Equal(api.JSEPTypeOffer, offer.Type)
	case <-ctx.Done():
		require.Fail("timeout waiting for renegotiation offer")
	}
}

func TestJanusSubscriberNotJoined(t *testing.T) {
	t.Parallel()
	m, _ := newJanusSFUForTesting(t)
	assert := assert.New(t)
	require := require.New(t)

	ctx, cancel := context.WithTimeout(t.Context(), testTimeout)
	defer cancel()
	room, err := m.CreateRoom(ctx, sfu.RoomSettings{})
	require.NoError(err)
	defer func() {
		assert.NoError(m.DestroyRoom(ctx, room))
	}()

	session, err := m.NewSession(ctx)
	require.NoError(err)
	defer func() {
		assert.NoError(session.Destroy(ctx))
	}()

	subscriber := session.NewSubscriber(room)
	defer subscriber.Close(ctx)

	// Without a subscription there is no connection to the SFU yet.
	assert.ErrorIs(subscriber.Start(ctx, &api.JSEP{
		Type: api.JSEPTypeAnswer,
		SDP:  janustest.MockSdpAnswer,
	}), sfu.ErrNotConnected)
	assert.ErrorIs(subscriber.Unsubscribe(ctx, 1234), sfu.ErrNotConnected)
}
