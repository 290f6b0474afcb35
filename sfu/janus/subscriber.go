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
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/log"
	"github.com/strukturag/meet-signaling/sfu"
	"github.com/strukturag/meet-signaling/sfu/janus/janus"
)

type janusSubscriber struct {
	logger  log.Logger
	session *janusSession

	room api.RoomId

	handle    atomic.Pointer[janus.Handle]
	closed    atomic.Bool
	closeChan chan struct{}

	mu sync.Mutex
	// +checklocks:mu
	listener sfu.SubscriberListener
	// +checklocks:mu
	joined bool
}

func newJanusSubscriber(session *janusSession, room api.RoomId) *janusSubscriber {
	return &janusSubscriber{
		logger:  session.logger,
		session: session,

		room: room,

		closeChan: make(chan struct{}),
	}
}

func (p *janusSubscriber) SetListener(listener sfu.SubscriberListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = listener
}

func (p *janusSubscriber) getListener() sfu.SubscriberListener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener
}

func (p *janusSubscriber) run(handle *janus.Handle, closeChan <-chan struct{}) {
loop:
	for {
		select {
		case msg := <-handle.Events:
			switch t := msg.(type) {
			case *janus.EventMsg:
				p.handleEvent(t)
			case *janus.HangupMsg:
				p.logger.Println("Subscriber received hangup", handle.Id, t.Reason)
			case *janus.DetachedMsg:
				break loop
			case *janus.MediaMsg:
				// Only triggered for publishers
			case *janus.WebRTCUpMsg:
				p.logger.Println("Subscriber is connected", handle.Id)
			case *janus.SlowLinkMsg:
				p.logger.Println("Subscriber is on a slow link", handle.Id, t.Uplink)
			case *janus.TrickleMsg:
				p.handleTrickle(t)
			default:
				p.logger.Println("Received unsupported event type", msg, reflect.TypeOf(msg))
			}
		case <-closeChan:
			break loop
		}
	}
}

func (p *janusSubscriber) handleEvent(event *janus.EventMsg) {
	videoroom := getPluginStringValue(event.Plugindata, pluginVideoRoom, "videoroom")
	switch videoroom {
	case "updated":
		// The SFU renegotiates the subscriber connection, e.g. because a
		// subscribed publisher started or stopped sending a stream.
		if offer := jsepFromMap(event.Jsep); offer != nil {
			if listener := p.getListener(); listener != nil {
				listener.ReceivedSubscriberSDP(offer)
			}
		}
	case "event":
		if getPluginStringValue(event.Plugindata, pluginVideoRoom, "configured") == "ok" {
			if offer := jsepFromMap(event.Jsep); offer != nil {
				if listener := p.getListener(); listener != nil {
					listener.ReceivedSubscriberSDP(offer)
				}
				return
			}
		}
		p.logger.Printf("Subscriber received unsupported event: %+v", event)
	case "destroyed":
		p.logger.Println("Room of subscriber has been destroyed", p.room)
	default:
		p.logger.Printf("Unsupported videoroom event %s for subscriber: %+v", videoroom, event)
	}
}

func (p *janusSubscriber) handleTrickle(event *janus.TrickleMsg) {
	if event.Candidate.Completed {
		// End-of-candidates, nothing to forward.
		return
	}

	if listener := p.getListener(); listener != nil {
		listener.ReceivedSubscriberCandidate(&sfu.Candidate{
			SdpMid:        event.Candidate.SdpMid,
			SdpMLineIndex: event.Candidate.SdpMLineIndex,
			Candidate:     event.Candidate.Candidate,
		})
	}
}

func streamsToMessage(streams []sfu.Stream) []api.StringMap {
	result := make([]api.StringMap, 0, len(streams))
	for _, stream := range streams {
		entry := api.StringMap{
			"feed": stream.Feed,
		}
		if stream.Mid != "" {
			entry["mid"] = stream.Mid
		}
		result = append(result, entry)
	}
	return result
}

func (p *janusSubscriber) joinRoom(ctx context.Context, streams []sfu.Stream) error {
	handle, err := p.session.session.Attach(ctx, pluginVideoRoom)
	if err != nil {
		return err
	}

	join_msg := api.StringMap{
		"request": "join",
		"ptype":   "subscriber",
		"room":    p.room.Value(),
		// Let the SFU adjust the subscription when publishers come and go.
		"autoupdate": true,
		"streams":    streamsToMessage(streams),
	}
	join_response, err := handle.Message(ctx, join_msg, nil)
	if err != nil {
		if _, err2 := handle.Detach(ctx); err2 != nil {
			p.logger.Printf("Error detaching handle %d: %s", handle.Id, err2)
		}
		return err
	}

	p.handle.Store(handle)
	p.mu.Lock()
	p.joined = true
	p.mu.Unlock()
	go p.run(handle, p.closeChan)
	p.logger.Printf("Joined room %s as subscriber (handle %d)", p.room, handle.Id)

	// The join response carries the initial offer of the SFU.
	if offer := jsepFromMap(join_response.Jsep); offer != nil {
		if listener := p.getListener(); listener != nil {
			listener.ReceivedSubscriberSDP(offer)
		}
	}
	return nil
}

// Subscribe adds the given streams to the subscription. The first call joins
// the room, the offer of the SFU is delivered through the listener.
func (p *janusSubscriber) Subscribe(ctx context.Context, streams []sfu.Stream) error {
	p.mu.Lock()
	joined := p.joined
	p.mu.Unlock()
	if !joined {
		return p.joinRoom(ctx, streams)
	}

	handle := p.handle.Load()
	if handle == nil {
		return sfu.ErrNotConnected
	}

	subscribe_msg := api.StringMap{
		"request": "subscribe",
		"streams": streamsToMessage(streams),
	}
	response, err := handle.Message(ctx, subscribe_msg, nil)
	if err != nil {
		return err
	}

	// A renegotiation offer is only included if the subscription changed,
	// otherwise an "updated" event will follow.
	if offer := jsepFromMap(response.Jsep); offer != nil {
		if listener := p.getListener(); listener != nil {
			listener.ReceivedSubscriberSDP(offer)
		}
	}
	return nil
}

// Unsubscribe removes all streams of the given publisher from the
// subscription.
func (p *janusSubscriber) Unsubscribe(ctx context.Context, feed uint64) error {
	handle := p.handle.Load()
	if handle == nil {
		return sfu.ErrNotConnected
	}

	unsubscribe_msg := api.StringMap{
		"request": "unsubscribe",
		"streams": []api.StringMap{
			{
				"feed": feed,
			},
		},
	}
	response, err := handle.Message(ctx, unsubscribe_msg, nil)
	if err != nil {
		return err
	}

	if offer := jsepFromMap(response.Jsep); offer != nil {
		if listener := p.getListener(); listener != nil {
			listener.ReceivedSubscriberSDP(offer)
		}
	}
	return nil
}

// Start confirms the answer of the client to an offer of the SFU.
func (p *janusSubscriber) Start(ctx context.Context, jsep *api.JSEP) error {
	handle := p.handle.Load()
	if handle == nil {
		return sfu.ErrNotConnected
	}

	start_msg := api.StringMap{
		"request": "start",
		"room":    p.room.Value(),
	}
	response, err := handle.Message(ctx, start_msg, jsepToMap(jsep))
	if err != nil {
		return err
	}

	if started := getPluginStringValue(response.Plugindata, pluginVideoRoom, "started"); started != "ok" {
		return fmt.Errorf("unexpected response to start request: %+v", response)
	}
	return nil
}

func (p *janusSubscriber) SendCandidate(ctx context.Context, candidate *sfu.Candidate) error {
	handle := p.handle.Load()
	if handle == nil {
		return sfu.ErrNotConnected
	}

	_, err := handle.Trickle(ctx, candidate)
	return err
}

func (p *janusSubscriber) Close(ctx context.Context) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	if handle := p.handle.Swap(nil); handle != nil {
		close(p.closeChan)
		if _, err := handle.Detach(ctx); err != nil {
			if !isJanusError(err, janus.JANUS_ERROR_HANDLE_NOT_FOUND) && !isJanusError(err, janus.JANUS_ERROR_SESSION_NOT_FOUND) {
				p.logger.Println("Could not detach subscriber", handle.Id, err)
			}
		}
	}
	statsSubscribersCurrent.Dec()
}
