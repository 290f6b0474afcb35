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

	"github.com/pion/sdp/v3"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/log"
	"github.com/strukturag/meet-signaling/sfu"
	"github.com/strukturag/meet-signaling/sfu/janus/janus"
)

type janusPublisher struct {
	logger  log.Logger
	session *janusSession

	room      api.RoomId
	id        uint64
	privateId uint64

	handle    atomic.Pointer[janus.Handle]
	closeChan chan struct{}

	mu sync.Mutex
	// +checklocks:mu
	listener sfu.PublisherListener
	// +checklocks:mu
	publishers map[uint64]sfu.PublisherInfo
}

func newJanusPublisher(session *janusSession, handle *janus.Handle, room api.RoomId, id uint64, privateId uint64) *janusPublisher {
	result := &janusPublisher{
		logger:  session.logger,
		session: session,

		room:      room,
		id:        id,
		privateId: privateId,

		closeChan: make(chan struct{}),

		publishers: make(map[uint64]sfu.PublisherInfo),
	}
	result.handle.Store(handle)
	go result.run(handle, result.closeChan)
	return result
}

func (p *janusPublisher) run(handle *janus.Handle, closeChan <-chan struct{}) {
loop:
	for {
		select {
		case msg := <-handle.Events:
			switch t := msg.(type) {
			case *janus.EventMsg:
				p.handleEvent(t)
			case *janus.HangupMsg:
				p.logger.Println("Publisher received hangup", p.id, t.Reason)
			case *janus.DetachedMsg:
				break loop
			case *janus.MediaMsg:
				p.logger.Println("Publisher received media", p.id, t.Type, t.Receiving)
			case *janus.WebRTCUpMsg:
				p.logger.Println("Publisher is connected", p.id)
			case *janus.SlowLinkMsg:
				p.logger.Println("Publisher is on a slow link", p.id, t.Uplink)
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

func (p *janusPublisher) Id() uint64 {
	return p.id
}

func (p *janusPublisher) PrivateId() uint64 {
	return p.privateId
}

func (p *janusPublisher) SetListener(listener sfu.PublisherListener) {
	p.mu.Lock()
	p.listener = listener
	var pending []sfu.PublisherInfo
	for _, info := range p.publishers {
		pending = append(pending, info)
	}
	p.mu.Unlock()

	if listener != nil && len(pending) > 0 {
		listener.AddedPublishers(pending)
	}
}

func (p *janusPublisher) addPublishers(publishers []sfu.PublisherInfo) {
	p.mu.Lock()
	listener := p.listener
	added := make([]sfu.PublisherInfo, 0, len(publishers))
	for _, info := range publishers {
		if info.Id == p.id {
			// Our own streams are not interesting.
			continue
		}

		p.publishers[info.Id] = info
		added = append(added, info)
	}
	p.mu.Unlock()

	if listener != nil && len(added) > 0 {
		listener.AddedPublishers(added)
	}
}

func (p *janusPublisher) removePublisher(id uint64) {
	p.mu.Lock()
	listener := p.listener
	_, found := p.publishers[id]
	delete(p.publishers, id)
	p.mu.Unlock()

	if listener != nil && found {
		listener.RemovedPublisher(id)
	}
}

func (p *janusPublisher) handleEvent(event *janus.EventMsg) {
	videoroom := getPluginStringValue(event.Plugindata, pluginVideoRoom, "videoroom")
	if videoroom != "event" {
		p.logger.Println("Publisher received unsupported event", p.id, event)
		return
	}

	room, ok := api.RoomIdFromValue(getPluginValue(event.Plugindata, pluginVideoRoom, "room"))
	if ok && !room.Equal(p.room) {
		p.logger.Printf("Publisher %d received event for other room %s, expected %s", p.id, room, p.room)
		return
	}

	if value := getPluginValue(event.Plugindata, pluginVideoRoom, "publishers"); value != nil {
		p.addPublishers(parsePublishersList(p.logger, value))
		return
	}

	if value := getPluginValue(event.Plugindata, pluginVideoRoom, "unpublished"); value != nil {
		if id, err := convertIntValue(value); err == nil {
			p.removePublisher(id)
		}
		return
	}

	if value := getPluginValue(event.Plugindata, pluginVideoRoom, "leaving"); value != nil {
		if id, err := convertIntValue(value); err == nil {
			p.removePublisher(id)
		}
		return
	}
}

func (p *janusPublisher) handleTrickle(event *janus.TrickleMsg) {
	if event.Candidate.Completed {
		// End-of-candidates, nothing to forward.
		return
	}

	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()
	if listener == nil {
		return
	}

	listener.ReceivedPublisherCandidate(&sfu.Candidate{
		SdpMid:        event.Candidate.SdpMid,
		SdpMLineIndex: event.Candidate.SdpMLineIndex,
		Candidate:     event.Candidate.Candidate,
	})
}

func (p *janusPublisher) Publish(ctx context.Context, jsep *api.JSEP) (*api.JSEP, error) {
	handle := p.handle.Load()
	if handle == nil {
		return nil, sfu.ErrNotConnected
	}

	var offerSdp sdp.SessionDescription
	if err := offerSdp.UnmarshalString(jsep.SDP); err != nil {
		return nil, fmt.Errorf("could not parse offer: %w", err)
	}
	if len(offerSdp.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("no media sections in offer from publisher %d", p.id)
	}
	for _, media := range offerSdp.MediaDescriptions {
		mid, _ := media.Attribute(sdp.AttrKeyMID)
		p.logger.Printf("Publisher %d sends %s with mid %s", p.id, media.MediaName.Media, mid)
	}

	publish_msg := api.StringMap{
		"request": "publish",
	}
	answer_msg, err := handle.Message(ctx, publish_msg, jsepToMap(jsep))
	if err != nil {
		return nil, err
	}

	if configured := getPluginStringValue(answer_msg.Plugindata, pluginVideoRoom, "configured"); configured != "ok" {
		return nil, fmt.Errorf("unexpected response to publish request: %+v", answer_msg)
	}

	answer := jsepFromMap(answer_msg.Jsep)
	if answer == nil {
		return nil, fmt.Errorf("no answer in response to publish request: %+v", answer_msg)
	}
	return answer, nil
}

func (p *janusPublisher) Unpublish(ctx context.Context) error {
	handle := p.handle.Load()
	if handle == nil {
		return sfu.ErrNotConnected
	}

	unpublish_msg := api.StringMap{
		"request": "unpublish",
	}
	response, err := handle.Message(ctx, unpublish_msg, nil)
	if err != nil {
		if isJanusError(err, janus.JANUS_VIDEOROOM_ERROR_NOT_PUBLISHED) {
			return nil
		}
		return err
	}

	if unpublished := getPluginStringValue(response.Plugindata, pluginVideoRoom, "unpublished"); unpublished != "ok" {
		return fmt.Errorf("unexpected response to unpublish request: %+v", response)
	}
	return nil
}

func (p *janusPublisher) Leave(ctx context.Context) error {
	handle := p.handle.Load()
	if handle == nil {
		return sfu.ErrNotConnected
	}

	leave_msg := api.StringMap{
		"request": "leave",
	}
	response, err := handle.Message(ctx, leave_msg, nil)
	if err != nil {
		return err
	}

	if leaving := getPluginStringValue(response.Plugindata, pluginVideoRoom, "leaving"); leaving != "ok" {
		return fmt.Errorf("unexpected response to leave request: %+v", response)
	}
	return nil
}

func (p *janusPublisher) SendCandidate(ctx context.Context, candidate *sfu.Candidate) error {
	handle := p.handle.Load()
	if handle == nil {
		return sfu.ErrNotConnected
	}

	_, err := handle.Trickle(ctx, candidate)
	return err
}

func (p *janusPublisher) Close(ctx context.Context) {
	if handle := p.handle.Swap(nil); handle != nil {
		close(p.closeChan)
		if _, err := handle.Detach(ctx); err != nil {
			if !isJanusError(err, janus.JANUS_ERROR_HANDLE_NOT_FOUND) && !isJanusError(err, janus.JANUS_ERROR_SESSION_NOT_FOUND) {
				p.logger.Println("Could not detach publisher", p.id, err)
			}
		}
		statsPublishersCurrent.Dec()
	}
}
