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
	"time"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/internal"
	"github.com/strukturag/meet-signaling/log"
	"github.com/strukturag/meet-signaling/sfu"
	"github.com/strukturag/meet-signaling/sfu/janus/janus"
)

type janusSession struct {
	logger log.Logger

	sfu     *janusSFU
	session *janus.Session
	closer  *internal.Closer
}

func newJanusSession(m *janusSFU, session *janus.Session) *janusSession {
	result := &janusSession{
		logger: m.logger,

		sfu:     m,
		session: session,
		closer:  internal.NewCloser(),
	}
	go result.run()
	return result
}

func (s *janusSession) run() {
	ticker := time.NewTicker(s.sfu.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.session.KeepAlive(context.Background()); err != nil {
				if s.closer.IsClosed() {
					return
				}
				s.logger.Printf("Could not send keepalive request for session %d: %s", s.session.Id, err)
				if isJanusError(err, janus.JANUS_ERROR_SESSION_NOT_FOUND) {
					return
				}
			}
		case <-s.closer.C:
			return
		}
	}
}

func (s *janusSession) Id() uint64 {
	return s.session.Id
}

func parsePublishersList(logger log.Logger, value any) []sfu.PublisherInfo {
	list, ok := value.([]any)
	if !ok {
		return nil
	}

	var result []sfu.PublisherInfo
	for _, entry := range list {
		data, ok := entry.(map[string]any)
		if !ok {
			logger.Printf("Unsupported entry in publishers list: %+v", entry)
			continue
		}

		id, err := convertIntValue(data["id"])
		if err != nil {
			logger.Printf("Unsupported publisher id in %+v: %s", data, err)
			continue
		}

		info := sfu.PublisherInfo{
			Id: id,
		}
		info.Display, _ = api.GetStringMapEntry[string](data, "display")
		if streams, ok := data["streams"].([]any); ok {
			for _, s := range streams {
				stream, ok := s.(map[string]any)
				if !ok {
					continue
				}

				var streamInfo sfu.StreamInfo
				streamInfo.Type, _ = api.GetStringMapEntry[string](stream, "type")
				streamInfo.Mid, _ = api.GetStringMapEntry[string](stream, "mid")
				info.Streams = append(info.Streams, streamInfo)
			}
		}
		result = append(result, info)
	}
	return result
}

// JoinPublisher joins the given room as a publisher. Events for the room
// roster will be delivered to the listener that is registered on the
// returned publisher.
func (s *janusSession) JoinPublisher(ctx context.Context, room api.RoomId, display string) (sfu.Publisher, error) {
	handle, err := s.session.Attach(ctx, pluginVideoRoom)
	if err != nil {
		return nil, err
	}

	join_msg := api.StringMap{
		"request": "join",
		"ptype":   "publisher",
		"room":    room.Value(),
	}
	if display != "" {
		join_msg["display"] = display
	}

	join_response, err := handle.Message(ctx, join_msg, nil)
	if err != nil {
		if _, err2 := handle.Detach(ctx); err2 != nil {
			s.logger.Printf("Error detaching handle %d: %s", handle.Id, err2)
		}
		return nil, err
	}

	if videoroom := getPluginStringValue(join_response.Plugindata, pluginVideoRoom, "videoroom"); videoroom != "joined" {
		if _, err2 := handle.Detach(ctx); err2 != nil {
			s.logger.Printf("Error detaching handle %d: %s", handle.Id, err2)
		}
		return nil, fmt.Errorf("unexpected response to publisher join request: %+v", join_response)
	}

	id := getPluginIntValue(s.logger, join_response.Plugindata, pluginVideoRoom, "id")
	privateId := getPluginIntValue(s.logger, join_response.Plugindata, pluginVideoRoom, "private_id")

	publisher := newJanusPublisher(s, handle, room, id, privateId)
	s.logger.Printf("Joined room %s as publisher %d (handle %d)", room, id, handle.Id)

	// Publishers that were already in the room are reported in the join
	// response instead of a separate event.
	if existing := parsePublishersList(s.logger, getPluginValue(join_response.Plugindata, pluginVideoRoom, "publishers")); len(existing) > 0 {
		publisher.addPublishers(existing)
	}

	statsPublishersCurrent.Inc()
	return publisher, nil
}

// NewSubscriber prepares a subscriber for the given room. No connection to
// the SFU is made until the first set of streams is subscribed.
func (s *janusSession) NewSubscriber(room api.RoomId) sfu.Subscriber {
	statsSubscribersCurrent.Inc()
	return newJanusSubscriber(s, room)
}

func (s *janusSession) Destroy(ctx context.Context) error {
	if s.closer.IsClosed() {
		return nil
	}

	s.closer.Close()
	statsSessionsCurrent.Dec()
	if _, err := s.session.Destroy(ctx); err != nil {
		if isJanusError(err, janus.JANUS_ERROR_SESSION_NOT_FOUND) {
			// The session already timed out on the SFU.
			return nil
		}
		return err
	}
	return nil
}
