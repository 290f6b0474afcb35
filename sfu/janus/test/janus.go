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
package test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/sfu/janus/janus"
)

const (
	pluginVideoRoom = "janus.plugin.videoroom"

	// MockSdpOffer is a minimal offer the fake SFU hands out to subscribers.
	MockSdpOffer = "v=0\r\no=- 1 2 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\nm=audio 1 RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=mid:0\r\na=rtpmap:111 opus/48000/2\r\n"
	// MockSdpAnswer is the answer the fake SFU returns to publishers.
	MockSdpAnswer = "v=0\r\no=- 1 2 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\nm=audio 1 RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=mid:0\r\na=rtpmap:111 opus/48000/2\r\n"
)

func toUint(value any) uint64 {
	switch t := value.(type) {
	case float64:
		return uint64(t)
	case json.Number:
		r, _ := t.Int64()
		return uint64(r)
	case uint64:
		return t
	case int:
		return uint64(t)
	default:
		return 0
	}
}

type JanusHandle struct {
	id      uint64
	session *janus.Session

	// Set once the handle joined a room.
	room  atomic.Pointer[JanusRoom]
	ptype atomic.Value

	publisherId atomic.Uint64
	display     atomic.Value
	sdp         atomic.Value
}

type JanusRoom struct {
	id         uint64
	publishers int

	mu sync.Mutex
	// +checklocks:mu
	members map[*JanusHandle]bool
}

func (r *JanusRoom) Id() uint64 {
	return r.id
}

type JanusGateway struct {
	t *testing.T

	sid atomic.Uint64
	tid atomic.Uint64
	hid atomic.Uint64 // +checklocksignore: Atomic
	rid atomic.Uint64 // +checklocksignore: Atomic
	pid atomic.Uint64 // +checklocksignore: Atomic
	mu  sync.Mutex

	// +checklocks:mu
	sessions map[uint64]*janus.Session
	// +checklocks:mu
	transactions map[uint64]*janus.Transaction
	// +checklocks:mu
	handles map[uint64]*JanusHandle
	// +checklocks:mu
	rooms map[uint64]*JanusRoom
}

func NewJanusGateway(t *testing.T) *JanusGateway {
	gateway := &JanusGateway{
		t: t,

		sessions:     make(map[uint64]*janus.Session),
		transactions: make(map[uint64]*janus.Transaction),
		handles:      make(map[uint64]*JanusHandle),
		rooms:        make(map[uint64]*JanusRoom),
	}

	t.Cleanup(func() {
		assert := assert.New(t)
		gateway.mu.Lock()
		defer gateway.mu.Unlock()
		assert.Empty(gateway.sessions)
		assert.Empty(gateway.transactions)
	})

	return gateway
}

func (g *JanusGateway) CountRooms() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

func (g *JanusGateway) CountHandles() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

func (g *JanusGateway) Info(ctx context.Context) (*janus.InfoMsg, error) {
	return &janus.InfoMsg{
		Name:           "TestJanus",
		Version:        1400,
		VersionString:  "1.4.0",
		Author:         "struktur AG",
		DataChannels:   true,
		FullTrickle:    true,
		SessionTimeout: 60,
		Plugins: map[string]janus.PluginInfo{
			pluginVideoRoom: {
				Name:          "Test VideoRoom plugin",
				VersionString: "0.0.0",
				Author:        "struktur AG",
			},
		},
	}, nil
}

func (g *JanusGateway) Create(ctx context.Context) (*janus.Session, error) {
	sid := g.sid.Add(1)
	session := janus.NewSession(sid, g)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sid] = session
	return session, nil
}

func (g *JanusGateway) Close() error {
	return nil
}

func (g *JanusGateway) deliverEvent(handle *JanusHandle, event any) {
	go func() {
		handle.session.Lock()
		h, found := handle.session.Handles[handle.id]
		handle.session.Unlock()
		if found {
			h.Events <- event
		}
	}()
}

// notifyRoom sends an event to all members of the room with the given ptype,
// except the sender itself.
func (g *JanusGateway) notifyRoom(room *JanusRoom, sender *JanusHandle, ptype string, data api.StringMap) {
	data["videoroom"] = "event"
	data["room"] = room.id
	room.mu.Lock()
	defer room.mu.Unlock()
	for member := range room.members {
		if member == sender || member.ptype.Load() != ptype {
			continue
		}

		g.deliverEvent(member, &janus.EventMsg{
			Session: member.session.Id,
			Handle:  member.id,
			Plugindata: janus.PluginData{
				Plugin: pluginVideoRoom,
				Data:   data,
			},
		})
	}
}

func publisherEntry(handle *JanusHandle) map[string]any {
	// Use plain "map[string]any" values so entries have the same dynamic
	// type as plugin data decoded from JSON by the real gateway.
	return map[string]any{
		"id":      handle.publisherId.Load(),
		"display": handle.display.Load(),
		"streams": []any{
			map[string]any{
				"type": "audio",
				"mid":  "0",
			},
			map[string]any{
				"type": "video",
				"mid":  "1",
			},
		},
	}
}

// +checklocks:g.mu
func (g *JanusGateway) processMessage(session *janus.Session, handle *JanusHandle, body api.StringMap, jsep api.StringMap) any {
	request := body["request"].(string)
	switch request {
	case "create":
		room := &JanusRoom{
			id:         g.rid.Add(1),
			publishers: int(toUint(body["publishers"])),

			members: make(map[*JanusHandle]bool),
		}
		g.rooms[room.id] = room

		return &janus.SuccessMsg{
			PluginData: janus.PluginData{
				Plugin: pluginVideoRoom,
				Data: api.StringMap{
					"videoroom": "created",
					"room":      room.id,
				},
			},
		}
	case "destroy":
		rid := toUint(body["room"])
		room := g.rooms[rid]
		if room == nil {
			return &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_VIDEOROOM_ERROR_NO_SUCH_ROOM,
					Reason: "Room not found",
				},
			}
		}

		delete(g.rooms, rid)
		return &janus.SuccessMsg{
			PluginData: janus.PluginData{
				Plugin: pluginVideoRoom,
				Data: api.StringMap{
					"videoroom": "destroyed",
					"room":      room.id,
				},
			},
		}
	case "join":
		room := g.rooms[toUint(body["room"])]
		if room == nil {
			return &janus.EventMsg{
				Plugindata: janus.PluginData{
					Plugin: pluginVideoRoom,
					Data: api.StringMap{
						"error_code": janus.JANUS_VIDEOROOM_ERROR_NO_SUCH_ROOM,
					},
				},
			}
		}

		ptype := body["ptype"].(string)
		handle.ptype.Store(ptype)
		handle.room.Store(room)
		room.mu.Lock()
		room.members[handle] = true
		var publishers []any
		for member := range room.members {
			if member != handle && member.ptype.Load() == "publisher" && member.sdp.Load() != nil {
				publishers = append(publishers, publisherEntry(member))
			}
		}
		room.mu.Unlock()

		switch ptype {
		case "publisher":
			handle.publisherId.Store(g.pid.Add(1))
			if display, found := body["display"]; found {
				handle.display.Store(display.(string))
			} else {
				handle.display.Store("")
			}

			data := api.StringMap{
				"videoroom":  "joined",
				"room":       room.id,
				"id":         handle.publisherId.Load(),
				"private_id": handle.publisherId.Load() + 1000,
			}
			if len(publishers) > 0 {
				data["publishers"] = publishers
			}
			return &janus.EventMsg{
				Session: session.Id,
				Handle:  handle.id,
				Plugindata: janus.PluginData{
					Plugin: pluginVideoRoom,
					Data:   data,
				},
			}
		case "subscriber":
			return &janus.EventMsg{
				Session: session.Id,
				Handle:  handle.id,
				Plugindata: janus.PluginData{
					Plugin: pluginVideoRoom,
					Data: api.StringMap{
						"videoroom": "attached",
						"room":      room.id,
					},
				},
				Jsep: map[string]any{
					"type": "offer",
					"sdp":  MockSdpOffer,
				},
			}
		}
	case "publish":
		room := handle.room.Load()
		if room == nil {
			return &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_VIDEOROOM_ERROR_JOIN_FIRST,
					Reason: "Not joined to a room yet",
				},
			}
		}

		handle.sdp.Store(jsep["sdp"].(string))
		g.notifyRoom(room, handle, "publisher", api.StringMap{
			"publishers": []any{publisherEntry(handle)},
		})

		return &janus.EventMsg{
			Session: session.Id,
			Handle:  handle.id,
			Plugindata: janus.PluginData{
				Plugin: pluginVideoRoom,
				Data: api.StringMap{
					"videoroom":  "event",
					"room":       room.id,
					"configured": "ok",
				},
			},
			Jsep: map[string]any{
				"type": "answer",
				"sdp":  MockSdpAnswer,
			},
		}
	case "unpublish":
		room := handle.room.Load()
		if room == nil || handle.sdp.Load() == nil {
			return &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_VIDEOROOM_ERROR_NOT_PUBLISHED,
					Reason: "Not publishing",
				},
			}
		}

		g.notifyRoom(room, handle, "publisher", api.StringMap{
			"unpublished": handle.publisherId.Load(),
		})
		return &janus.EventMsg{
			Session: session.Id,
			Handle:  handle.id,
			Plugindata: janus.PluginData{
				Plugin: pluginVideoRoom,
				Data: api.StringMap{
					"videoroom":   "event",
					"room":        room.id,
					"unpublished": "ok",
				},
			},
		}
	case "leave":
		room := handle.room.Load()
		if room == nil {
			return &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_VIDEOROOM_ERROR_JOIN_FIRST,
					Reason: "Not joined to a room yet",
				},
			}
		}

		room.mu.Lock()
		delete(room.members, handle)
		room.mu.Unlock()
		handle.room.Store(nil)
		g.notifyRoom(room, handle, "publisher", api.StringMap{
			"leaving": handle.publisherId.Load(),
		})
		return &janus.EventMsg{
			Session: session.Id,
			Handle:  handle.id,
			Plugindata: janus.PluginData{
				Plugin: pluginVideoRoom,
				Data: api.StringMap{
					"videoroom": "event",
					"room":      room.id,
					"leaving":   "ok",
				},
			},
		}
	case "subscribe", "unsubscribe":
		room := handle.room.Load()
		if room == nil {
			return &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_VIDEOROOM_ERROR_JOIN_FIRST,
					Reason: "Not joined to a room yet",
				},
			}
		}

		return &janus.EventMsg{
			Session: session.Id,
			Handle:  handle.id,
			Plugindata: janus.PluginData{
				Plugin: pluginVideoRoom,
				Data: api.StringMap{
					"videoroom": "updated",
					"room":      room.id,
				},
			},
			Jsep: map[string]any{
				"type": "offer",
				"sdp":  MockSdpOffer,
			},
		}
	case "start":
		room := handle.room.Load()
		if room == nil {
			return &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_VIDEOROOM_ERROR_JOIN_FIRST,
					Reason: "Not joined to a room yet",
				},
			}
		}

		return &janus.EventMsg{
			Session: session.Id,
			Handle:  handle.id,
			Plugindata: janus.PluginData{
				Plugin: pluginVideoRoom,
				Data: api.StringMap{
					"videoroom": "event",
					"room":      room.id,
					"started":   "ok",
				},
			},
		}
	}

	return nil
}

func (g *JanusGateway) processRequest(msg api.StringMap) any {
	method, found := msg["janus"]
	if !found {
		return nil
	}

	sid := toUint(msg["session_id"])
	g.mu.Lock()
	defer g.mu.Unlock()
	session := g.sessions[sid]
	if session == nil {
		return &janus.ErrorMsg{
			Err: janus.ErrorData{
				Code:   janus.JANUS_ERROR_SESSION_NOT_FOUND,
				Reason: "Session not found",
			},
		}
	}

	switch method {
	case "keepalive":
		return &janus.AckMsg{}
	case "attach":
		handle := &JanusHandle{
			id:      g.hid.Add(1),
			session: session,
		}

		g.handles[handle.id] = handle

		return &janus.SuccessMsg{
			Data: janus.SuccessData{
				ID: handle.id,
			},
		}
	case "detach":
		hid := toUint(msg["handle_id"])
		handle, found := g.handles[hid]
		if !found {
			return &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_ERROR_HANDLE_NOT_FOUND,
					Reason: "Handle not found",
				},
			}
		}

		delete(g.handles, handle.id)
		if room := handle.room.Load(); room != nil {
			room.mu.Lock()
			delete(room.members, handle)
			room.mu.Unlock()
		}
		return &janus.AckMsg{}
	case "destroy":
		delete(g.sessions, session.Id)
		session.Lock()
		for hid := range session.Handles {
			if handle, found := g.handles[hid]; found {
				delete(g.handles, hid)
				if room := handle.room.Load(); room != nil {
					room.mu.Lock()
					delete(room.members, handle)
					room.mu.Unlock()
				}
			}
		}
		session.Unlock()
		return &janus.AckMsg{}
	case "trickle":
		hid := toUint(msg["handle_id"])
		if _, found := g.handles[hid]; !found {
			return &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_ERROR_HANDLE_NOT_FOUND,
					Reason: "Handle not found",
				},
			}
		}

		return &janus.AckMsg{}
	case "message":
		hid := toUint(msg["handle_id"])
		handle, found := g.handles[hid]
		if !found {
			return &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_ERROR_HANDLE_NOT_FOUND,
					Reason: "Handle not found",
				},
			}
		}

		body, ok := api.ConvertStringMap(msg["body"])
		if !assert.True(g.t, ok, "not a string map: %+v", msg["body"]) {
			return nil
		}

		var result any
		if jsepOb, found := msg["jsep"]; found {
			if jsep, ok := api.ConvertStringMap(jsepOb); assert.True(g.t, ok, "not a string map: %+v", jsepOb) {
				result = g.processMessage(session, handle, body, jsep)
			}
		} else {
			result = g.processMessage(session, handle, body, nil)
		}

		if ev, ok := result.(*janus.EventMsg); ok {
			if ev.Session == 0 {
				ev.Session = sid
			}
			if ev.Handle == 0 {
				ev.Handle = handle.id
			}
		}
		return result
	}

	return nil
}

func (g *JanusGateway) Send(msg api.StringMap, t *janus.Transaction) (uint64, error) {
	tid := g.tid.Add(1)

	data, err := json.Marshal(msg)
	require.NoError(g.t, err)
	err = json.Unmarshal(data, &msg)
	require.NoError(g.t, err)

	go t.Run()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.transactions[tid] = t

	go func() {
		result := g.processRequest(msg)
		if !assert.NotNil(g.t, result, "Unsupported request %+v", msg) {
			result = &janus.ErrorMsg{
				Err: janus.ErrorData{
					Code:   janus.JANUS_ERROR_UNKNOWN,
					Reason: "Not implemented",
				},
			}
		}

		t.Add(result)
	}()

	return tid, nil
}

func (g *JanusGateway) RemoveTransaction(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, found := g.transactions[id]; found {
		delete(g.transactions, id)
		t.Quit()
	}
}

func (g *JanusGateway) RemoveSession(session *janus.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, session.Id)
}
