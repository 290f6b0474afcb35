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
package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/jingle"
	"github.com/strukturag/meet-signaling/log"
	"github.com/strukturag/meet-signaling/meet"
	"github.com/strukturag/meet-signaling/sfu"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Maximum time a single client request may take.
	requestTimeout = 30 * time.Second
)

// GatewayClient is one connected signaling client. It relays frames to the
// participation of the client and implements meet.ParticipationListener to
// push events back over the connection.
type GatewayClient struct {
	gateway *Gateway
	conn    *websocket.Conn
	logger  log.Logger
	addr    string

	closeOnce sync.Once
	closed    chan struct{}

	writeMu sync.Mutex

	mu            sync.Mutex
	address       api.Address
	meet          *meet.Meet
	participation *meet.Participation
}

func newGatewayClient(gateway *Gateway, conn *websocket.Conn, addr string) *GatewayClient {
	return &GatewayClient{
		gateway: gateway,
		conn:    conn,
		logger:  gateway.logger,
		addr:    addr,

		closed: make(chan struct{}),
	}
}

func (c *GatewayClient) run() {
	defer c.close()

	go c.pingLoop()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) // nolint
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Printf("Error reading from %s: %s", c.addr, err)
			}
			return
		}

		var message GatewayMessage
		if err := json.Unmarshal(data, &message); err != nil {
			c.sendError("", InvalidFormat)
			continue
		}

		c.processMessage(&message)
	}
}

func (c *GatewayClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *GatewayClient) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close() // nolint

		// The connection is the presence of the participant, dropping it
		// leaves any joined meeting.
		c.mu.Lock()
		joined := c.meet
		address := c.address
		c.meet = nil
		c.participation = nil
		c.mu.Unlock()
		if joined != nil {
			if err := c.gateway.repository.Presence().RemoveAddress(joined.Address(), address); err != nil {
				c.logger.Printf("Could not remove %s from %s: %s", address, joined.Address(), err)
			}
		}

		c.gateway.removeClient(c)
	})
}

func (c *GatewayClient) SendMessage(message *GatewayMessage) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait)) // nolint
	if err := c.conn.WriteJSON(message); err != nil {
		c.logger.Printf("Could not send message %s to %s: %s", message, c.addr, err)
		return false
	}
	return true
}

func (c *GatewayClient) sendError(id string, e *ErrorMessage) {
	c.SendMessage(&GatewayMessage{
		Id:    id,
		Type:  "error",
		Error: e,
	})
}

func (c *GatewayClient) sendResult(id string, result *ResultMessage) {
	if result == nil {
		result = &ResultMessage{}
	}
	c.SendMessage(&GatewayMessage{
		Id:     id,
		Type:   "result",
		Result: result,
	})
}

func (c *GatewayClient) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.gateway.ctx, requestTimeout)
}

func (c *GatewayClient) getAddress() api.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.address
}

func (c *GatewayClient) getParticipation() *meet.Participation {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.participation
}

func (c *GatewayClient) processMessage(message *GatewayMessage) {
	if message.Type == "hello" {
		c.processHello(message)
		return
	}

	if c.getAddress() == "" {
		c.sendError(message.Id, HelloExpected)
		return
	}

	switch message.Type {
	case "create":
		c.processCreate(message)
	case "join":
		c.processJoin(message)
	case "leave":
		c.processLeave(message)
	case "allow":
		c.processAllow(message)
	case "deny":
		c.processDeny(message)
	case "jingle":
		c.processJingle(message)
	case "bye":
		c.sendResult(message.Id, nil)
		c.close()
	default:
		c.sendError(message.Id, InvalidFormat)
	}
}

func (c *GatewayClient) processHello(message *GatewayMessage) {
	if message.Hello == nil || message.Hello.Address == "" {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	c.mu.Lock()
	if c.address != "" {
		c.mu.Unlock()
		c.sendError(message.Id, NewError("already_helloed", "A \"hello\" was already sent."))
		return
	}
	c.address = message.Hello.Address
	c.mu.Unlock()

	c.SendMessage(&GatewayMessage{
		Id:   message.Id,
		Type: "welcome",
		Welcome: &WelcomeMessage{
			Version: c.gateway.version,
		},
	})
}

func (c *GatewayClient) processCreate(message *GatewayMessage) {
	if message.Create == nil || message.Create.Meet == "" {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	address := c.getAddress()
	if !c.gateway.repository.CheckCreatePermission(address) {
		c.sendError(message.Id, NotAllowedError)
		return
	}

	ctx, cancel := c.requestContext()
	defer cancel()

	created, err := c.gateway.repository.Create(ctx, message.Create.Meet, message.Create.MaxPublishers)
	if err != nil {
		c.sendError(message.Id, WrapError(err))
		return
	}

	// The creator may always join their own meeting.
	created.Allow(address)

	roomId := created.RoomId()
	c.sendResult(message.Id, &ResultMessage{
		Room: &roomId,
	})
}

func (c *GatewayClient) processJoin(message *GatewayMessage) {
	if message.Join == nil || message.Join.Meet == "" {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	c.mu.Lock()
	if c.meet != nil {
		c.mu.Unlock()
		c.sendError(message.Id, WrapError(meet.ErrParticipationExists))
		return
	}
	c.mu.Unlock()

	address := c.getAddress()
	joined, err := c.gateway.repository.GetMeet(message.Join.Meet)
	if err != nil {
		c.sendError(message.Id, WrapError(err))
		return
	}

	ctx, cancel := c.requestContext()
	defer cancel()

	participation, err := joined.Join(ctx, address)
	if err != nil {
		c.sendError(message.Id, WrapError(err))
		return
	}

	participation.SetListener(c)
	if err := c.gateway.repository.Presence().AddAddress(joined.Address(), address); err != nil {
		c.logger.Printf("Could not mark %s as available in %s: %s", address, joined.Address(), err)
	}

	c.mu.Lock()
	c.meet = joined
	c.participation = participation
	c.mu.Unlock()

	c.sendResult(message.Id, nil)
}

func (c *GatewayClient) processLeave(message *GatewayMessage) {
	c.mu.Lock()
	joined := c.meet
	address := c.address
	c.meet = nil
	c.participation = nil
	c.mu.Unlock()

	if joined == nil {
		c.sendError(message.Id, NotInMeet)
		return
	}

	// Removing the presence triggers the leave of the participation.
	if err := c.gateway.repository.Presence().RemoveAddress(joined.Address(), address); err != nil {
		c.sendError(message.Id, WrapError(err))
		return
	}

	c.sendResult(message.Id, nil)
}

func (c *GatewayClient) withMeet(message *GatewayMessage) *meet.Meet {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.meet == nil {
		c.sendError(message.Id, NotInMeet)
		return nil
	}
	return c.meet
}

func (c *GatewayClient) processAllow(message *GatewayMessage) {
	if message.Allow == nil || message.Allow.Address == "" {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	joined := c.withMeet(message)
	if joined == nil {
		return
	}

	joined.Allow(message.Allow.Address)
	c.sendResult(message.Id, nil)
}

func (c *GatewayClient) processDeny(message *GatewayMessage) {
	if message.Deny == nil || message.Deny.Address == "" {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	joined := c.withMeet(message)
	if joined == nil {
		return
	}

	ctx, cancel := c.requestContext()
	defer cancel()

	joined.Deny(ctx, message.Deny.Address)
	c.sendResult(message.Id, nil)
}

// parseClientSDP parses a description the client sent. Contents of both legs
// are created by the session initiator, the client on the publisher leg and
// the gateway on the subscriber leg.
func parseClientSDP(text string) *jingle.SDP {
	sdp, _ := jingle.ParseSDP(text, jingle.StaticCreator(jingle.CreatorInitiator), jingle.CreatorInitiator, jingle.DirectionIncoming)
	return sdp
}

func (c *GatewayClient) processJingle(message *GatewayMessage) {
	request := message.Jingle
	if request == nil || request.Sid == "" || !request.Action.IsValid() {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	participation := c.getParticipation()
	if participation == nil {
		c.sendError(message.Id, NotInMeet)
		return
	}

	switch request.Action {
	case jingle.ActionSessionInitiate:
		c.processSessionInitiate(message, participation)
	case jingle.ActionSessionAccept:
		c.processSessionAccept(message, participation)
	case jingle.ActionContentAdd, jingle.ActionContentModify, jingle.ActionContentRemove, jingle.ActionContentAccept:
		c.processContentUpdate(message, participation)
	case jingle.ActionTransportInfo:
		c.processTransportInfo(message, participation)
	case jingle.ActionSessionTerminate:
		c.processSessionTerminate(message, participation)
	default:
		c.sendError(message.Id, InvalidFormat)
	}
}

// processSessionInitiate handles the offer of the client that starts the
// publisher leg. The answer of the SFU is returned as a "session-accept".
func (c *GatewayClient) processSessionInitiate(message *GatewayMessage, participation *meet.Participation) {
	request := message.Jingle
	if request.SDP == nil {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	offer := parseClientSDP(*request.SDP)
	if offer == nil {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	ctx, cancel := c.requestContext()
	defer cancel()

	participation.StartPublisherSession(request.Sid)
	answer, err := participation.SendPublisherSDP(ctx, request.Sid, jingle.ContentActionInit, offer)
	if err != nil {
		c.sendError(message.Id, WrapError(err))
		return
	}

	c.sendResult(message.Id, nil)
	text := answer.String(request.Sid, jingle.CreatorResponder, jingle.DirectionOutgoing)
	c.SendMessage(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:    request.Sid,
			Action: jingle.ActionSessionAccept,
			SDP:    &text,
		},
	})
}

// processSessionAccept handles the answer of the client to the subscriber
// offer the gateway sent.
func (c *GatewayClient) processSessionAccept(message *GatewayMessage, participation *meet.Participation) {
	request := message.Jingle
	if request.SDP == nil {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	answer := parseClientSDP(*request.SDP)
	if answer == nil {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	ctx, cancel := c.requestContext()
	defer cancel()

	if err := participation.SendSubscriberSDP(ctx, request.Sid, jingle.ContentActionInit, answer); err != nil {
		c.sendError(message.Id, WrapError(err))
		return
	}

	c.sendResult(message.Id, nil)
}

func (c *GatewayClient) processContentUpdate(message *GatewayMessage, participation *meet.Participation) {
	request := message.Jingle
	if request.SDP == nil {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	sdp := parseClientSDP(*request.SDP)
	if sdp == nil {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	ctx, cancel := c.requestContext()
	defer cancel()

	if err := participation.UpdateSDP(ctx, request.Sid, jingle.ContentActionFromJingle(request.Action), sdp); err != nil {
		c.sendError(message.Id, WrapError(err))
		return
	}

	c.sendResult(message.Id, nil)
}

func (c *GatewayClient) processTransportInfo(message *GatewayMessage, participation *meet.Participation) {
	request := message.Jingle
	if request.Content == "" || request.Candidate == "" {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	candidate := jingle.ParseCandidate(request.Candidate)
	if candidate == nil {
		c.sendError(message.Id, InvalidFormat)
		return
	}

	ctx, cancel := c.requestContext()
	defer cancel()

	if err := participation.SendCandidate(ctx, request.Sid, request.Content, candidate); err != nil {
		c.sendError(message.Id, WrapError(err))
		return
	}

	c.sendResult(message.Id, nil)
}

func (c *GatewayClient) processSessionTerminate(message *GatewayMessage, participation *meet.Participation) {
	c.mu.Lock()
	joined := c.meet
	address := c.address
	c.meet = nil
	c.participation = nil
	c.mu.Unlock()

	ctx, cancel := c.requestContext()
	defer cancel()

	if err := participation.Leave(ctx); err != nil {
		c.logger.Printf("Error while %s left: %s", address, err)
	}
	if joined != nil {
		if err := c.gateway.repository.Presence().RemoveAddress(joined.Address(), address); err != nil {
			c.logger.Printf("Could not remove %s from %s: %s", address, joined.Address(), err)
		}
	}

	c.sendResult(message.Id, nil)
}

func jingleActionFor(initial jingle.Action, action jingle.ContentAction) jingle.Action {
	switch action {
	case jingle.ContentActionAdd:
		return jingle.ActionContentAdd
	case jingle.ContentActionRemove:
		return jingle.ActionContentRemove
	case jingle.ContentActionModify:
		return jingle.ActionContentModify
	case jingle.ContentActionAccept:
		return jingle.ActionContentAccept
	default:
		return initial
	}
}

func (c *GatewayClient) sendSDP(sid string, action jingle.Action, role jingle.Creator, sdp *jingle.SDP) {
	text := sdp.String(sid, role, jingle.DirectionOutgoing)
	c.SendMessage(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:    sid,
			Action: action,
			SDP:    &text,
		},
	})
}

func (c *GatewayClient) sendCandidate(sid string, content *jingle.Content) {
	transport := content.Transport()
	if transport == nil || len(transport.Candidates) == 0 {
		return
	}

	c.SendMessage(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:       sid,
			Action:    jingle.ActionTransportInfo,
			Content:   content.Name,
			Ufrag:     transport.Ufrag,
			Pwd:       transport.Pwd,
			Candidate: transport.Candidates[0].ToSDP(),
		},
	})
}

func (c *GatewayClient) sendTerminate(sid string) {
	c.SendMessage(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:    sid,
			Action: jingle.ActionSessionTerminate,
		},
	})
}

// PublishersJoined implements meet.ParticipationListener.
func (c *GatewayClient) PublishersJoined(publishers []sfu.PublisherInfo) {
	c.SendMessage(&GatewayMessage{
		Type: "event",
		Event: &EventMessage{
			Type:       EventTypePublishersJoined,
			Publishers: publisherEntries(publishers),
		},
	})
}

// PublishersLeft implements meet.ParticipationListener.
func (c *GatewayClient) PublishersLeft(publishers []sfu.PublisherInfo) {
	c.SendMessage(&GatewayMessage{
		Type: "event",
		Event: &EventMessage{
			Type:       EventTypePublishersLeft,
			Publishers: publisherEntries(publishers),
		},
	})
}

// ReceivedPublisherSDP implements meet.ParticipationListener. The first
// description of the publisher leg is the accept of the session the client
// initiated.
func (c *GatewayClient) ReceivedPublisherSDP(sessionId string, action jingle.ContentAction, sdp *jingle.SDP) {
	c.sendSDP(sessionId, jingleActionFor(jingle.ActionSessionAccept, action), jingle.CreatorResponder, sdp)
}

// ReceivedPublisherCandidate implements meet.ParticipationListener.
func (c *GatewayClient) ReceivedPublisherCandidate(sessionId string, content *jingle.Content) {
	c.sendCandidate(sessionId, content)
}

// TerminatedPublisherSession implements meet.ParticipationListener.
func (c *GatewayClient) TerminatedPublisherSession(sessionId string) {
	c.sendTerminate(sessionId)
}

// ReceivedSubscriberSDP implements meet.ParticipationListener. The first
// description of the subscriber leg initiates the session towards the
// client.
func (c *GatewayClient) ReceivedSubscriberSDP(sessionId string, action jingle.ContentAction, sdp *jingle.SDP) {
	c.sendSDP(sessionId, jingleActionFor(jingle.ActionSessionInitiate, action), jingle.CreatorInitiator, sdp)
}

// ReceivedSubscriberCandidate implements meet.ParticipationListener.
func (c *GatewayClient) ReceivedSubscriberCandidate(sessionId string, content *jingle.Content) {
	c.sendCandidate(sessionId, content)
}

// TerminatedSubscriberSession implements meet.ParticipationListener.
func (c *GatewayClient) TerminatedSubscriberSession(sessionId string) {
	c.sendTerminate(sessionId)
}
