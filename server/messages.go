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
	"errors"
	"fmt"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/jingle"
	"github.com/strukturag/meet-signaling/meet"
	"github.com/strukturag/meet-signaling/sfu"
)

// GatewayMessage is a single frame of the signaling protocol. The "type"
// selects which of the payload fields is set.
type GatewayMessage struct {
	Id   string `json:"id,omitempty"`
	Type string `json:"type"`

	Hello   *HelloMessage   `json:"hello,omitempty"`
	Welcome *WelcomeMessage `json:"welcome,omitempty"`
	Create  *CreateMessage  `json:"create,omitempty"`
	Join    *JoinMessage    `json:"join,omitempty"`
	Allow   *AllowMessage   `json:"allow,omitempty"`
	Deny    *AllowMessage   `json:"deny,omitempty"`
	Result  *ResultMessage  `json:"result,omitempty"`
	Jingle  *JingleMessage  `json:"jingle,omitempty"`
	Event   *EventMessage   `json:"event,omitempty"`
	Error   *ErrorMessage   `json:"error,omitempty"`
	Bye     *ByeMessage     `json:"bye,omitempty"`
}

func (m *GatewayMessage) String() string {
	return fmt.Sprintf("%s (id %s)", m.Type, m.Id)
}

type HelloMessage struct {
	Address api.Address `json:"address"`
}

type WelcomeMessage struct {
	Version string `json:"version"`
}

type CreateMessage struct {
	Meet          api.Address `json:"meet"`
	MaxPublishers int         `json:"maxpublishers,omitempty"`
}

type JoinMessage struct {
	Meet api.Address `json:"meet"`
}

type AllowMessage struct {
	Address api.Address `json:"address"`
}

type ResultMessage struct {
	Room *api.RoomId `json:"room,omitempty"`
}

type ByeMessage struct {
	Reason string `json:"reason,omitempty"`
}

// JingleMessage mirrors the Jingle stanzas of the XMPP frontend. Depending
// on the action it carries a session description, a trickle candidate or
// nothing ("session-terminate").
type JingleMessage struct {
	Sid    string        `json:"sid"`
	Action jingle.Action `json:"action"`

	SDP *string `json:"sdp,omitempty"`

	Content   string `json:"content,omitempty"`
	Ufrag     string `json:"ufrag,omitempty"`
	Pwd       string `json:"pwd,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

const (
	EventTypePublishersJoined = "publishers_joined"
	EventTypePublishersLeft   = "publishers_left"
)

type EventMessage struct {
	Type       string           `json:"type"`
	Publishers []PublisherEntry `json:"publishers,omitempty"`
}

type PublisherEntry struct {
	Id      uint64           `json:"id"`
	Display string           `json:"display,omitempty"`
	Streams []sfu.StreamInfo `json:"streams,omitempty"`
}

func publisherEntries(publishers []sfu.PublisherInfo) []PublisherEntry {
	entries := make([]PublisherEntry, 0, len(publishers))
	for _, pub := range publishers {
		entries = append(entries, PublisherEntry{
			Id:      pub.Id,
			Display: pub.Display,
			Streams: pub.Streams,
		})
	}
	return entries
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code string, message string) *ErrorMessage {
	return &ErrorMessage{
		Code:    code,
		Message: message,
	}
}

func (e *ErrorMessage) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	InvalidFormat = NewError("invalid_format", "Invalid data format.")

	HelloExpected = NewError("hello_expected", "Send a \"hello\" first.")

	NotInMeet = NewError("not_in_meet", "Join a meeting first.")

	NotAllowedError = NewError("not_allowed", "Not allowed to perform this request.")
)

// WrapError converts the sentinel errors of the meet registry to protocol
// errors the client can act on.
func WrapError(err error) *ErrorMessage {
	var protocolError *ErrorMessage
	switch {
	case errors.As(err, &protocolError):
		return protocolError
	case errors.Is(err, meet.ErrMeetExists):
		return NewError("meet_exists", "A meeting with this address already exists.")
	case errors.Is(err, meet.ErrMeetNotFound):
		return NewError("meet_notfound", "No meeting with this address exists.")
	case errors.Is(err, meet.ErrParticipationExists):
		return NewError("already_joined", "This address already joined the meeting.")
	case errors.Is(err, meet.ErrParticipationNotFound):
		return NewError("not_joined", "This address has not joined the meeting.")
	case errors.Is(err, meet.ErrNotAllowed):
		return NotAllowedError
	case errors.Is(err, sfu.ErrNoSuchSession):
		return NewError("no_such_session", "No Jingle session with this id exists.")
	case errors.Is(err, sfu.ErrNotConnected):
		return NewError("sfu_unavailable", "The SFU is currently not reachable.")
	default:
		return NewError("internal_error", err.Error())
	}
}
