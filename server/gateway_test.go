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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dlintw/goconf"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/jingle"
	"github.com/strukturag/meet-signaling/log"
	sfujanus "github.com/strukturag/meet-signaling/sfu/janus"
	janustest "github.com/strukturag/meet-signaling/sfu/janus/test"
)

const (
	testTimeout = 10 * time.Second
)

var testPublishOffer = strings.ReplaceAll(`v=0
o=- 1623251477217656 2 IN IP4 0.0.0.0
s=-
t=0 0
a=group:BUNDLE 0
m=audio 9 UDP/TLS/RTP/SAVPF 111
c=IN IP4 0.0.0.0
a=sendrecv
a=mid:0
a=rtcp-mux
a=ice-ufrag:cli1
a=ice-pwd:clientpassword0123456789
a=setup:actpass
a=rtpmap:111 opus/48000/2
`, "\n", "\r\n")

var testSubscribeAnswer = strings.ReplaceAll(`v=0
o=- 1623251477217656 2 IN IP4 0.0.0.0
s=-
t=0 0
a=group:BUNDLE 0
m=audio 9 UDP/TLS/RTP/SAVPF 111
c=IN IP4 0.0.0.0
a=recvonly
a=mid:0
a=rtcp-mux
a=ice-ufrag:cli1
a=ice-pwd:clientpassword0123456789
a=setup:active
a=rtpmap:111 opus/48000/2
`, "\n", "\r\n")

func newGatewayForTesting(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()

	janusGateway := janustest.NewJanusGateway(t)

	config := goconf.NewConfigFile()
	logger := log.NewLoggerForTest(t)
	ctx := log.NewLoggerContext(t.Context(), logger)
	sfuConn, err := sfujanus.NewJanusSFUWithGateway(ctx, janusGateway, config)
	require.NoError(t, err)
	t.Cleanup(func() {
		sfuConn.Stop()
	})
	require.NoError(t, sfuConn.Start(ctx))

	r := mux.NewRouter()
	gateway, err := NewGateway(ctx, config, sfuConn, r, "1.2.3")
	require.NoError(t, err)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return gateway, server
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn

	nextId int
}

func connectClient(t *testing.T, server *httptest.Server) *testClient {
	t.Helper()

	url := strings.Replace(server.URL, "http://", "ws://", 1) + "/signaling"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close() // nolint
	})
	return &testClient{
		t:    t,
		conn: conn,
	}
}

func (c *testClient) send(message *GatewayMessage) string {
	c.t.Helper()

	c.nextId++
	message.Id = strconv.Itoa(c.nextId)
	require.NoError(c.t, c.conn.WriteJSON(message))
	return message.Id
}

func (c *testClient) sendRaw(data string) {
	c.t.Helper()

	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

func (c *testClient) read() *GatewayMessage {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(testTimeout)))
	var message GatewayMessage
	require.NoError(c.t, c.conn.ReadJSON(&message))
	return &message
}

func (c *testClient) expectResult(id string) *ResultMessage {
	c.t.Helper()

	message := c.read()
	require.Equal(c.t, "result", message.Type, "expected result, got %+v", message)
	require.Equal(c.t, id, message.Id)
	require.NotNil(c.t, message.Result)
	return message.Result
}

func (c *testClient) expectError(id string, code string) {
	c.t.Helper()

	message := c.read()
	require.Equal(c.t, "error", message.Type, "expected error, got %+v", message)
	require.Equal(c.t, id, message.Id)
	require.NotNil(c.t, message.Error)
	require.Equal(c.t, code, message.Error.Code)
}

func (c *testClient) expectJingle(action jingle.Action) *JingleMessage {
	c.t.Helper()

	message := c.read()
	require.Equal(c.t, "jingle", message.Type, "expected jingle, got %+v", message)
	require.NotNil(c.t, message.Jingle)
	require.Equal(c.t, action, message.Jingle.Action)
	return message.Jingle
}

func (c *testClient) expectEvent(eventType string) *EventMessage {
	c.t.Helper()

	message := c.read()
	require.Equal(c.t, "event", message.Type, "expected event, got %+v", message)
	require.NotNil(c.t, message.Event)
	require.Equal(c.t, eventType, message.Event.Type)
	return message.Event
}

func (c *testClient) hello(address api.Address) {
	c.t.Helper()

	id := c.send(&GatewayMessage{
		Type: "hello",
		Hello: &HelloMessage{
			Address: address,
		},
	})
	message := c.read()
	require.Equal(c.t, "welcome", message.Type)
	require.Equal(c.t, id, message.Id)
	require.NotNil(c.t, message.Welcome)
}

func (c *testClient) join(meetAddress api.Address) {
	c.t.Helper()

	id := c.send(&GatewayMessage{
		Type: "join",
		Join: &JoinMessage{
			Meet: meetAddress,
		},
	})
	c.expectResult(id)
}

// leave leaves the joined meeting. Open Jingle sessions are terminated by
// the gateway, the matching "session-terminate" frames arrive before the
// result.
func (c *testClient) leave() {
	c.t.Helper()

	id := c.send(&GatewayMessage{
		Type: "leave",
	})
	for {
		message := c.read()
		if message.Type == "jingle" {
			require.NotNil(c.t, message.Jingle)
			require.Equal(c.t, jingle.ActionSessionTerminate, message.Jingle.Action)
			continue
		}

		require.Equal(c.t, "result", message.Type, "expected result, got %+v", message)
		require.Equal(c.t, id, message.Id)
		return
	}
}

func TestGatewayWelcomeEndpoint(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	_, server := newGatewayForTesting(t)

	response, err := server.Client().Get(server.URL + "/welcome")
	require.NoError(err)
	defer response.Body.Close() // nolint

	assert.Equal(http.StatusOK, response.StatusCode)
	assert.Equal("application/json", response.Header.Get("Content-Type"))

	body, err := io.ReadAll(response.Body)
	require.NoError(err)
	var welcome map[string]string
	require.NoError(json.Unmarshal(body, &welcome))
	assert.Equal("Welcome", welcome["meet-signaling"])
	assert.Equal("1.2.3", welcome["version"])
}

func TestGatewayMetricsEndpoint(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	_, server := newGatewayForTesting(t)

	response, err := server.Client().Get(server.URL + "/metrics")
	require.NoError(err)
	defer response.Body.Close() // nolint

	assert.Equal(http.StatusOK, response.StatusCode)
	body, err := io.ReadAll(response.Body)
	require.NoError(err)
	assert.NotEmpty(body)
}

func TestGatewayHello(t *testing.T) {
	t.Parallel()

	_, server := newGatewayForTesting(t)
	client := connectClient(t, server)

	// Requests before the "hello" are rejected.
	id := client.send(&GatewayMessage{
		Type: "join",
		Join: &JoinMessage{
			Meet: "room@example.org",
		},
	})
	client.expectError(id, "hello_expected")

	// Invalid frames don't kill the connection.
	client.sendRaw("no json")
	message := client.read()
	require.Equal(t, "error", message.Type)
	require.Equal(t, InvalidFormat.Code, message.Error.Code)

	id = client.send(&GatewayMessage{
		Type: "hello",
	})
	client.expectError(id, InvalidFormat.Code)

	client.hello("alice@example.org")

	// Only one "hello" per connection.
	id = client.send(&GatewayMessage{
		Type: "hello",
		Hello: &HelloMessage{
			Address: "bob@example.org",
		},
	})
	client.expectError(id, "already_helloed")
}

func TestGatewayCreateJoinLeave(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	gateway, server := newGatewayForTesting(t)
	client := connectClient(t, server)
	client.hello("alice@example.org")

	id := client.send(&GatewayMessage{
		Type: "create",
		Create: &CreateMessage{
			Meet: "room@example.org",
		},
	})
	result := client.expectResult(id)
	require.NotNil(result.Room)

	// Creating the same meeting again fails.
	id = client.send(&GatewayMessage{
		Type: "create",
		Create: &CreateMessage{
			Meet: "room@example.org",
		},
	})
	client.expectError(id, "meet_exists")

	// Joining an unknown meeting fails.
	id = client.send(&GatewayMessage{
		Type: "join",
		Join: &JoinMessage{
			Meet: "other@example.org",
		},
	})
	client.expectError(id, "meet_notfound")

	client.join("room@example.org")
	assert.True(gateway.Repository().Presence().IsAvailable("room@example.org", "alice@example.org"))

	// A second join on the same connection is rejected.
	id = client.send(&GatewayMessage{
		Type: "join",
		Join: &JoinMessage{
			Meet: "room@example.org",
		},
	})
	client.expectError(id, "already_joined")

	client.leave()

	// The meeting was destroyed with the last participant gone.
	assert.Equal(0, gateway.Repository().Size())

	id = client.send(&GatewayMessage{
		Type: "leave",
	})
	client.expectError(id, NotInMeet.Code)
}

func TestGatewayPublisherNegotiation(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	_, server := newGatewayForTesting(t)
	client := connectClient(t, server)
	client.hello("alice@example.org")

	id := client.send(&GatewayMessage{
		Type: "create",
		Create: &CreateMessage{
			Meet: "room@example.org",
		},
	})
	client.expectResult(id)
	client.join("room@example.org")

	id = client.send(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:    "pub-session",
			Action: jingle.ActionSessionInitiate,
			SDP:    &testPublishOffer,
		},
	})
	client.expectResult(id)

	accept := client.expectJingle(jingle.ActionSessionAccept)
	assert.Equal("pub-session", accept.Sid)
	require.NotNil(accept.SDP)
	assert.Contains(*accept.SDP, "a=mid:0\r\n")

	// Trickle a candidate for the established session.
	id = client.send(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:       "pub-session",
			Action:    jingle.ActionTransportInfo,
			Content:   "0",
			Candidate: "candidate:1 1 udp 2015363327 192.168.1.2 44323 typ host generation 0",
		},
	})
	client.expectResult(id)

	// Unknown session ids are rejected.
	id = client.send(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:    "missing",
			Action: jingle.ActionContentModify,
			SDP:    &testPublishOffer,
		},
	})
	client.expectError(id, "no_such_session")

	id = client.send(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:    "pub-session",
			Action: jingle.ActionSessionTerminate,
		},
	})
	terminated := client.expectJingle(jingle.ActionSessionTerminate)
	assert.Equal("pub-session", terminated.Sid)
	client.expectResult(id)
}

func TestGatewayTwoParticipants(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	gateway, server := newGatewayForTesting(t)

	alice := connectClient(t, server)
	alice.hello("alice@example.org")
	id := alice.send(&GatewayMessage{
		Type: "create",
		Create: &CreateMessage{
			Meet: "room@example.org",
		},
	})
	alice.expectResult(id)
	alice.join("room@example.org")

	// The meeting is not public, other addresses have to be allowed first.
	bob := connectClient(t, server)
	bob.hello("bob@example.org")
	id = bob.send(&GatewayMessage{
		Type: "join",
		Join: &JoinMessage{
			Meet: "room@example.org",
		},
	})
	bob.expectError(id, NotAllowedError.Code)

	id = alice.send(&GatewayMessage{
		Type: "allow",
		Allow: &AllowMessage{
			Address: "bob@example.org",
		},
	})
	alice.expectResult(id)

	bob.join("room@example.org")

	// Bob starts publishing, Alice is notified and receives the offer of
	// the SFU for her subscriber leg.
	id = bob.send(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:    "bob-pub",
			Action: jingle.ActionSessionInitiate,
			SDP:    &testPublishOffer,
		},
	})
	bob.expectResult(id)
	bob.expectJingle(jingle.ActionSessionAccept)

	joined := alice.expectEvent(EventTypePublishersJoined)
	require.Len(joined.Publishers, 1)
	assert.Equal("bob@example.org", joined.Publishers[0].Display)
	assert.NotEmpty(joined.Publishers[0].Streams)

	offer := alice.expectJingle(jingle.ActionSessionInitiate)
	assert.NotEmpty(offer.Sid)
	require.NotNil(offer.SDP)
	assert.Contains(*offer.SDP, "a=mid:0\r\n")

	id = alice.send(&GatewayMessage{
		Type: "jingle",
		Jingle: &JingleMessage{
			Sid:    offer.Sid,
			Action: jingle.ActionSessionAccept,
			SDP:    &testSubscribeAnswer,
		},
	})
	alice.expectResult(id)

	// Bob leaves, Alice is notified about the gone publisher.
	bob.leave()

	left := alice.expectEvent(EventTypePublishersLeft)
	require.Len(left.Publishers, 1)
	assert.Equal("bob@example.org", left.Publishers[0].Display)

	alice.leave()
	assert.Equal(0, gateway.Repository().Size())
}

func TestGatewayClientDisconnectLeaves(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	gateway, server := newGatewayForTesting(t)
	client := connectClient(t, server)
	client.hello("alice@example.org")

	id := client.send(&GatewayMessage{
		Type: "create",
		Create: &CreateMessage{
			Meet: "room@example.org",
		},
	})
	client.expectResult(id)
	client.join("room@example.org")
	require.Equal(1, gateway.Repository().Size())

	// Dropping the connection leaves the meeting which is destroyed with
	// the last participant gone.
	require.NoError(client.conn.Close())
	assert.Eventually(func() bool {
		return gateway.Repository().Size() == 0
	}, testTimeout, 10*time.Millisecond)

	assert.Eventually(func() bool {
		return gateway.CountClients() == 0
	}, testTimeout, 10*time.Millisecond)
}

func TestGatewayShutdown(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	gateway, server := newGatewayForTesting(t)
	client := connectClient(t, server)
	client.hello("alice@example.org")

	gateway.ScheduleShutdown()
	assert.True(gateway.IsShutdownScheduled())
	select {
	case <-gateway.ShutdownChannel():
		assert.Fail("shutdown channel closed with clients connected")
	default:
	}

	id := client.send(&GatewayMessage{
		Type: "bye",
	})
	client.expectResult(id)

	select {
	case <-gateway.ShutdownChannel():
	case <-time.After(testTimeout):
		assert.Fail(fmt.Sprintf("shutdown channel not closed, %d clients", gateway.CountClients()))
	}
}
