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
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dlintw/goconf"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strukturag/meet-signaling/log"
	"github.com/strukturag/meet-signaling/meet"
	"github.com/strukturag/meet-signaling/sfu"
)

const (
	websocketReadBufferSize  = 4096
	websocketWriteBufferSize = 4096
)

// Gateway accepts websocket connections of signaling clients and translates
// their frames to operations on the meeting registry.
type Gateway struct {
	version string
	logger  log.Logger

	// Base context carrying the logger, used for requests triggered by
	// client messages.
	ctx context.Context

	sfuConn    sfu.SFU
	repository *meet.Repository

	upgrader websocket.Upgrader

	welcomeMessage string

	mu      sync.Mutex
	clients map[*GatewayClient]bool

	shutdownScheduled atomic.Bool
	shutdownOnce      sync.Once
	shutdownChannel   chan struct{}
}

func NewGateway(ctx context.Context, config *goconf.ConfigFile, sfuConn sfu.SFU, r *mux.Router, version string) (*Gateway, error) {
	logger := log.LoggerFromContext(ctx)
	welcome := map[string]string{
		"meet-signaling": "Welcome",
		"version":        version,
	}
	welcomeMessage, err := json.Marshal(welcome)
	if err != nil {
		return nil, err
	}

	gateway := &Gateway{
		version: version,
		logger:  logger,

		ctx: ctx,

		sfuConn:    sfuConn,
		repository: meet.NewRepository(ctx, sfuConn, config),

		upgrader: websocket.Upgrader{
			ReadBufferSize:  websocketReadBufferSize,
			WriteBufferSize: websocketWriteBufferSize,
		},

		welcomeMessage: string(welcomeMessage) + "\n",

		clients: make(map[*GatewayClient]bool),

		shutdownChannel: make(chan struct{}),
	}

	sfuConn.SetOnConnected(func() {
		logger.Println("SFU connection established")
	})
	sfuConn.SetOnDisconnected(func() {
		logger.Println("SFU connection lost")
	})

	r.HandleFunc("/welcome", gateway.welcomeFunc).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/signaling", gateway.serveWebsocket)
	return gateway, nil
}

func (g *Gateway) Repository() *meet.Repository {
	return g.repository
}

func (g *Gateway) Reload(config *goconf.ConfigFile) {
	g.repository.Reload(config)
	g.sfuConn.Reload(config)
}

func (g *Gateway) welcomeFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, g.welcomeMessage) // nolint
}

func (g *Gateway) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Printf("Could not upgrade request from %s: %s", r.RemoteAddr, err)
		return
	}

	client := newGatewayClient(g, conn, r.RemoteAddr)
	g.addClient(client)
	go client.run()
}

func (g *Gateway) addClient(client *GatewayClient) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.clients[client] = true
}

func (g *Gateway) removeClient(client *GatewayClient) {
	g.mu.Lock()
	delete(g.clients, client)
	empty := len(g.clients) == 0
	g.mu.Unlock()

	if empty && g.shutdownScheduled.Load() {
		g.closeShutdownChannel()
	}
}

func (g *Gateway) CountClients() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.clients)
}

// ScheduleShutdown marks the gateway as shutting down. The shutdown channel
// is closed once the last client has disconnected.
func (g *Gateway) ScheduleShutdown() {
	if !g.shutdownScheduled.CompareAndSwap(false, true) {
		return
	}

	if g.CountClients() == 0 {
		g.closeShutdownChannel()
	}
}

func (g *Gateway) closeShutdownChannel() {
	g.shutdownOnce.Do(func() {
		close(g.shutdownChannel)
	})
}

func (g *Gateway) IsShutdownScheduled() bool {
	return g.shutdownScheduled.Load()
}

func (g *Gateway) ShutdownChannel() <-chan struct{} {
	return g.shutdownChannel
}
