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

// Package janus talks to a Janus server through the videoroom plugin.
//
// A single websocket connection is shared by all meetings; rooms and
// participant sessions are multiplexed over it. If the connection drops,
// all meetings lose their media sessions and the clients have to
// renegotiate once the automatic reconnect succeeds.
package janus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dlintw/goconf"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/log"
	"github.com/strukturag/meet-signaling/sfu"
	"github.com/strukturag/meet-signaling/sfu/janus/janus"
)

const (
	pluginVideoRoom = "janus.plugin.videoroom"

	defaultKeepaliveInterval = 30 * time.Second
	minKeepaliveInterval     = time.Second
	// Send keepalives a bit before the session would time out.
	keepaliveMargin = 5 * time.Second

	initialReconnectInterval = 1 * time.Second
	maxReconnectInterval     = 16 * time.Second

	// SFU requests will be cancelled if they take too long.
	defaultTimeoutSeconds = 10

	defaultMaxPublishers = 6

	defaultMaxStreamBitrate = 1024 * 1024
)

func getPluginValue(data janus.PluginData, pluginName string, key string) any {
	if data.Plugin != pluginName {
		return nil
	}

	return data.Data[key]
}

func convertIntValue(value any) (uint64, error) {
	switch t := value.(type) {
	case float64:
		if t < 0 {
			return 0, fmt.Errorf("unsupported float64 number: %+v", t)
		}
		return uint64(t), nil
	case uint64:
		return t, nil
	case int:
		if t < 0 {
			return 0, fmt.Errorf("unsupported int number: %+v", t)
		}
		return uint64(t), nil
	case int64:
		if t < 0 {
			return 0, fmt.Errorf("unsupported int64 number: %+v", t)
		}
		return uint64(t), nil
	case json.Number:
		r, err := t.Int64()
		if err != nil {
			return 0, err
		} else if r < 0 {
			return 0, fmt.Errorf("unsupported JSON number: %+v", t)
		}
		return uint64(r), nil
	default:
		return 0, fmt.Errorf("unknown number type: %+v (%T)", t, t)
	}
}

func getPluginIntValue(logger log.Logger, data janus.PluginData, pluginName string, key string) uint64 {
	val := getPluginValue(data, pluginName, key)
	if val == nil {
		return 0
	}

	result, err := convertIntValue(val)
	if err != nil {
		logger.Printf("Invalid value %+v for %s: %s", val, key, err)
		result = 0
	}
	return result
}

func getPluginStringValue(data janus.PluginData, pluginName string, key string) string {
	val := getPluginValue(data, pluginName, key)
	if val == nil {
		return ""
	}

	strVal, ok := val.(string)
	if !ok {
		return ""
	}

	return strVal
}

func isJanusError(err error, code int) bool {
	e, ok := err.(*janus.ErrorMsg)
	return ok && e.Err.Code == code
}

func jsepToMap(jsep *api.JSEP) api.StringMap {
	if jsep == nil {
		return nil
	}

	return api.StringMap{
		"type": jsep.Type,
		"sdp":  jsep.SDP,
	}
}

func jsepFromMap(data map[string]any) *api.JSEP {
	if len(data) == 0 {
		return nil
	}

	jsepType, _ := api.GetStringMapEntry[string](data, "type")
	sdp, _ := api.GetStringMapEntry[string](data, "sdp")
	if jsepType == "" || sdp == "" {
		return nil
	}

	return &api.JSEP{
		Type: jsepType,
		SDP:  sdp,
	}
}

type Settings struct {
	logger log.Logger

	timeout          atomic.Int64
	maxPublishers    atomic.Int32
	maxStreamBitrate atomic.Int32
	videoCodec       atomic.Value
	audioCodec       atomic.Value
}

func newJanusSettings(ctx context.Context, config *goconf.ConfigFile) (*Settings, error) {
	settings := &Settings{
		logger: log.LoggerFromContext(ctx),
	}
	if err := settings.load(config); err != nil {
		return nil, err
	}

	return settings, nil
}

func (s *Settings) load(config *goconf.ConfigFile) error {
	timeoutSeconds, _ := config.GetInt("sfu", "timeout")
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}
	timeout := time.Duration(timeoutSeconds) * time.Second
	s.logger.Printf("Using a timeout of %s for SFU requests", timeout)
	s.timeout.Store(int64(timeout))

	maxPublishers, _ := config.GetInt("sfu", "maxpublishers")
	if maxPublishers <= 0 {
		maxPublishers = defaultMaxPublishers
	}
	s.logger.Printf("Rooms allow up to %d publishers", maxPublishers)
	s.maxPublishers.Store(int32(maxPublishers))

	maxStreamBitrate, _ := config.GetInt("sfu", "maxstreambitrate")
	if maxStreamBitrate <= 0 {
		maxStreamBitrate = defaultMaxStreamBitrate
	}
	s.logger.Printf("Maximum bandwidth %d bits/sec per publishing stream", maxStreamBitrate)
	s.maxStreamBitrate.Store(int32(maxStreamBitrate))

	videoCodec, _ := config.GetString("sfu", "videocodec")
	s.videoCodec.Store(videoCodec)
	audioCodec, _ := config.GetString("sfu", "audiocodec")
	s.audioCodec.Store(audioCodec)
	return nil
}

func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

func (s *Settings) MaxPublishers() int {
	return int(s.maxPublishers.Load())
}

func (s *Settings) MaxStreamBitrate() int {
	return int(s.maxStreamBitrate.Load())
}

func (s *Settings) VideoCodec() string {
	return s.videoCodec.Load().(string)
}

func (s *Settings) AudioCodec() string {
	return s.audioCodec.Load().(string)
}

func (s *Settings) Reload(config *goconf.ConfigFile) {
	if err := s.load(config); err != nil {
		s.logger.Printf("Error reloading SFU settings: %s", err)
	}
}

type janusSFU struct {
	logger log.Logger

	url string
	mu  sync.Mutex

	settings *Settings

	createJanusGateway func(ctx context.Context, wsURL string, listener janus.GatewayListener) (janus.GatewayInterface, error)

	gw      janus.GatewayInterface
	session *janus.Session
	handle  *janus.Handle

	info atomic.Pointer[janus.InfoMsg]

	keepaliveInterval time.Duration
	closeChan         chan struct{}

	reconnectTimer    *time.Timer
	reconnectInterval time.Duration

	connectedSince time.Time
	onConnected    atomic.Value
	onDisconnected atomic.Value
}

func emptyOnConnected()    {}
func emptyOnDisconnected() {}

func NewJanusSFU(ctx context.Context, url string, config *goconf.ConfigFile) (sfu.SFU, error) {
	settings, err := newJanusSettings(ctx, config)
	if err != nil {
		return nil, err
	}

	result := &janusSFU{
		logger:    log.LoggerFromContext(ctx),
		url:       url,
		settings:  settings,
		closeChan: make(chan struct{}, 1),

		keepaliveInterval: defaultKeepaliveInterval,

		createJanusGateway: func(ctx context.Context, wsURL string, listener janus.GatewayListener) (janus.GatewayInterface, error) {
			return janus.NewGateway(ctx, wsURL, listener)
		},
		reconnectInterval: initialReconnectInterval,
	}
	result.onConnected.Store(emptyOnConnected)
	result.onDisconnected.Store(emptyOnDisconnected)

	result.reconnectTimer = time.AfterFunc(result.reconnectInterval, func() {
		result.doReconnect(context.Background())
	})
	result.reconnectTimer.Stop()
	if result.url != "" {
		if err := result.reconnect(ctx); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// NewJanusSFUWithGateway can be used to create an SFU with a pre-connected
// gateway, e.g. in tests.
func NewJanusSFUWithGateway(ctx context.Context, gateway janus.GatewayInterface, config *goconf.ConfigFile) (sfu.SFU, error) {
	result, err := NewJanusSFU(ctx, "", config)
	if err != nil {
		return nil, err
	}

	resultJanus := result.(*janusSFU)
	resultJanus.createJanusGateway = func(ctx context.Context, wsURL string, listener janus.GatewayListener) (janus.GatewayInterface, error) {
		return gateway, nil
	}
	return result, nil
}

func (m *janusSFU) Settings() *Settings {
	return m.settings
}

func (m *janusSFU) disconnect() {
	if handle := m.handle; handle != nil {
		m.handle = nil
		m.closeChan <- struct{}{}
		if _, err := handle.Detach(context.TODO()); err != nil {
			m.logger.Printf("Error detaching handle %d: %s", handle.Id, err)
		}
	}
	if m.session != nil {
		if _, err := m.session.Destroy(context.TODO()); err != nil {
			m.logger.Printf("Error destroying session %d: %s", m.session.Id, err)
		}
		m.session = nil
	}
	if m.gw != nil {
		if err := m.gw.Close(); err != nil {
			m.logger.Println("Error while closing connection to SFU", err)
		}
		m.gw = nil
	}
}

func (m *janusSFU) reconnect(ctx context.Context) error {
	m.disconnect()
	gw, err := m.createJanusGateway(ctx, m.url, m)
	if err != nil {
		return err
	}

	m.gw = gw
	m.reconnectTimer.Stop()
	return nil
}

func (m *janusSFU) doReconnect(ctx context.Context) {
	if err := m.reconnect(ctx); err != nil {
		m.scheduleReconnect(err)
		return
	}
	if err := m.Start(ctx); err != nil {
		m.scheduleReconnect(err)
		return
	}

	m.logger.Println("Reconnection to Janus gateway successful")
	m.mu.Lock()
	m.reconnectInterval = initialReconnectInterval
	m.mu.Unlock()
}

func (m *janusSFU) scheduleReconnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectTimer.Reset(m.reconnectInterval)
	if err == nil {
		m.logger.Printf("Connection to Janus gateway was interrupted, reconnecting in %s", m.reconnectInterval)
	} else {
		m.logger.Printf("Reconnect to Janus gateway failed (%s), reconnecting in %s", err, m.reconnectInterval)
	}

	m.reconnectInterval = min(m.reconnectInterval*2, maxReconnectInterval)
}

func (m *janusSFU) ConnectionInterrupted() {
	m.scheduleReconnect(nil)
	statsConnectedGauge.Set(0)
	m.notifyOnDisconnected()
}

func (m *janusSFU) Start(ctx context.Context) error {
	if m.url == "" {
		if err := m.reconnect(ctx); err != nil {
			return err
		}
	}
	info, err := m.gw.Info(ctx)
	if err != nil {
		return err
	}

	m.logger.Printf("Connected to %s %s by %s", info.Name, info.VersionString, info.Author)

	if plugin, found := info.Plugins[pluginVideoRoom]; found {
		m.logger.Printf("Found %s %s by %s", plugin.Name, plugin.VersionString, plugin.Author)
	} else {
		return fmt.Errorf("plugin %s is not supported", pluginVideoRoom)
	}

	if !info.FullTrickle {
		m.logger.Println("WARNING: Full-Trickle is NOT enabled in Janus!")
	} else {
		m.logger.Println("Full-Trickle is enabled")
	}

	m.keepaliveInterval = defaultKeepaliveInterval
	if info.SessionTimeout > 0 {
		m.keepaliveInterval = max(time.Duration(info.SessionTimeout)*time.Second-keepaliveMargin, minKeepaliveInterval)
		m.logger.Printf("Sessions time out after %d seconds, sending keepalives every %s", info.SessionTimeout, m.keepaliveInterval)
	}

	if m.session, err = m.gw.Create(ctx); err != nil {
		m.disconnect()
		return err
	}
	m.logger.Println("Created Janus session", m.session.Id)
	m.connectedSince = time.Now()

	if m.handle, err = m.session.Attach(ctx, pluginVideoRoom); err != nil {
		m.disconnect()
		return err
	}
	m.logger.Println("Created Janus handle", m.handle.Id)

	m.info.Store(info)

	go m.run()

	statsConnectedGauge.Set(1)
	m.notifyOnConnected()
	return nil
}

func (m *janusSFU) run() {
	ticker := time.NewTicker(m.keepaliveInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			m.sendKeepalive(context.Background())
		case <-m.closeChan:
			break loop
		}
	}
}

func (m *janusSFU) Stop() {
	m.disconnect()
	m.reconnectTimer.Stop()
}

func (m *janusSFU) IsConnected() bool {
	return m.handle != nil
}

func (m *janusSFU) Info() *janus.InfoMsg {
	return m.info.Load()
}

func (m *janusSFU) Reload(config *goconf.ConfigFile) {
	m.settings.Reload(config)
}

func (m *janusSFU) SetOnConnected(f func()) {
	if f == nil {
		f = emptyOnConnected
	}

	m.onConnected.Store(f)
}

func (m *janusSFU) notifyOnConnected() {
	f := m.onConnected.Load().(func())
	f()
}

func (m *janusSFU) SetOnDisconnected(f func()) {
	if f == nil {
		f = emptyOnDisconnected
	}

	m.onDisconnected.Store(f)
}

func (m *janusSFU) notifyOnDisconnected() {
	f := m.onDisconnected.Load().(func())
	f()
}

func (m *janusSFU) sendKeepalive(ctx context.Context) {
	if _, err := m.session.KeepAlive(ctx); err != nil {
		m.logger.Println("Could not send keepalive request", err)
		if isJanusError(err, janus.JANUS_ERROR_SESSION_NOT_FOUND) {
			m.scheduleReconnect(err)
		}
	}
}

// CreateRoom creates a new room on the SFU and returns its id. The id is
// assigned by the SFU and is numeric or a string depending on the SFU
// configuration.
func (m *janusSFU) CreateRoom(ctx context.Context, settings sfu.RoomSettings) (api.RoomId, error) {
	handle := m.handle
	if handle == nil {
		return api.RoomId{}, sfu.ErrNotConnected
	}

	maxPublishers := settings.PublisherLimit
	if maxPublishers <= 0 {
		maxPublishers = m.settings.MaxPublishers()
	}
	maxBitrate := m.settings.MaxStreamBitrate()
	bitrate := settings.Bitrate
	if bitrate <= 0 {
		bitrate = maxBitrate
	} else {
		bitrate = min(bitrate, maxBitrate)
	}
	create_msg := api.StringMap{
		"request":    "create",
		"publishers": maxPublishers,
		"bitrate":    bitrate,
		// Notify the roster about participants that joined but are not
		// publishing yet.
		"notify_joining": true,
	}
	if codec := settings.VideoCodec; codec != "" {
		create_msg["videocodec"] = codec
	} else if codec := m.settings.VideoCodec(); codec != "" {
		create_msg["videocodec"] = codec
	}
	if codec := settings.AudioCodec; codec != "" {
		create_msg["audiocodec"] = codec
	} else if codec := m.settings.AudioCodec(); codec != "" {
		create_msg["audiocodec"] = codec
	}

	response, err := handle.Request(ctx, create_msg)
	if err != nil {
		return api.RoomId{}, err
	}

	if videoroom := getPluginStringValue(response.PluginData, pluginVideoRoom, "videoroom"); videoroom != "created" {
		return api.RoomId{}, fmt.Errorf("unexpected response to room create request: %+v", response)
	}

	room, ok := api.RoomIdFromValue(getPluginValue(response.PluginData, pluginVideoRoom, "room"))
	if !ok {
		return api.RoomId{}, fmt.Errorf("no room id in create response: %+v", response)
	}

	m.logger.Printf("Created room %s on the SFU", room)
	statsRoomsCurrent.Inc()
	return room, nil
}

// DestroyRoom removes a room from the SFU. Destroying a room that no longer
// exists is not an error.
func (m *janusSFU) DestroyRoom(ctx context.Context, room api.RoomId) error {
	handle := m.handle
	if handle == nil {
		return sfu.ErrNotConnected
	}

	destroy_msg := api.StringMap{
		"request": "destroy",
		"room":    room.Value(),
	}
	response, err := handle.Request(ctx, destroy_msg)
	if err != nil {
		if isJanusError(err, janus.JANUS_VIDEOROOM_ERROR_NO_SUCH_ROOM) {
			return nil
		}
		return err
	}

	if videoroom := getPluginStringValue(response.PluginData, pluginVideoRoom, "videoroom"); videoroom != "destroyed" {
		return fmt.Errorf("unexpected response to room destroy request: %+v", response)
	}

	m.logger.Printf("Destroyed room %s on the SFU", room)
	statsRoomsCurrent.Dec()
	return nil
}

// NewSession creates a new session on the SFU for a single participant.
func (m *janusSFU) NewSession(ctx context.Context) (sfu.Session, error) {
	gw := m.gw
	if gw == nil || m.handle == nil {
		return nil, sfu.ErrNotConnected
	}

	session, err := gw.Create(ctx)
	if err != nil {
		return nil, err
	}

	result := newJanusSession(m, session)
	statsSessionsCurrent.Inc()
	return result, nil
}
