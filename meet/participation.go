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
package meet

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strukturag/meet-signaling/api"
	"github.com/strukturag/meet-signaling/jingle"
	"github.com/strukturag/meet-signaling/log"
	"github.com/strukturag/meet-signaling/sfu"
)

const (
	// The publisher leg is initiated by the client, the subscriber leg by
	// the gateway.
	localPublisherRole  = jingle.CreatorResponder
	localSubscriberRole = jingle.CreatorInitiator

	// Maximum time to wait for SFU requests that are triggered by events
	// instead of client requests.
	internalRequestTimeout = 10 * time.Second

	// Maximum time to wait for the final unpublish to settle before the
	// room is left anyway.
	unpublishTimeout = time.Second
)

// contentActionOrder is the order in which diff results are reported to the
// listener.
var contentActionOrder = []jingle.ContentAction{
	jingle.ContentActionInit,
	jingle.ContentActionAdd,
	jingle.ContentActionRemove,
	jingle.ContentActionModify,
	jingle.ContentActionAccept,
}

// ParticipationListener receives the events of a participation that are to
// be signaled to the client as Jingle stanzas.
type ParticipationListener interface {
	PublishersJoined(publishers []sfu.PublisherInfo)
	PublishersLeft(publishers []sfu.PublisherInfo)

	ReceivedPublisherSDP(sessionId string, action jingle.ContentAction, sdp *jingle.SDP)
	ReceivedPublisherCandidate(sessionId string, content *jingle.Content)
	TerminatedPublisherSession(sessionId string)

	ReceivedSubscriberSDP(sessionId string, action jingle.ContentAction, sdp *jingle.SDP)
	ReceivedSubscriberCandidate(sessionId string, content *jingle.Content)
	TerminatedSubscriberSession(sessionId string)
}

// sdpHolder keeps a parsed description together with the JSEP it was
// created from or sent as.
type sdpHolder struct {
	sdp  *jingle.SDP
	jsep *api.JSEP
}

// Participation is the state machine of one participant in a meeting. It
// tracks the Jingle sessions of the publisher and subscriber legs, the last
// descriptions seen in each direction and buffers ICE candidates until the
// local description they refer to exists.
//
// All state is guarded by a single mutex; events from the SFU and requests
// from the client are serialized per participation.
type Participation struct {
	logger  log.Logger
	meet    *Meet
	address api.Address

	session    sfu.Session
	publisher  sfu.Publisher
	subscriber sfu.Subscriber

	mu       sync.Mutex
	listener ParticipationListener

	publisherSid  string
	subscriberSid string

	localPublisherSDP   *sdpHolder
	localSubscriberSDP  *sdpHolder
	remotePublisherSDP  *sdpHolder
	remoteSubscriberSDP *sdpHolder

	publisherCreators  map[string]jingle.Creator
	subscriberCreators map[string]jingle.Creator

	publisherCandidates  *DelayedRunQueue
	subscriberCandidates *DelayedRunQueue

	publishers []sfu.PublisherInfo

	left bool
}

func newParticipation(meet *Meet, address api.Address, session sfu.Session, publisher sfu.Publisher, subscriber sfu.Subscriber) *Participation {
	return &Participation{
		logger:  meet.logger,
		meet:    meet,
		address: address,

		session:    session,
		publisher:  publisher,
		subscriber: subscriber,

		publisherCreators:  make(map[string]jingle.Creator),
		subscriberCreators: make(map[string]jingle.Creator),

		publisherCandidates:  NewDelayedRunQueue(),
		subscriberCandidates: NewDelayedRunQueue(),
	}
}

func (p *Participation) Address() api.Address {
	return p.address
}

func (p *Participation) Meet() *Meet {
	return p.meet
}

// SetListener installs the listener and starts delivering SFU events to the
// participation.
func (p *Participation) SetListener(listener ParticipationListener) {
	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()

	p.subscriber.SetListener(p)
	p.publisher.SetListener(p)
}

func (p *Participation) getListener() ParticipationListener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener
}

// StartPublisherSession stores the Jingle session id the client used in its
// "session-initiate" for the publisher leg.
func (p *Participation) StartPublisherSession(sessionId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publisherSid = sessionId
}

// StartSubscriberSession stores the Jingle session id of the subscriber
// leg.
func (p *Participation) StartSubscriberSession(sessionId string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriberSid = sessionId
}

func (p *Participation) PublisherSessionId() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publisherSid
}

func (p *Participation) SubscriberSessionId() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscriberSid
}

func (p *Participation) publisherCreatorFor(name string) jingle.Creator {
	p.mu.Lock()
	defer p.mu.Unlock()
	if creator, found := p.publisherCreators[name]; found {
		return creator
	}
	return localPublisherRole
}

func (p *Participation) subscriberCreatorFor(name string) jingle.Creator {
	p.mu.Lock()
	defer p.mu.Unlock()
	if creator, found := p.subscriberCreators[name]; found {
		return creator
	}
	return localSubscriberRole
}

func updateCreators(creators map[string]jingle.Creator, sdp *jingle.SDP) {
	for _, content := range sdp.Contents {
		creators[content.Name] = content.Creator
	}
}

// SendPublisherSDP relays a description the client sent on the publisher
// leg to the SFU and returns the parsed answer. If a remote description
// exists already, the sent description is merged into it first using the
// action the client declared.
func (p *Participation) SendPublisherSDP(ctx context.Context, sessionId string, action jingle.ContentAction, offer *jingle.SDP) (*jingle.SDP, error) {
	p.mu.Lock()
	if p.publisherSid == "" || p.publisherSid != sessionId {
		p.mu.Unlock()
		return nil, sfu.ErrNoSuchSession
	}

	updateCreators(p.publisherCreators, offer)

	remote := offer
	if p.remotePublisherSDP != nil {
		merged, err := p.remotePublisherSDP.sdp.ApplyDiff(action, offer)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		remote = merged
	}
	jsepOffer := &api.JSEP{
		Type: api.JSEPTypeOffer,
		SDP:  remote.String("0", localPublisherRole, jingle.DirectionIncoming),
	}
	p.remotePublisherSDP = &sdpHolder{
		sdp:  remote,
		jsep: jsepOffer,
	}
	p.mu.Unlock()

	jsepAnswer, err := p.publisher.Publish(ctx, jsepOffer)
	if err != nil {
		p.leave(ctx, err)
		return nil, err
	}

	answer, _ := jingle.ParseSDP(jsepAnswer.SDP, p.publisherCreatorFor, localPublisherRole, jingle.DirectionOutgoing)
	if answer == nil {
		p.logger.Printf("Could not parse publisher answer for %s: %s", p.address, jsepAnswer)
		return nil, sfu.ErrNotConnected
	}

	p.mu.Lock()
	updateCreators(p.publisherCreators, answer)
	p.localPublisherSDP = &sdpHolder{
		sdp:  answer,
		jsep: jsepAnswer,
	}
	queue := p.publisherCandidates
	p.mu.Unlock()

	queue.DelayFinished()
	return answer, nil
}

// SendSubscriberSDP relays the answer of the client on the subscriber leg
// to the SFU.
func (p *Participation) SendSubscriberSDP(ctx context.Context, sessionId string, action jingle.ContentAction, answer *jingle.SDP) error {
	p.mu.Lock()
	if p.subscriberSid == "" || p.subscriberSid != sessionId {
		p.mu.Unlock()
		return sfu.ErrNoSuchSession
	}

	updateCreators(p.subscriberCreators, answer)

	remote := answer
	if p.remoteSubscriberSDP != nil {
		merged, err := p.remoteSubscriberSDP.sdp.ApplyDiff(action, answer)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		remote = merged
	}
	jsepAnswer := &api.JSEP{
		Type: api.JSEPTypeAnswer,
		SDP:  remote.String("0", localSubscriberRole, jingle.DirectionIncoming),
	}
	p.remoteSubscriberSDP = &sdpHolder{
		sdp:  remote,
		jsep: jsepAnswer,
	}
	p.mu.Unlock()

	if err := p.subscriber.Start(ctx, jsepAnswer); err != nil {
		p.leave(ctx, err)
		return err
	}
	return nil
}

// UpdateSDP routes a description the client sent to the leg that matches
// the Jingle session id.
func (p *Participation) UpdateSDP(ctx context.Context, sessionId string, action jingle.ContentAction, sdp *jingle.SDP) error {
	p.mu.Lock()
	publisher := p.publisherSid != "" && p.publisherSid == sessionId
	subscriber := p.subscriberSid != "" && p.subscriberSid == sessionId
	p.mu.Unlock()

	switch {
	case publisher:
		_, err := p.SendPublisherSDP(ctx, sessionId, action, sdp)
		return err
	case subscriber:
		return p.SendSubscriberSDP(ctx, sessionId, action, sdp)
	default:
		return sfu.ErrNoSuchSession
	}
}

// SendCandidate relays a trickle candidate the client sent to the leg that
// matches the Jingle session id.
func (p *Participation) SendCandidate(ctx context.Context, sessionId string, contentName string, candidate *jingle.Candidate) error {
	p.mu.Lock()
	var jsep *api.JSEP
	publisher := p.publisherSid != "" && p.publisherSid == sessionId
	subscriber := p.subscriberSid != "" && p.subscriberSid == sessionId
	switch {
	case publisher:
		if p.remotePublisherSDP != nil {
			jsep = p.remotePublisherSDP.jsep
		}
	case subscriber:
		if p.remoteSubscriberSDP != nil {
			jsep = p.remoteSubscriberSDP.jsep
		}
	default:
		p.mu.Unlock()
		return sfu.ErrNoSuchSession
	}
	p.mu.Unlock()

	sfuCandidate := &sfu.Candidate{
		SdpMid:        contentName,
		SdpMLineIndex: p.findSdpMLineIndex(jsep, contentName),
		Candidate:     candidate.ToSDP(),
	}
	if publisher {
		return p.publisher.SendCandidate(ctx, sfuCandidate)
	}
	return p.subscriber.SendCandidate(ctx, sfuCandidate)
}

// findSdpMLineIndex returns the position of the content in the description
// that was last sent to the SFU.
func (p *Participation) findSdpMLineIndex(jsep *api.JSEP, contentName string) int {
	if jsep == nil {
		return 0
	}

	idx := 0
	for _, line := range strings.Split(jsep.SDP, "\r\n") {
		mid, found := strings.CutPrefix(line, "a=mid:")
		if !found {
			continue
		}
		if mid == contentName {
			return idx
		}
		idx++
	}

	p.logger.Printf("Content %s not found in SDP sent for %s", contentName, p.address)
	return 0
}

// ReceivedPublisherSDP processes a description the SFU sent on the
// publisher leg. It is diffed against the previous local description and
// the changes are reported to the listener per content action.
func (p *Participation) ReceivedPublisherSDP(jsep *api.JSEP) {
	p.mu.Lock()
	sessionId := p.publisherSid
	p.mu.Unlock()
	if sessionId == "" {
		return
	}

	current, _ := jingle.ParseSDP(jsep.SDP, p.publisherCreatorFor, localPublisherRole, jingle.DirectionOutgoing)
	if current == nil {
		p.logger.Printf("Could not parse publisher SDP for %s: %s", p.address, jsep)
		return
	}

	p.mu.Lock()
	prev := p.localPublisherSDP
	updateCreators(p.publisherCreators, current)
	p.localPublisherSDP = &sdpHolder{
		sdp:  current,
		jsep: jsep,
	}
	listener := p.listener
	queue := p.publisherCandidates
	p.mu.Unlock()
	if listener == nil {
		return
	}

	if prev == nil {
		listener.ReceivedPublisherSDP(sessionId, jingle.ContentActionInit, current)
		queue.DelayFinished()
		return
	}

	diff := current.DiffFrom(prev.sdp)
	for _, action := range contentActionOrder {
		if sdp := diff[action]; sdp != nil {
			listener.ReceivedPublisherSDP(sessionId, action, sdp)
		}
	}
}

// ReceivedSubscriberSDP processes an offer the SFU sent on the subscriber
// leg. If the client has not established the subscriber session yet, a
// fresh Jingle session id is minted so the "init" notification can become a
// well-formed "session-initiate". A "modify" from the SFU additionally
// requires re-sending the last known answer back to the SFU.
func (p *Participation) ReceivedSubscriberSDP(jsep *api.JSEP) {
	p.mu.Lock()
	if p.subscriberSid == "" {
		p.subscriberSid = uuid.NewString()
	}
	sessionId := p.subscriberSid
	p.mu.Unlock()

	current, _ := jingle.ParseSDP(jsep.SDP, p.subscriberCreatorFor, localSubscriberRole, jingle.DirectionOutgoing)
	if current == nil {
		p.logger.Printf("Could not parse subscriber SDP for %s: %s", p.address, jsep)
		return
	}

	p.mu.Lock()
	prev := p.localSubscriberSDP
	updateCreators(p.subscriberCreators, current)
	p.localSubscriberSDP = &sdpHolder{
		sdp:  current,
		jsep: jsep,
	}
	listener := p.listener
	queue := p.subscriberCandidates
	lastAnswer := p.remoteSubscriberSDP
	p.mu.Unlock()
	if listener == nil {
		return
	}

	if prev == nil {
		listener.ReceivedSubscriberSDP(sessionId, jingle.ContentActionInit, current)
		queue.DelayFinished()
		return
	}

	diff := current.DiffFrom(prev.sdp)
	for _, action := range contentActionOrder {
		sdp := diff[action]
		if sdp == nil {
			continue
		}

		listener.ReceivedSubscriberSDP(sessionId, action, sdp)
		if action == jingle.ContentActionModify && lastAnswer != nil {
			// The videoroom plugin only applies a changed senders
			// direction after the answer was confirmed again.
			ctx, cancel := context.WithTimeout(log.NewLoggerContext(context.Background(), p.logger), internalRequestTimeout)
			if err := p.subscriber.Start(ctx, lastAnswer.jsep); err != nil {
				p.logger.Printf("Error re-sending subscriber answer for %s: %s", p.address, err)
				p.leave(ctx, err)
			}
			cancel()
		}
	}
}

// ReceivedPublisherCandidate queues a trickle candidate of the publisher
// leg until the local description it refers to exists.
func (p *Participation) ReceivedPublisherCandidate(candidate *sfu.Candidate) {
	p.mu.Lock()
	sessionId := p.publisherSid
	queue := p.publisherCandidates
	p.mu.Unlock()
	if sessionId == "" {
		return
	}

	queue.Offer(func() {
		p.mu.Lock()
		var sdp *jingle.SDP
		if p.localPublisherSDP != nil {
			sdp = p.localPublisherSDP.sdp
		}
		listener := p.listener
		p.mu.Unlock()

		content := convertCandidateToContent(jingle.CreatorInitiator, sdp, candidate)
		if content == nil {
			p.logger.Printf("Could not convert publisher candidate for %s: %+v", p.address, candidate)
			return
		}
		if listener != nil {
			listener.ReceivedPublisherCandidate(sessionId, content)
		}
	})
}

// ReceivedSubscriberCandidate queues a trickle candidate of the subscriber
// leg until the local description it refers to exists.
func (p *Participation) ReceivedSubscriberCandidate(candidate *sfu.Candidate) {
	p.mu.Lock()
	sessionId := p.subscriberSid
	queue := p.subscriberCandidates
	p.mu.Unlock()
	if sessionId == "" {
		return
	}

	queue.Offer(func() {
		p.mu.Lock()
		var sdp *jingle.SDP
		if p.localSubscriberSDP != nil {
			sdp = p.localSubscriberSDP.sdp
		}
		listener := p.listener
		p.mu.Unlock()

		content := convertCandidateToContent(jingle.CreatorInitiator, sdp, candidate)
		if content == nil {
			p.logger.Printf("Could not convert subscriber candidate for %s: %+v", p.address, candidate)
			return
		}
		if listener != nil {
			listener.ReceivedSubscriberCandidate(sessionId, content)
		}
	})
}

// convertCandidateToContent maps a candidate of the SFU to a Jingle content
// carrying one transport with that single candidate. The ICE credentials
// are taken from the matching content of the local description; without
// them the candidate can not be addressed and is dropped.
func convertCandidateToContent(role jingle.Creator, sdp *jingle.SDP, sfuCandidate *sfu.Candidate) *jingle.Content {
	if sdp == nil {
		return nil
	}

	candidate := jingle.ParseCandidate(sfuCandidate.Candidate)
	if candidate == nil {
		return nil
	}

	mid := sfuCandidate.SdpMid
	if mid == "" {
		if len(sdp.Contents) == 0 {
			return nil
		}
		mid = sdp.Contents[0].Name
	}

	content := sdp.FindContent(mid)
	if content == nil {
		return nil
	}
	transport := content.Transport()
	if transport == nil {
		return nil
	}

	return &jingle.Content{
		Creator: role,
		Name:    mid,
		Transports: []jingle.Transport{{
			Ufrag:      transport.Ufrag,
			Pwd:        transport.Pwd,
			Candidates: []jingle.Candidate{*candidate},
		}},
	}
}

// AddedPublishers updates the roster and subscribes to all streams of the
// new publishers.
func (p *Participation) AddedPublishers(publishers []sfu.PublisherInfo) {
	if len(publishers) == 0 {
		return
	}

	p.mu.Lock()
	p.publishers = append(p.publishers, publishers...)
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener.PublishersJoined(publishers)
	}

	var streams []sfu.Stream
	for _, publisher := range publishers {
		if len(publisher.Streams) == 0 {
			streams = append(streams, sfu.Stream{
				Feed: publisher.Id,
			})
			continue
		}
		for _, stream := range publisher.Streams {
			streams = append(streams, sfu.Stream{
				Feed: publisher.Id,
				Mid:  stream.Mid,
			})
		}
	}

	ctx, cancel := context.WithTimeout(log.NewLoggerContext(context.Background(), p.logger), internalRequestTimeout)
	defer cancel()
	if err := p.subscriber.Subscribe(ctx, streams); err != nil {
		p.logger.Printf("Error subscribing %s to %+v: %s", p.address, streams, err)
	}
}

// RemovedPublisher updates the roster and unsubscribes from the streams of
// the publisher that left.
func (p *Participation) RemovedPublisher(id uint64) {
	p.mu.Lock()
	var removed *sfu.PublisherInfo
	for i, publisher := range p.publishers {
		if publisher.Id == id {
			removed = &publisher
			p.publishers = append(p.publishers[:i], p.publishers[i+1:]...)
			break
		}
	}
	listener := p.listener
	p.mu.Unlock()
	if removed == nil {
		return
	}

	if listener != nil {
		listener.PublishersLeft([]sfu.PublisherInfo{*removed})
	}

	ctx, cancel := context.WithTimeout(log.NewLoggerContext(context.Background(), p.logger), internalRequestTimeout)
	defer cancel()
	if err := p.subscriber.Unsubscribe(ctx, id); err != nil {
		p.logger.Printf("Error unsubscribing %s from %d: %s", p.address, id, err)
	}
}

// Leave removes the participant from the meeting and tears down its state
// on the SFU. If this was the last participant, the meeting is destroyed as
// well.
func (p *Participation) Leave(ctx context.Context) error {
	return p.leave(ctx, nil)
}

func (p *Participation) leave(ctx context.Context, cause error) error {
	p.mu.Lock()
	if p.left {
		p.mu.Unlock()
		return nil
	}
	p.left = true
	publisherSid := p.publisherSid
	subscriberSid := p.subscriberSid
	p.publisherSid = ""
	p.subscriberSid = ""
	listener := p.listener
	p.mu.Unlock()

	if cause != nil {
		p.logger.Printf("Participation %s is leaving meet %s due to error: %s", p.address, p.meet.Address(), cause)
	}
	if listener != nil {
		if publisherSid != "" {
			listener.TerminatedPublisherSession(publisherSid)
		}
		if subscriberSid != "" {
			listener.TerminatedSubscriberSession(subscriberSid)
		}
	}

	wasLast := p.meet.left(p)

	// Give the SFU a bounded amount of time to acknowledge the unpublish,
	// the room is left either way.
	unpublishCtx, cancel := context.WithTimeout(ctx, unpublishTimeout)
	if err := p.publisher.Unpublish(unpublishCtx); err != nil {
		p.logger.Printf("Error unpublishing %s: %s", p.address, err)
	}
	cancel()
	if err := p.publisher.Leave(ctx); err != nil {
		p.logger.Printf("Error leaving room for %s: %s", p.address, err)
	}

	p.closeResources(ctx)

	if wasLast {
		return p.meet.Destroy(ctx)
	}
	return nil
}

// closeResources detaches the publisher and subscriber handles and destroys
// the session on the SFU.
func (p *Participation) closeResources(ctx context.Context) {
	p.publisher.Close(ctx)
	p.subscriber.Close(ctx)
	if err := p.session.Destroy(ctx); err != nil {
		p.logger.Printf("Error destroying session of %s: %s", p.address, err)
	}
}
