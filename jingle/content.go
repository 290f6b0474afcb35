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
package jingle

import (
	"strconv"
	"strings"
)

// Creator is the role of the party that created a content.
type Creator string

const (
	CreatorInitiator Creator = "initiator"
	CreatorResponder Creator = "responder"
)

// Other returns the opposite role.
func (c Creator) Other() Creator {
	if c == CreatorInitiator {
		return CreatorResponder
	}
	return CreatorInitiator
}

// Direction tells whether a description is processed on its way from the
// client to the SFU or the other way around. The senders mapping depends on
// it.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

// Senders is the Jingle view on which parties send media on a content.
type Senders string

const (
	SendersNone      Senders = "none"
	SendersInitiator Senders = "initiator"
	SendersResponder Senders = "responder"
	SendersBoth      Senders = "both"
)

// ToStreamType maps the senders value to the SDP direction attribute, based
// on the local role and the direction the description is traveling in.
func (s Senders) ToStreamType(localRole Creator, direction Direction) StreamType {
	switch s {
	case SendersNone:
		return StreamTypeInactive
	case SendersBoth, "":
		return StreamTypeSendrecv
	case SendersInitiator:
		if direction == DirectionOutgoing {
			if localRole == CreatorInitiator {
				return StreamTypeSendonly
			}
			return StreamTypeRecvonly
		}
		if localRole == CreatorResponder {
			return StreamTypeSendonly
		}
		return StreamTypeRecvonly
	case SendersResponder:
		if direction == DirectionOutgoing {
			if localRole == CreatorResponder {
				return StreamTypeSendonly
			}
			return StreamTypeRecvonly
		}
		if localRole == CreatorInitiator {
			return StreamTypeSendonly
		}
		return StreamTypeRecvonly
	}
	return StreamTypeSendrecv
}

// StreamType is the SDP direction attribute of a media section.
type StreamType string

const (
	StreamTypeInactive StreamType = "inactive"
	StreamTypeSendonly StreamType = "sendonly"
	StreamTypeRecvonly StreamType = "recvonly"
	StreamTypeSendrecv StreamType = "sendrecv"
)

func streamTypeFromLines(lines []string) (StreamType, bool) {
	for _, line := range lines {
		switch line {
		case "a=inactive":
			return StreamTypeInactive, true
		case "a=sendonly":
			return StreamTypeSendonly, true
		case "a=recvonly":
			return StreamTypeRecvonly, true
		case "a=sendrecv":
			return StreamTypeSendrecv, true
		}
	}
	return "", false
}

// ToSenders is the inverse of Senders.ToStreamType.
func (s StreamType) ToSenders(localRole Creator, direction Direction) Senders {
	switch s {
	case StreamTypeInactive:
		return SendersNone
	case StreamTypeSendrecv:
		return SendersBoth
	case StreamTypeSendonly:
		if direction == DirectionOutgoing {
			return Senders(localRole)
		}
		return Senders(localRole.Other())
	case StreamTypeRecvonly:
		if direction == DirectionOutgoing {
			return Senders(localRole.Other())
		}
		return Senders(localRole)
	}
	return SendersBoth
}

// Content is one logical media line of a session, i.e. the Jingle equivalent
// of one "m=" section.
type Content struct {
	Creator     Creator
	Name        string
	Senders     Senders
	Description *Description
	Transports  []Transport
}

// GetSenders returns the senders of the content, defaulting to "both" if not
// set explicitly.
func (c *Content) GetSenders() Senders {
	if c.Senders == "" {
		return SendersBoth
	}
	return c.Senders
}

// Transport returns the first transport of the content.
func (c *Content) Transport() *Transport {
	if len(c.Transports) == 0 {
		return nil
	}
	return &c.Transports[0]
}

// CloneHeaderOnly returns a copy of the content without any media data, used
// when signaling a "remove" of the content.
func (c *Content) CloneHeaderOnly() *Content {
	return &Content{
		Creator: c.Creator,
		Name:    c.Name,
		Senders: c.Senders,
	}
}

// CloneForModify returns a copy of the content that only keeps the media
// sources, used when signaling a "modify" of the content.
func (c *Content) CloneForModify() *Content {
	clone := &Content{
		Creator: c.Creator,
		Name:    c.Name,
		Senders: c.Senders,
	}
	if c.Description != nil {
		clone.Description = c.Description.CloneWithSSRCsOnly()
	}
	return clone
}

// WithSenders returns a copy of the content with the senders replaced.
func (c *Content) WithSenders(senders Senders) *Content {
	clone := *c
	clone.Senders = senders
	return &clone
}

// parseContent parses one media section of an SDP. The section starts with
// the "m=" line, the session-level lines are passed separately to resolve
// fingerprint data that some clients only send once per session.
func parseContent(section string, sessionLines []string, creator Creator, localRole Creator, direction Direction) *Content {
	lines := strings.Split(section, "\r\n")
	mLine := strings.Split(lines[0], " ")
	if len(mLine) < 3 || !strings.HasPrefix(mLine[0], "m=") {
		return nil
	}

	media := mLine[0][2:]
	name := media
	for _, line := range lines {
		if mid, found := strings.CutPrefix(line, "a=mid:"); found {
			name = mid
			break
		}
	}

	var ufrag, pwd string
	for _, line := range lines {
		if value, found := strings.CutPrefix(line, "a=ice-ufrag:"); found && ufrag == "" {
			ufrag = value
		} else if value, found := strings.CutPrefix(line, "a=ice-pwd:"); found && pwd == "" {
			pwd = value
		}
	}

	var senders Senders
	if streamType, found := streamTypeFromLines(lines); found {
		senders = streamType.ToSenders(localRole, direction)
	}

	var payloads []Payload
	if len(mLine) > 3 {
		for _, id := range mLine[3:] {
			payloadId, err := strconv.Atoi(id)
			if err != nil {
				continue
			}

			payload := Payload{
				Id:       payloadId,
				Channels: 1,
			}
			rtpmapPrefix := "a=rtpmap:" + id
			fmtpPrefix := "a=fmtp:" + id
			rtcpFbPrefix := "a=rtcp-fb:" + id + " "
			for _, line := range lines {
				if value, found := strings.CutPrefix(line, rtpmapPrefix); found {
					parts := strings.Split(value, "/")
					payload.Name = strings.TrimSpace(parts[0])
					if len(parts) > 1 {
						payload.Clockrate, _ = strconv.Atoi(parts[1])
					}
					if len(parts) > 2 {
						if channels, err := strconv.Atoi(parts[2]); err == nil {
							payload.Channels = channels
						}
					}
				} else if value, found := strings.CutPrefix(line, fmtpPrefix); found {
					for param := range strings.SplitSeq(value, ";") {
						payload.Parameters = append(payload.Parameters, ParseParameter(strings.TrimSpace(param)))
					}
				} else if value, found := strings.CutPrefix(line, rtcpFbPrefix); found {
					payload.RtcpFeedback = append(payload.RtcpFeedback, ParseRtcpFeedback(value))
				}
			}
			payloads = append(payloads, payload)
		}
	}

	var encryptions []Encryption
	for _, line := range lines {
		if encryption := parseEncryption(line); encryption != nil {
			encryptions = append(encryptions, *encryption)
		}
	}

	rtcpMux := false
	for _, line := range lines {
		if line == "a=rtcp-mux" {
			rtcpMux = true
			break
		}
	}

	description := &Description{
		Media:       media,
		Payloads:    payloads,
		Encryptions: encryptions,
		RtcpMux:     rtcpMux,
		Ssrcs:       parseSSRCs(lines),
		SsrcGroups:  parseSSRCGroups(lines),
		HdrExts:     parseHdrExts(lines),
	}

	var candidates []Candidate
	for _, line := range lines {
		if strings.HasPrefix(line, "a=candidate:") {
			if candidate := ParseCandidate(line); candidate != nil {
				candidates = append(candidates, *candidate)
			}
		}
	}

	var fingerprint *Fingerprint
	setup := parseSetup(lines)
	if setup == "" {
		setup = parseSetup(sessionLines)
	}
	hash, value, found := parseFingerprintData(lines)
	if !found {
		hash, value, found = parseFingerprintData(sessionLines)
	}
	if setup != "" && found {
		fingerprint = &Fingerprint{
			Hash:  hash,
			Value: value,
			Setup: setup,
		}
	}

	return &Content{
		Creator:     creator,
		Name:        name,
		Senders:     senders,
		Description: description,
		Transports: []Transport{{
			Ufrag:       ufrag,
			Pwd:         pwd,
			Candidates:  candidates,
			Fingerprint: fingerprint,
		}},
	}
}

// ToSDP serializes the content back into one media section, without a
// trailing line separator.
func (c *Content) ToSDP(localRole Creator, direction Direction) string {
	var lines []string

	if description := c.Description; description != nil {
		proto := "RTP/SAVPF"
		if len(description.Encryptions) == 0 {
			for _, transport := range c.Transports {
				if transport.Fingerprint == nil {
					proto = "RTP/AVPF"
					break
				}
			}
		}

		ids := make([]string, 0, len(description.Payloads))
		for _, payload := range description.Payloads {
			ids = append(ids, strconv.Itoa(payload.Id))
		}
		lines = append(lines, "m="+description.Media+" 1 "+proto+" "+strings.Join(ids, " "))
	}

	lines = append(lines, "c=IN IP4 0.0.0.0")
	if c.Description != nil && c.Description.isAudioVideo() {
		lines = append(lines, "a=rtcp:1 IN IP4 0.0.0.0")
	}

	if transport := c.Transport(); transport != nil {
		if transport.Ufrag != "" {
			lines = append(lines, "a=ice-ufrag:"+transport.Ufrag)
		}
		if transport.Pwd != "" {
			lines = append(lines, "a=ice-pwd:"+transport.Pwd)
		}
		if fingerprint := transport.Fingerprint; fingerprint != nil {
			lines = append(lines, "a=fingerprint:"+fingerprint.Hash+" "+fingerprint.Value)
			lines = append(lines, "a=setup:"+string(fingerprint.Setup))
		}
	}

	lines = append(lines, "a="+string(c.GetSenders().ToStreamType(localRole, direction)))
	lines = append(lines, "a=mid:"+c.Name)
	lines = append(lines, "a=ice-options:trickle")

	if description := c.Description; description != nil {
		if description.isAudioVideo() {
			if description.RtcpMux {
				lines = append(lines, "a=rtcp-mux")
			}
			for _, encryption := range description.Encryptions {
				lines = append(lines, encryption.ToSDP())
			}
		}
		for _, payload := range description.Payloads {
			lines = append(lines, payload.ToSDP()...)
		}
		for _, hdrExt := range description.HdrExts {
			lines = append(lines, hdrExt.ToSDP())
		}
		for _, group := range description.SsrcGroups {
			lines = append(lines, group.ToSDP())
		}
		for _, ssrc := range description.Ssrcs {
			lines = append(lines, ssrc.ToSDP()...)
		}

		// One "a=msid" line per distinct msid value of the sources.
		var msids []string
		for _, ssrc := range description.Ssrcs {
			for _, param := range ssrc.Parameters {
				if param.Name == "msid" && param.HasValue {
					found := false
					for _, msid := range msids {
						if msid == param.Value {
							found = true
							break
						}
					}
					if !found {
						msids = append(msids, param.Value)
					}
				}
			}
		}
		for _, msid := range msids {
			lines = append(lines, "a=msid:"+msid)
		}
	}

	if transport := c.Transport(); transport != nil {
		for _, candidate := range transport.Candidates {
			lines = append(lines, "a="+candidate.ToSDP())
		}
	}

	return strings.Join(lines, "\r\n")
}
