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
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Offer as generated by the videoroom plugin for a subscriber receiving two
// audio / video pairs.
var testSDP = strings.ReplaceAll(`v=0
o=- 1623251477217656 2 IN IP4 0.0.0.0
s=VideoRoom 1234
t=0 0
a=group:BUNDLE 0 1 2 3
a=ice-options:trickle
a=fingerprint:sha-256 89:5D:8D:AA:1D:0B:6F:7F:54:16:D2:61:E7:B7:4C:D7:0E:DF:93:FD:10:34:66:7A:71:24:0D:D8:45:E9:4C:C9
a=msid-semantic: WMS janus
m=audio 9 UDP/TLS/RTP/SAVPF 111
c=IN IP4 0.0.0.0
a=sendonly
a=mid:0
a=rtcp-mux
a=ice-ufrag:HTzj
a=ice-pwd:kLUcEX+Rrq4lWvUcJA1hZ/
a=ice-options:trickle
a=setup:actpass
a=rtpmap:111 opus/48000/2
a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level
a=extmap:4 urn:ietf:params:rtp-hdrext:sdes:mid
a=msid:janus janus0
a=ssrc:4040912716 cname:janus
m=video 9 UDP/TLS/RTP/SAVPF 96
c=IN IP4 0.0.0.0
a=sendonly
a=mid:1
a=rtcp-mux
a=ice-ufrag:HTzj
a=ice-pwd:kLUcEX+Rrq4lWvUcJA1hZ/
a=ice-options:trickle
a=setup:actpass
a=rtpmap:96 VP8/90000
a=rtcp-fb:96 ccm fir
a=rtcp-fb:96 nack
a=rtcp-fb:96 nack pli
a=rtcp-fb:96 goog-remb
a=extmap:3 http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01
a=extmap:4 urn:ietf:params:rtp-hdrext:sdes:mid
a=extmap:12 http://www.webrtc.org/experiments/rtp-hdrext/playout-delay
a=msid:janus janus1
a=ssrc:740108580 cname:janus
m=audio 9 UDP/TLS/RTP/SAVPF 111
c=IN IP4 0.0.0.0
a=sendonly
a=mid:2
a=rtcp-mux
a=ice-ufrag:HTzj
a=ice-pwd:kLUcEX+Rrq4lWvUcJA1hZ/
a=ice-options:trickle
a=setup:actpass
a=rtpmap:111 opus/48000/2
a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level
a=extmap:4 urn:ietf:params:rtp-hdrext:sdes:mid
a=msid:janus janus2
a=ssrc:3154195879 cname:janus
m=video 9 UDP/TLS/RTP/SAVPF 96
c=IN IP4 0.0.0.0
a=sendonly
a=mid:3
a=rtcp-mux
a=ice-ufrag:HTzj
a=ice-pwd:kLUcEX+Rrq4lWvUcJA1hZ/
a=ice-options:trickle
a=setup:actpass
a=rtpmap:96 VP8/90000
a=rtcp-fb:96 ccm fir
a=rtcp-fb:96 nack
a=rtcp-fb:96 nack pli
a=rtcp-fb:96 goog-remb
a=extmap:3 http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01
a=extmap:4 urn:ietf:params:rtp-hdrext:sdes:mid
a=extmap:12 http://www.webrtc.org/experiments/rtp-hdrext/playout-delay
a=msid:janus janus3
a=ssrc:3023058024 cname:janus
`, "\n", "\r\n")

func TestSDPConversion(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	sid := uuid.NewString()
	sdp1, _ := ParseSDP(testSDP, StaticCreator(CreatorInitiator), CreatorInitiator, DirectionIncoming)
	require.NotNil(sdp1)
	require.Len(sdp1.Contents, 4)
	assert.Equal([]string{"0", "1", "2", "3"}, sdp1.Bundle)
	assert.NotEmpty(sdp1.Contents[1].Description.Payloads[0].RtcpFeedback)

	serialized1 := sdp1.String(sid, CreatorInitiator, DirectionIncoming)

	sdp2, _ := ParseSDP(serialized1, StaticCreator(CreatorInitiator), CreatorInitiator, DirectionIncoming)
	require.NotNil(sdp2)
	serialized2 := sdp2.String(sid, CreatorInitiator, DirectionIncoming)

	assert.Equal([]string{"0", "1", "2", "3"}, sdp2.Bundle)
	assert.NotEmpty(sdp2.Contents[1].Description.Payloads[0].RtcpFeedback)
	assert.Equal(serialized1, serialized2)
}

func TestSDPParseFields(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	sdp, sid := ParseSDP(testSDP, StaticCreator(CreatorResponder), CreatorResponder, DirectionOutgoing)
	require.NotNil(sdp)
	assert.Equal("1623251477217656", sid)
	assert.Equal("2", sdp.Id)

	content := sdp.Contents[0]
	assert.Equal("0", content.Name)
	assert.Equal(CreatorResponder, content.Creator)
	require.NotNil(content.Description)
	assert.Equal("audio", content.Description.Media)
	assert.True(content.Description.RtcpMux)
	require.Len(content.Description.Payloads, 1)
	payload := content.Description.Payloads[0]
	assert.Equal(111, payload.Id)
	assert.Equal("opus", payload.Name)
	assert.Equal(48000, payload.Clockrate)
	assert.Equal(2, payload.Channels)

	transport := content.Transport()
	require.NotNil(transport)
	assert.Equal("HTzj", transport.Ufrag)
	assert.Equal("kLUcEX+Rrq4lWvUcJA1hZ/", transport.Pwd)
	require.NotNil(transport.Fingerprint)
	// Fingerprint / setup are only present at the session level and must be
	// inherited by every content.
	assert.Equal("sha-256", transport.Fingerprint.Hash)
	assert.Equal(SetupActpass, transport.Fingerprint.Setup)

	require.Len(content.Description.Ssrcs, 1)
	ssrc := content.Description.Ssrcs[0]
	assert.Equal("4040912716", ssrc.Ssrc)
	require.Len(ssrc.Parameters, 2)
	assert.Equal("cname", ssrc.Parameters[0].Name)
	assert.Equal("msid", ssrc.Parameters[1].Name)
	assert.Equal("janus janus0", ssrc.Parameters[1].Value)
}

func TestSDPDuplicateContentNames(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	duplicate := strings.ReplaceAll(`v=0
o=- 1 2 IN IP4 0.0.0.0
s=-
t=0 0
m=audio 9 RTP/AVPF 111
a=mid:0
m=video 9 RTP/AVPF 96
a=mid:0
`, "\n", "\r\n")

	sdp, _ := ParseSDP(duplicate, StaticCreator(CreatorInitiator), CreatorInitiator, DirectionIncoming)
	assert.Nil(sdp)
}

func TestSDPApplyDiffDuplicateContent(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	base := &SDP{
		Id: "1",
		Contents: []*Content{
			{Creator: CreatorResponder, Name: "0", Senders: SendersResponder, Description: &Description{Media: "audio"}},
		},
		Bundle: []string{"0"},
	}
	delta := &SDP{
		Id: "2",
		Contents: []*Content{
			{Creator: CreatorResponder, Name: "0", Senders: SendersBoth, Description: &Description{Media: "audio"}},
		},
		Bundle: []string{"0"},
	}

	// Adding a content with a name that already exists would leave two
	// contents with the same name.
	for _, action := range []ContentAction{ContentActionAdd, ContentActionAccept} {
		patched, err := base.ApplyDiff(action, delta)
		assert.Error(err, "action %s", action)
		assert.Nil(patched)
	}
}

func TestSendersMapping(t *testing.T) {
	t.Parallel()

	roles := []Creator{CreatorInitiator, CreatorResponder}
	directions := []Direction{DirectionOutgoing, DirectionIncoming}
	senders := []Senders{SendersNone, SendersInitiator, SendersResponder, SendersBoth}

	for _, role := range roles {
		for _, direction := range directions {
			for _, s := range senders {
				streamType := s.ToStreamType(role, direction)
				assert.Equal(t, s, streamType.ToSenders(role, direction), "senders %s, role %s, direction %d", s, role, direction)
			}
		}
	}

	assert := assert.New(t)
	assert.Equal(StreamTypeInactive, SendersNone.ToStreamType(CreatorInitiator, DirectionOutgoing))
	assert.Equal(StreamTypeSendrecv, SendersBoth.ToStreamType(CreatorResponder, DirectionIncoming))
	assert.Equal(StreamTypeSendonly, SendersInitiator.ToStreamType(CreatorInitiator, DirectionOutgoing))
	assert.Equal(StreamTypeRecvonly, SendersInitiator.ToStreamType(CreatorResponder, DirectionOutgoing))
	assert.Equal(StreamTypeSendonly, SendersInitiator.ToStreamType(CreatorResponder, DirectionIncoming))
	assert.Equal(StreamTypeRecvonly, SendersInitiator.ToStreamType(CreatorInitiator, DirectionIncoming))
	assert.Equal(StreamTypeSendonly, SendersResponder.ToStreamType(CreatorResponder, DirectionOutgoing))
	assert.Equal(StreamTypeRecvonly, SendersResponder.ToStreamType(CreatorInitiator, DirectionOutgoing))
	assert.Equal(StreamTypeSendonly, SendersResponder.ToStreamType(CreatorInitiator, DirectionIncoming))
	assert.Equal(StreamTypeRecvonly, SendersResponder.ToStreamType(CreatorResponder, DirectionIncoming))
}

func TestSDPDiffApply(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	old := &SDP{
		Id: "1",
		Contents: []*Content{
			{Creator: CreatorResponder, Name: "0", Senders: SendersResponder, Description: &Description{Media: "audio"}},
			{Creator: CreatorResponder, Name: "1", Senders: SendersResponder, Description: &Description{Media: "video"}},
		},
		Bundle: []string{"0", "1"},
	}
	updated := &SDP{
		Id: "2",
		Contents: []*Content{
			{Creator: CreatorResponder, Name: "0", Senders: SendersNone, Description: &Description{Media: "audio"}},
			{Creator: CreatorResponder, Name: "2", Senders: SendersResponder, Description: &Description{Media: "video"}},
		},
		Bundle: []string{"0", "2"},
	}

	diff := updated.DiffFrom(old)
	require.Len(diff, 3)

	removed := diff[ContentActionRemove]
	require.NotNil(removed)
	require.Len(removed.Contents, 1)
	assert.Equal("1", removed.Contents[0].Name)
	// Removals are signaled header-only.
	assert.Nil(removed.Contents[0].Description)

	added := diff[ContentActionAdd]
	require.NotNil(added)
	require.Len(added.Contents, 1)
	assert.Equal("2", added.Contents[0].Name)
	assert.NotNil(added.Contents[0].Description)

	modified := diff[ContentActionModify]
	require.NotNil(modified)
	require.Len(modified.Contents, 1)
	assert.Equal("0", modified.Contents[0].Name)
	assert.Equal(SendersNone, modified.Contents[0].GetSenders())

	// Applying the diffs to the old description restores the new one.
	patched := old
	var err error
	for _, action := range []ContentAction{ContentActionRemove, ContentActionAdd, ContentActionModify} {
		if delta, found := diff[action]; found {
			patched, err = patched.ApplyDiff(action, delta)
			require.NoError(err)
		}
	}

	require.Len(patched.Contents, 2)
	assert.Equal(SendersNone, patched.FindContent("0").GetSenders())
	assert.NotNil(patched.FindContent("0").Description)
	assert.Nil(patched.FindContent("1"))
	assert.NotNil(patched.FindContent("2"))
	assert.Equal([]string{"0", "2"}, patched.Bundle)

	// Unknown actions must fail instead of silently doing nothing.
	_, err = patched.ApplyDiff(ContentAction("unknown"), updated)
	assert.Error(err)

	// "init" replaces the description completely.
	replaced, err := old.ApplyDiff(ContentActionInit, updated)
	require.NoError(err)
	assert.Equal(updated, replaced)

	// No changes, no diff entries.
	assert.Empty(updated.DiffFrom(updated))
}

func TestContentActionMapping(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.Equal(ContentActionInit, ContentActionFromJingle(ActionSessionInitiate))
	assert.Equal(ContentActionAdd, ContentActionFromJingle(ActionContentAdd))
	assert.Equal(ContentActionRemove, ContentActionFromJingle(ActionContentRemove))
	assert.Equal(ContentActionModify, ContentActionFromJingle(ActionContentModify))
	assert.Equal(ContentActionAccept, ContentActionFromJingle(ActionContentAccept))

	assert.Equal(ActionSessionAccept, ContentActionInit.ToJingleAction(ActionSessionAccept))
	assert.Equal(ActionContentAdd, ContentActionAdd.ToJingleAction(ActionSessionAccept))
	assert.Equal(ActionContentRemove, ContentActionRemove.ToJingleAction(ActionSessionAccept))
	assert.Equal(ActionContentModify, ContentActionModify.ToJingleAction(ActionSessionAccept))
	assert.Equal(ActionContentAccept, ContentActionAccept.ToJingleAction(ActionSessionAccept))
}
