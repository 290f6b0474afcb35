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
	"testing"

	"github.com/pion/ice/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidate(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	candidate := ParseCandidate("candidate:1 1 udp 2015363327 192.168.0.196 53676 typ host generation 0")
	require.NotNil(candidate)
	assert.Equal("1", candidate.Foundation)
	assert.Equal("1", candidate.Component)
	assert.Equal(ProtocolTypeUdp, candidate.Protocol)
	assert.Equal(uint32(2015363327), candidate.Priority)
	assert.Equal("192.168.0.196", candidate.IP)
	assert.Equal(53676, candidate.Port)
	assert.Equal(CandidateTypeHost, candidate.Type)
	assert.Equal(0, candidate.Generation)
	assert.NotEmpty(candidate.Id)

	assert.Equal("candidate:1 1 udp 2015363327 192.168.0.196 53676 typ host generation 0", candidate.ToSDP())
}

func TestParseCandidateRelated(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	line := "candidate:2 1 udp 1679819007 1.2.3.4 54321 typ srflx raddr 192.168.0.196 rport 53676 generation 1"
	candidate := ParseCandidate("a=" + line)
	require.NotNil(candidate)
	assert.Equal(CandidateTypeSrflx, candidate.Type)
	assert.Equal("192.168.0.196", candidate.RelAddr)
	assert.Equal(53676, candidate.RelPort)
	assert.Equal(1, candidate.Generation)

	assert.Equal(line, candidate.ToSDP())
}

func TestParseCandidateTcp(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	line := "candidate:3 1 tcp 1518214911 192.168.0.196 9 typ host tcptype active generation 0"
	candidate := ParseCandidate(line)
	require.NotNil(candidate)
	assert.Equal(ProtocolTypeTcp, candidate.Protocol)
	assert.Equal("active", candidate.TcpType)

	assert.Equal(line, candidate.ToSDP())
}

func TestParseCandidateInvalid(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.Nil(ParseCandidate("a=mid:0"))
	assert.Nil(ParseCandidate("candidate:1 1 udp 2015363327 192.168.0.196"))
	assert.Nil(ParseCandidate("candidate:1 1 udp notanumber 192.168.0.196 53676 typ host"))
}

func TestCandidateAttributes(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	candidate := &Candidate{
		Component:  "1",
		Foundation: "2",
		Generation: 1,
		Id:         "b905ef65-0f67-4462-9c50-a3f7a6d67571",
		IP:         "1.2.3.4",
		Network:    1,
		Port:       54321,
		Priority:   1679819007,
		Protocol:   ProtocolTypeUdp,
		RelAddr:    "192.168.0.196",
		RelPort:    53676,
		Type:       CandidateTypeSrflx,
	}
	attrs := candidate.ToAttributes()
	assert.Equal("2", attrs["foundation"])
	assert.Equal("1679819007", attrs["priority"])
	assert.Equal("192.168.0.196", attrs["rel-addr"])
	assert.Equal("53676", attrs["rel-port"])
	assert.Equal("srflx", attrs["type"])
	assert.NotContains(attrs, "tcptype")

	// The attribute form carries everything, including the fields the SDP
	// form drops.
	decoded, err := CandidateFromAttributes(attrs)
	require.NoError(err)
	assert.Equal(candidate, decoded)
	assert.Equal(candidate.ToSDP(), decoded.ToSDP())
}

func TestCandidateAttributesTcp(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	line := "candidate:3 1 tcp 1518214911 192.168.0.196 9 typ host tcptype active generation 0"
	candidate := ParseCandidate(line)
	require.NotNil(candidate)

	decoded, err := CandidateFromAttributes(candidate.ToAttributes())
	require.NoError(err)
	assert.Equal(candidate, decoded)
	assert.Equal(line, decoded.ToSDP())
}

func TestCandidateAttributesInvalid(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	valid := ParseCandidate("candidate:1 1 udp 2015363327 192.168.0.196 53676 typ host generation 0").ToAttributes()
	for _, name := range []string{"component", "foundation", "generation", "ip", "network", "port", "priority", "protocol"} {
		attrs := make(map[string]string)
		for key, value := range valid {
			attrs[key] = value
		}
		delete(attrs, name)

		candidate, err := CandidateFromAttributes(attrs)
		assert.Error(err, "attribute %s is required", name)
		assert.Nil(candidate)
	}

	broken := make(map[string]string)
	for key, value := range valid {
		broken[key] = value
	}
	broken["port"] = "notanumber"
	candidate, err := CandidateFromAttributes(broken)
	assert.Error(err)
	assert.Nil(candidate)
}

func TestCandidateAttributesMissingId(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	attrs := ParseCandidate("candidate:1 1 udp 2015363327 192.168.0.196 53676 typ host generation 0").ToAttributes()
	delete(attrs, "id")

	candidate, err := CandidateFromAttributes(attrs)
	require.NoError(err)
	assert.NotEmpty(candidate.Id)
}

func TestCandidateInterop(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	// Serialized candidates must remain valid ICE candidate attributes.
	candidates := []string{
		"candidate:1 1 udp 2015363327 192.168.0.196 53676 typ host generation 0",
		"candidate:2 1 udp 1679819007 1.2.3.4 54321 typ srflx raddr 192.168.0.196 rport 53676 generation 0",
		"candidate:3 1 tcp 1518214911 192.168.0.196 9 typ host tcptype active generation 0",
	}
	for _, line := range candidates {
		candidate := ParseCandidate(line)
		require.NotNil(candidate, "could not parse %s", line)

		parsed, err := ice.UnmarshalCandidate(candidate.ToSDP())
		require.NoError(err, "invalid candidate %s", line)
		require.NotNil(parsed)
	}
}
