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

// Parameter is a single format parameter of a payload type ("a=fmtp").
type Parameter struct {
	Name  string
	Value string
}

func ParseParameter(sdp string) Parameter {
	name, value, _ := strings.Cut(sdp, "=")
	return Parameter{
		Name:  name,
		Value: value,
	}
}

func (p Parameter) ToSDP() string {
	return p.Name + "=" + p.Value
}

// RtcpFeedback is a single RTCP feedback capability of a payload type
// ("a=rtcp-fb").
type RtcpFeedback struct {
	Type    string
	Subtype string
}

func ParseRtcpFeedback(sdp string) RtcpFeedback {
	fbType, subtype, _ := strings.Cut(sdp, " ")
	return RtcpFeedback{
		Type:    fbType,
		Subtype: subtype,
	}
}

// Payload describes a single payload type (codec) of a media description.
type Payload struct {
	Id           int
	Channels     int
	Clockrate    int
	Maxptime     int
	Name         string
	Ptime        int
	Parameters   []Parameter
	RtcpFeedback []RtcpFeedback
}

// ToSDP returns the SDP lines describing the payload type.
func (p *Payload) ToSDP() []string {
	var sb strings.Builder
	sb.WriteString("a=rtpmap:")
	sb.WriteString(strconv.Itoa(p.Id))
	sb.WriteString(" ")
	sb.WriteString(p.Name)
	sb.WriteString("/")
	sb.WriteString(strconv.Itoa(p.Clockrate))
	if p.Channels > 1 {
		sb.WriteString("/")
		sb.WriteString(strconv.Itoa(p.Channels))
	}

	lines := []string{sb.String()}
	if len(p.Parameters) > 0 {
		params := make([]string, 0, len(p.Parameters))
		for _, param := range p.Parameters {
			params = append(params, param.ToSDP())
		}
		lines = append(lines, "a=fmtp:"+strconv.Itoa(p.Id)+" "+strings.Join(params, ";"))
	}
	for _, fb := range p.RtcpFeedback {
		line := "a=rtcp-fb:" + strconv.Itoa(p.Id) + " " + fb.Type
		if fb.Subtype != "" {
			line += " " + fb.Subtype
		}
		lines = append(lines, line)
	}
	return lines
}
