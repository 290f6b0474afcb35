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
)

// HdrExt is an RTP header extension of a media description ("a=extmap").
type HdrExt struct {
	Id  string
	Uri string
}

func parseHdrExts(lines []string) []HdrExt {
	var hdrExts []HdrExt
	for _, line := range lines {
		value, found := strings.CutPrefix(line, "a=extmap:")
		if !found {
			continue
		}

		id, uri, found := strings.Cut(value, " ")
		// Skip direction-qualified extensions ("a=extmap:3/sendonly ...").
		if !found || strings.Contains(id, "/") {
			continue
		}
		hdrExts = append(hdrExts, HdrExt{
			Id:  id,
			Uri: uri,
		})
	}
	return hdrExts
}

func (h HdrExt) ToSDP() string {
	return "a=extmap:" + h.Id + " " + h.Uri
}

// SSRCParameter is a single attribute of a media source ("a=ssrc:<id> ...").
// The value is optional, parameters without values keep HasValue unset.
type SSRCParameter struct {
	Name     string
	Value    string
	HasValue bool
}

func (p SSRCParameter) ToSDP() string {
	if p.HasValue {
		return p.Name + ":" + p.Value
	}
	return p.Name
}

// SSRC describes a single media source and its attributes.
type SSRC struct {
	Ssrc       string
	Parameters []SSRCParameter
}

func parseSSRCs(lines []string) []SSRC {
	var order []string
	params := make(map[string][]SSRCParameter)
	for _, line := range lines {
		value, found := strings.CutPrefix(line, "a=ssrc:")
		if !found {
			continue
		}

		id, param, found := strings.Cut(value, " ")
		if _, exists := params[id]; !exists {
			order = append(order, id)
			params[id] = nil
		}
		if !found || strings.TrimSpace(param) == "" {
			continue
		}

		name, paramValue, hasValue := strings.Cut(param, ":")
		params[id] = append(params[id], SSRCParameter{
			Name:     strings.TrimSpace(name),
			Value:    paramValue,
			HasValue: hasValue,
		})
	}

	if len(order) == 0 {
		return nil
	}

	// Media-level "a=msid" lines apply to sources that don't carry their own
	// "msid" parameter.
	var msid string
	for _, line := range lines {
		if value, found := strings.CutPrefix(line, "a=msid:"); found {
			msid = value
			break
		}
	}

	ssrcs := make([]SSRC, 0, len(order))
	for _, id := range order {
		parameters := params[id]
		if msid != "" {
			found := false
			for _, param := range parameters {
				if param.Name == "msid" {
					found = true
					break
				}
			}
			if !found {
				parameters = append(parameters, SSRCParameter{
					Name:     "msid",
					Value:    msid,
					HasValue: true,
				})
			}
		}
		ssrcs = append(ssrcs, SSRC{
			Ssrc:       id,
			Parameters: parameters,
		})
	}
	return ssrcs
}

// ToSDP returns one SDP line per parameter of the media source.
func (s *SSRC) ToSDP() []string {
	lines := make([]string, 0, len(s.Parameters))
	for _, param := range s.Parameters {
		lines = append(lines, "a=ssrc:"+s.Ssrc+" "+param.ToSDP())
	}
	return lines
}

// SSRCGroup groups related media sources ("a=ssrc-group"), e.g. for
// retransmission streams.
type SSRCGroup struct {
	Semantics string
	Sources   []string
}

func parseSSRCGroups(lines []string) []SSRCGroup {
	var groups []SSRCGroup
	for _, line := range lines {
		value, found := strings.CutPrefix(line, "a=ssrc-group:")
		if !found {
			continue
		}

		parts := strings.Split(value, " ")
		if len(parts) < 2 {
			continue
		}
		groups = append(groups, SSRCGroup{
			Semantics: parts[0],
			Sources:   parts[1:],
		})
	}
	return groups
}

func (g *SSRCGroup) ToSDP() string {
	return "a=ssrc-group:" + g.Semantics + " " + strings.Join(g.Sources, " ")
}

// Description is the media description of a content, i.e. everything that
// makes up one "m=" section except for the transport.
type Description struct {
	Media       string
	Ssrc        string
	Payloads    []Payload
	Bandwidth   string
	Encryptions []Encryption
	RtcpMux     bool
	Ssrcs       []SSRC
	SsrcGroups  []SSRCGroup
	HdrExts     []HdrExt
}

func (d *Description) isAudioVideo() bool {
	return d.Media == "audio" || d.Media == "video"
}

// CloneWithSSRCsOnly returns a copy of the description that only keeps the
// media sources, used when signaling a "modify" of the content.
func (d *Description) CloneWithSSRCsOnly() *Description {
	return &Description{
		Media:      d.Media,
		Ssrc:       d.Ssrc,
		Ssrcs:      d.Ssrcs,
		SsrcGroups: d.SsrcGroups,
	}
}

// WithSSRCs returns a copy of the description with the media sources
// replaced.
func (d *Description) WithSSRCs(ssrcs []SSRC, ssrcGroups []SSRCGroup) *Description {
	clone := *d
	clone.Ssrcs = ssrcs
	clone.SsrcGroups = ssrcGroups
	return &clone
}
