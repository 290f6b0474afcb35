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
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type ProtocolType string

const (
	ProtocolTypeUdp ProtocolType = "udp"
	ProtocolTypeTcp ProtocolType = "tcp"
)

type CandidateType string

const (
	CandidateTypeHost  CandidateType = "host"
	CandidateTypePrflx CandidateType = "prflx"
	CandidateTypeRelay CandidateType = "relay"
	CandidateTypeSrflx CandidateType = "srflx"
)

// Candidate is a single ICE candidate of a transport.
type Candidate struct {
	Component  string
	Foundation string
	Generation int
	Id         string
	IP         string
	Network    int
	Port       int
	Priority   uint32
	Protocol   ProtocolType
	RelAddr    string
	RelPort    int
	Type       CandidateType
	TcpType    string
}

// ParseCandidate parses a candidate from its SDP form, with or without a
// leading "a=" prefix. Returns nil if the line can not be parsed.
func ParseCandidate(line string) *Candidate {
	line = strings.TrimPrefix(line, "a=")
	line, found := strings.CutPrefix(line, "candidate:")
	if !found {
		return nil
	}

	parts := strings.Split(line, " ")
	if len(parts) < 8 || parts[6] != "typ" {
		return nil
	}

	priority, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return nil
	}
	port, err := strconv.Atoi(parts[5])
	if err != nil {
		return nil
	}

	candidate := &Candidate{
		Component:  parts[1],
		Foundation: parts[0],
		Id:         uuid.NewString(),
		IP:         parts[4],
		Port:       port,
		Priority:   uint32(priority),
		Protocol:   ProtocolType(strings.ToLower(parts[2])),
		Type:       CandidateType(parts[7]),
	}

	for i := 8; len(parts) >= i+2; i += 2 {
		switch parts[i] {
		case "tcptype":
			candidate.TcpType = parts[i+1]
		case "generation":
			if generation, err := strconv.Atoi(parts[i+1]); err == nil {
				candidate.Generation = generation
			}
		case "raddr":
			candidate.RelAddr = parts[i+1]
		case "rport":
			if relPort, err := strconv.Atoi(parts[i+1]); err == nil {
				candidate.RelPort = relPort
			}
		default:
			// Unknown single-token attribute, realign.
			i--
		}
	}

	return candidate
}

// ToSDP returns the SDP form of the candidate, without the "a=" prefix.
func (c *Candidate) ToSDP() string {
	candidateType := c.Type
	if candidateType == "" {
		candidateType = CandidateTypeHost
	}

	var sb strings.Builder
	sb.WriteString("candidate:")
	sb.WriteString(c.Foundation)
	sb.WriteString(" ")
	sb.WriteString(c.Component)
	sb.WriteString(" ")
	sb.WriteString(strings.ToLower(string(c.Protocol)))
	sb.WriteString(" ")
	sb.WriteString(strconv.FormatUint(uint64(c.Priority), 10))
	sb.WriteString(" ")
	sb.WriteString(c.IP)
	sb.WriteString(" ")
	sb.WriteString(strconv.Itoa(c.Port))
	sb.WriteString(" typ ")
	sb.WriteString(string(candidateType))

	if candidateType != CandidateTypeHost && c.RelAddr != "" && c.RelPort != 0 {
		sb.WriteString(" raddr ")
		sb.WriteString(c.RelAddr)
		sb.WriteString(" rport ")
		sb.WriteString(strconv.Itoa(c.RelPort))
	}

	if c.Protocol == ProtocolTypeTcp && c.TcpType != "" {
		sb.WriteString(" tcptype ")
		sb.WriteString(c.TcpType)
	}

	sb.WriteString(" generation ")
	sb.WriteString(strconv.Itoa(c.Generation))
	return sb.String()
}

// ToAttributes returns the attribute form of the candidate, as carried on a
// Jingle "candidate" element. Optional attributes are omitted when unset.
func (c *Candidate) ToAttributes() map[string]string {
	attrs := map[string]string{
		"component":  c.Component,
		"foundation": c.Foundation,
		"generation": strconv.Itoa(c.Generation),
		"id":         c.Id,
		"ip":         c.IP,
		"network":    strconv.Itoa(c.Network),
		"port":       strconv.Itoa(c.Port),
		"priority":   strconv.FormatUint(uint64(c.Priority), 10),
		"protocol":   string(c.Protocol),
	}
	if c.RelAddr != "" {
		attrs["rel-addr"] = c.RelAddr
	}
	if c.RelPort != 0 {
		attrs["rel-port"] = strconv.Itoa(c.RelPort)
	}
	if c.Type != "" {
		attrs["type"] = string(c.Type)
	}
	if c.TcpType != "" {
		attrs["tcptype"] = c.TcpType
	}
	return attrs
}

// CandidateFromAttributes parses the attribute form of a candidate. A
// candidate without an "id" attribute is assigned a fresh one.
func CandidateFromAttributes(attrs map[string]string) (*Candidate, error) {
	for _, name := range []string{"component", "foundation", "generation", "ip", "network", "port", "priority", "protocol"} {
		if attrs[name] == "" {
			return nil, fmt.Errorf("missing candidate attribute %q", name)
		}
	}

	generation, err := strconv.Atoi(attrs["generation"])
	if err != nil {
		return nil, fmt.Errorf("invalid candidate generation: %w", err)
	}
	network, err := strconv.Atoi(attrs["network"])
	if err != nil {
		return nil, fmt.Errorf("invalid candidate network: %w", err)
	}
	port, err := strconv.Atoi(attrs["port"])
	if err != nil {
		return nil, fmt.Errorf("invalid candidate port: %w", err)
	}
	priority, err := strconv.ParseUint(attrs["priority"], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid candidate priority: %w", err)
	}

	id := attrs["id"]
	if id == "" {
		id = uuid.NewString()
	}

	candidate := &Candidate{
		Component:  attrs["component"],
		Foundation: attrs["foundation"],
		Generation: generation,
		Id:         id,
		IP:         attrs["ip"],
		Network:    network,
		Port:       port,
		Priority:   uint32(priority),
		Protocol:   ProtocolType(attrs["protocol"]),
		RelAddr:    attrs["rel-addr"],
		Type:       CandidateType(attrs["type"]),
		TcpType:    attrs["tcptype"],
	}
	if relPort := attrs["rel-port"]; relPort != "" {
		port, err := strconv.Atoi(relPort)
		if err != nil {
			return nil, fmt.Errorf("invalid candidate rel-port: %w", err)
		}
		candidate.RelPort = port
	}
	return candidate, nil
}
