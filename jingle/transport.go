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

// Setup is the DTLS connection setup role ("a=setup").
type Setup string

const (
	SetupActpass Setup = "actpass"
	SetupActive  Setup = "active"
	SetupPassive Setup = "passive"
)

func parseSetup(lines []string) Setup {
	for _, line := range lines {
		if value, found := strings.CutPrefix(line, "a=setup:"); found {
			return Setup(value)
		}
	}
	return ""
}

// Fingerprint is the DTLS certificate fingerprint and setup role of a
// transport.
type Fingerprint struct {
	Hash  string
	Value string
	Setup Setup
}

func parseFingerprintData(lines []string) (hash, value string, found bool) {
	for _, line := range lines {
		if data, ok := strings.CutPrefix(line, "a=fingerprint:"); ok {
			if hash, value, ok = strings.Cut(data, " "); ok {
				return hash, value, true
			}
		}
	}
	return "", "", false
}

// Transport holds the ICE credentials, candidates and DTLS fingerprint of a
// content.
type Transport struct {
	Ufrag       string
	Pwd         string
	Candidates  []Candidate
	Fingerprint *Fingerprint
}

// Encryption is an SDES crypto attribute of a media description
// ("a=crypto").
type Encryption struct {
	Tag           string
	CryptoSuite   string
	KeyParams     string
	SessionParams string
}

func parseEncryption(line string) *Encryption {
	value, found := strings.CutPrefix(line, "a=crypto:")
	if !found {
		return nil
	}

	parts := strings.SplitN(value, " ", 4)
	if len(parts) < 3 {
		return nil
	}

	encryption := &Encryption{
		Tag:         parts[0],
		CryptoSuite: parts[1],
		KeyParams:   parts[2],
	}
	if len(parts) > 3 {
		encryption.SessionParams = parts[3]
	}
	return encryption
}

func (e *Encryption) ToSDP() string {
	line := "a=crypto:" + e.Tag + " " + e.CryptoSuite + " " + e.KeyParams
	if e.SessionParams != "" {
		line += " " + e.SessionParams
	}
	return line
}
