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
package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Address is the bare address of a client (user@domain), used to identify
// participants in a meeting.
type Address string

func (a Address) Domain() string {
	s := string(a)
	if idx := strings.IndexByte(s, '@'); idx != -1 {
		return s[idx+1:]
	}
	return s
}

// JSEP types supported by the SFU.
const (
	JSEPTypeOffer  = "offer"
	JSEPTypeAnswer = "answer"
)

// JSEP is a session description that is exchanged with the SFU.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (j *JSEP) String() string {
	if j == nil {
		return "<nil>"
	}
	return fmt.Sprintf("JSEP[type=%s, sdp=%s]", j.Type, j.SDP)
}

// RoomId is the id of a room on the SFU. Depending on the SFU configuration,
// ids are either numeric or strings and must be sent back in the same type
// they were received in.
type RoomId struct {
	numeric bool
	num     uint64
	str     string
}

func NumericRoomId(id uint64) RoomId {
	return RoomId{
		numeric: true,
		num:     id,
	}
}

func StringRoomId(id string) RoomId {
	return RoomId{
		str: id,
	}
}

// RoomIdFromValue converts a decoded JSON value to a RoomId, keeping the
// type information of the value.
func RoomIdFromValue(value any) (RoomId, bool) {
	switch value := value.(type) {
	case string:
		return StringRoomId(value), true
	case json.Number:
		if num, err := strconv.ParseUint(value.String(), 10, 64); err == nil {
			return NumericRoomId(num), true
		}
		return RoomId{}, false
	case float64:
		return NumericRoomId(uint64(value)), true
	case uint64:
		return NumericRoomId(value), true
	case int64:
		return NumericRoomId(uint64(value)), true
	case int:
		return NumericRoomId(uint64(value)), true
	default:
		return RoomId{}, false
	}
}

func (id RoomId) IsNumeric() bool {
	return id.numeric
}

// Value returns the id in the type it was received in.
func (id RoomId) Value() any {
	if id.numeric {
		return id.num
	}
	return id.str
}

func (id RoomId) Equal(other RoomId) bool {
	return id == other
}

func (id RoomId) String() string {
	if id.numeric {
		return strconv.FormatUint(id.num, 10)
	}
	return id.str
}

func (id RoomId) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Value())
}

func (id *RoomId) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return err
	}

	result, ok := RoomIdFromValue(value)
	if !ok {
		return fmt.Errorf("unsupported room id: %s", string(data))
	}

	*id = result
	return nil
}
