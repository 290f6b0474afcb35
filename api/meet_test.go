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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomIdJSON(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	require := require.New(t)

	numeric := NumericRoomId(1234)
	data, err := json.Marshal(numeric)
	require.NoError(err)
	assert.Equal("1234", string(data))

	var decoded RoomId
	require.NoError(json.Unmarshal(data, &decoded))
	assert.True(decoded.IsNumeric())
	assert.True(numeric.Equal(decoded))

	str := StringRoomId("1234")
	data, err = json.Marshal(str)
	require.NoError(err)
	assert.Equal("\"1234\"", string(data))

	require.NoError(json.Unmarshal(data, &decoded))
	assert.False(decoded.IsNumeric())
	assert.True(str.Equal(decoded))

	// Numeric and string ids never compare equal, even if they render the
	// same.
	assert.False(numeric.Equal(str))
	assert.Equal(numeric.String(), str.String())
}

func TestRoomIdFromValue(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	id, ok := RoomIdFromValue(json.Number("42"))
	assert.True(ok)
	assert.True(id.IsNumeric())
	assert.EqualValues(uint64(42), id.Value())

	id, ok = RoomIdFromValue("the-room")
	assert.True(ok)
	assert.False(id.IsNumeric())
	assert.EqualValues("the-room", id.Value())

	_, ok = RoomIdFromValue(true)
	assert.False(ok)
}

func TestAddressDomain(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.Equal("example.com", Address("user@example.com").Domain())
	assert.Equal("example.com", Address("example.com").Domain())
}
