/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package stream is the viewport-driven streaming scheduler (spec §4.5): a
// WebSocket protocol, a priority work queue ordered coarse-first, and a
// worker pool that races tile fetches against viewport staleness.
package stream

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/uuid"
)

// Message tags, one byte, little-endian payloads (spec §4.5 table).
const (
	TagUpdate      byte = 0
	TagOpen        byte = 1
	TagClose       byte = 2
	TagClearCache  byte = 3
	TagProgress    byte = 4
	TagRequestTile byte = 5
)

var ErrMalformedFrame = errors.New("stream: malformed frame")

// UpdateMsg is Update(0): slot + 20-byte viewport.
type UpdateMsg struct {
	Slot     byte
	X, Y     float32
	Width    uint32
	Height   uint32
	Zoom     float32
}

func DecodeUpdate(body []byte) (UpdateMsg, error) {
	if len(body) != 1+20 {
		return UpdateMsg{}, ErrMalformedFrame
	}
	return UpdateMsg{
		Slot:   body[0],
		X:      decodeF32(body[1:5]),
		Y:      decodeF32(body[5:9]),
		Width:  binary.LittleEndian.Uint32(body[9:13]),
		Height: binary.LittleEndian.Uint32(body[13:17]),
		Zoom:   decodeF32(body[17:21]),
	}, nil
}

// OpenMsg is Open(1): slot + 16-byte UUID, sent both directions (client
// request, server echo carries the same slot+id plus an ImageDesc payload
// appended by EncodeOpenResponse).
type OpenMsg struct {
	Slot byte
	ID   uuid.UUID
}

func DecodeOpen(body []byte) (OpenMsg, error) {
	if len(body) != 1+16 {
		return OpenMsg{}, ErrMalformedFrame
	}
	var id uuid.UUID
	copy(id[:], body[1:17])
	return OpenMsg{Slot: body[0], ID: id}, nil
}

func EncodeOpenResponse(slot byte, id uuid.UUID, desc ImageDesc) []byte {
	out := make([]byte, 0, 1+1+16+4+4+4)
	out = append(out, TagOpen, slot)
	out = append(out, id[:]...)
	out = appendU32(out, desc.Width)
	out = appendU32(out, desc.Height)
	out = appendU32(out, desc.LevelCount)
	return out
}

// CloseMsg / ClearCacheMsg are both just slot + tag.
type SlotMsg struct{ Slot byte }

func DecodeSlotMsg(body []byte) (SlotMsg, error) {
	if len(body) != 1 {
		return SlotMsg{}, ErrMalformedFrame
	}
	return SlotMsg{Slot: body[0]}, nil
}

// RequestTileMsg is RequestTile(5): slot + x,y,level (u32 each).
type RequestTileMsg struct {
	Slot          byte
	X, Y, Level   uint32
}

func DecodeRequestTile(body []byte) (RequestTileMsg, error) {
	if len(body) != 1+12 {
		return RequestTileMsg{}, ErrMalformedFrame
	}
	return RequestTileMsg{
		Slot:  body[0],
		X:     binary.LittleEndian.Uint32(body[1:5]),
		Y:     binary.LittleEndian.Uint32(body[5:9]),
		Level: binary.LittleEndian.Uint32(body[9:13]),
	}, nil
}

func EncodeProgress(slot byte, stepsDone, total int32) []byte {
	out := make([]byte, 0, 1+1+8)
	out = append(out, TagProgress, slot)
	out = appendI32(out, stepsDone)
	out = appendI32(out, total)
	return out
}

// EncodeTileData builds the untagged tile-data frame: 13-byte header
// (slot, x, y, level) followed by the raw tile body. It carries no
// message-type tag — the client distinguishes it by length and context.
func EncodeTileData(slot byte, x, y, level uint32, body []byte) []byte {
	out := make([]byte, 0, 13+len(body))
	out = append(out, slot)
	out = appendU32(out, x)
	out = appendU32(out, y)
	out = appendU32(out, level)
	out = append(out, body...)
	return out
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendI32(b []byte, v int32) []byte {
	return appendU32(b, uint32(v))
}

func decodeF32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
