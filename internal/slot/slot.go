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

// Package slot assigns tile keys to one of NumSlots hash buckets.
package slot

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// NumSlots is the fixed size of the routing slot space.
const NumSlots = 16384

// Of hashes a tile key the same way the reference implementation does:
// CRC16-XMODEM over the 16 raw id bytes followed by little-endian x, y, level.
func Of(id uuid.UUID, x, y, level uint32) uint32 {
	buf := make([]byte, 16+4+4+4)
	copy(buf[0:16], id[:])
	binary.LittleEndian.PutUint32(buf[16:20], x)
	binary.LittleEndian.PutUint32(buf[20:24], y)
	binary.LittleEndian.PutUint32(buf[24:28], level)
	return uint32(crc16(buf)) % NumSlots
}

// crc16 is the bit-by-bit CRC16-XMODEM (polynomial 0x1021, initial 0x0000)
// used throughout the reference implementation's shard routing.
func crc16(data []byte) uint16 {
	var crc uint16 = 0x0000
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
