/*
NAME
  crc.go

DESCRIPTION
  MPEG-2 CRC-32 used by PAT/PMT/SIT sections: the standard bit-reversed
  IEEE 802.3 polynomial table construction. (ESMS source-file
  fingerprints use hash/crc32's IEEE checksum, not this one.)

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package psi

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
)

var mpeg2Table = makeTable(bits.Reverse32(crc32.IEEE))

// AddCRC appends a 4-byte CRC-32 to out, computed over out[1:] (skipping
// the pointer field), and returns the extended slice.
func AddCRC(out []byte) []byte {
	t := make([]byte, len(out)+4)
	copy(t, out)
	UpdateCRC(t[1:])
	return t
}

// UpdateCRC computes the MPEG-2 CRC-32 over b[:len(b)-4] and writes it into
// the trailing 4 bytes of b.
func UpdateCRC(b []byte) {
	crc := update(0xFFFFFFFF, mpeg2Table, b[:len(b)-4])
	binary.BigEndian.PutUint32(b[len(b)-4:], crc)
}

// Checksum returns the MPEG-2 CRC-32 of b.
func Checksum(b []byte) uint32 {
	return update(0xFFFFFFFF, mpeg2Table, b)
}

func makeTable(poly uint32) *crc32.Table {
	var t crc32.Table
	for i := range t {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

func update(crc uint32, tab *crc32.Table, p []byte) uint32 {
	for _, v := range p {
		crc = tab[byte(crc>>24)^v] ^ (crc << 8)
	}
	return crc
}
