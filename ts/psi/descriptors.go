/*
NAME
  descriptors.go

DESCRIPTION
  Builders for the PMT/SIT descriptors a BDAV multiplex requires:
  registration (0x05), AVC video (0x28), AC-3 audio (0x81), DTCP (0x88)
  and partial transport stream (0x63).

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package psi

// Descriptor tags.
const (
	TagRegistration  = 0x05
	TagAVCVideo      = 0x28
	TagAC3Audio      = 0x81
	TagDTCP          = 0x88
	TagPartialTSDesc = 0x63
)

// Format identifiers carried by a registration descriptor.
var (
	FormatHDMV = [4]byte{'H', 'D', 'M', 'V'}
	FormatAC3  = [4]byte{'A', 'C', '-', '3'}
	FormatVC1  = [4]byte{'V', 'C', '-', '1'}
)

// HDMVVideoRegistration returns the registration descriptor (tag 0x05) a
// HDMV video elementary stream carries: format_identifier "HDMV" plus
// additional_identification_info [0xFF, stream_coding_type,
// (video_format<<4)|frame_rate, 0x3F].
func HDMVVideoRegistration(streamCodingType, videoFormat, frameRate byte) Descriptor {
	return Descriptor{
		Tag: TagRegistration,
		Data: []byte{
			FormatHDMV[0], FormatHDMV[1], FormatHDMV[2], FormatHDMV[3],
			0xFF, streamCodingType, videoFormat<<4 | frameRate, 0x3F,
		},
	}
}

// HDMVLPCMRegistration returns the registration descriptor an LPCM
// elementary stream carries: format_identifier "HDMV" plus
// additional_identification_info [0xFF, stream_coding_type,
// (audio_format<<4)|sample_rate, (bit_depth<<6)|0x3F].
func HDMVLPCMRegistration(streamCodingType, audioFormat, sampleRate, bitDepth byte) Descriptor {
	return Descriptor{
		Tag: TagRegistration,
		Data: []byte{
			FormatHDMV[0], FormatHDMV[1], FormatHDMV[2], FormatHDMV[3],
			0xFF, streamCodingType, audioFormat<<4 | sampleRate, bitDepth<<6 | 0x3F,
		},
	}
}

// ProgramRegistration returns the per-program "HDMV" registration
// descriptor.
func ProgramRegistration() Descriptor {
	return Descriptor{
		Tag:  TagRegistration,
		Data: []byte{FormatHDMV[0], FormatHDMV[1], FormatHDMV[2], FormatHDMV[3]},
	}
}

// AC3FamilyRegistration returns the per-element registration descriptor
// carrying format identifier "AC-3" for AC-3-family elementary streams.
func AC3FamilyRegistration() Descriptor {
	return Descriptor{
		Tag:  TagRegistration,
		Data: []byte{FormatAC3[0], FormatAC3[1], FormatAC3[2], FormatAC3[3]},
	}
}

// VC1Registration returns the per-element registration descriptor carrying
// format identifier "VC-1".
func VC1Registration() Descriptor {
	return Descriptor{
		Tag:  TagRegistration,
		Data: []byte{FormatVC1[0], FormatVC1[1], FormatVC1[2], FormatVC1[3]},
	}
}

// AVCVideoDescriptor is the tag-0x28 descriptor carried by H.264
// still-picture elementary streams.
type AVCVideoDescriptor struct {
	ProfileIDC               byte
	ConstraintFlags          byte // Packed constraint_set0..5_flag bits.
	LevelIDC                 byte
	AVCStillPresent          bool
	AVC24HourPictureFlag     bool
	FramePackingSEINotPresent bool
}

// Bytes renders the descriptor's 4-byte payload.
func (d AVCVideoDescriptor) Bytes() Descriptor {
	var b3 byte
	if d.AVCStillPresent {
		b3 |= 0x80
	}
	if d.AVC24HourPictureFlag {
		b3 |= 0x40
	}
	if d.FramePackingSEINotPresent {
		b3 |= 0x20
	}
	b3 |= 0x1F // Reserved bits, all 1.
	return Descriptor{
		Tag:  TagAVCVideo,
		Data: []byte{d.ProfileIDC, d.ConstraintFlags, d.LevelIDC, b3},
	}
}

// AC3AudioDescriptor mirrors the ETSI/ATSC fields read at parse time for
// AC-3-family audio.
type AC3AudioDescriptor struct {
	SampleRateCode byte // 3 bits.
	BSID           byte // 5 bits.
	BitRateCode    byte // 6 bits.
	SurroundMode   byte // 2 bits.
	BSModeMode     byte // 3 bits (bsmod).
	NumChannels    byte // 4 bits.
	FullSVC        bool
}

// Bytes renders the descriptor's 4-byte payload: the 3 packed fields plus
// the mandatory trailing langcod byte, fixed at 0xFF (deprecated, never
// set by a BDAV mux).
func (d AC3AudioDescriptor) Bytes() Descriptor {
	b0 := d.SampleRateCode<<5 | d.BSID
	b1 := d.BitRateCode<<2 | d.SurroundMode
	b2 := d.BSModeMode<<5 | d.NumChannels<<1 | asByte(d.FullSVC)
	return Descriptor{Tag: TagAC3Audio, Data: []byte{b0, b1, b2, 0xFF}}
}

// DTCPDescriptor carries the digital transmission content protection
// fields. DTCP is carried on the wire, never cryptographically applied.
type DTCPDescriptor struct {
	CASystemID        uint16
	RetentionMoveMode byte // 1 bit.
	RetentionState    byte // 3 bits.
	EPN               bool
	CCI               byte // 2 bits.
	DOT               bool // Digital-only token.
	AST               bool // Analogue sunset token.
	ICT               bool // Image constraint token.
	APS               byte // 2 bits, analogue protection system.
}

// Bytes renders the descriptor's 4-byte payload: a 16-bit CA_System_ID
// followed by the two packed reserved/flag/field bytes.
func (d DTCPDescriptor) Bytes() Descriptor {
	b0 := 0x80 | d.RetentionMoveMode<<6 | (d.RetentionState<<3)&0x38 | asByte(d.EPN)<<2 | d.CCI&0x3
	b1 := 0xE0 | asByte(d.DOT)<<4 | asByte(d.AST)<<3 | asByte(d.ICT)<<2 | d.APS&0x3
	return Descriptor{Tag: TagDTCP, Data: []byte{
		byte(d.CASystemID >> 8), byte(d.CASystemID),
		b0, b1,
	}}
}

// PartialTSDescriptor is the SIT's tag-0x63 partial-transport-stream
// descriptor: peak_rate = target_mux_rate/400, with the
// minimum overall smoothing rate and maximum overall smoothing buffer
// left "unspecified" per spec.
type PartialTSDescriptor struct {
	PeakRate uint32 // 22 bits.
}

const (
	unspecifiedSmoothingRate   = 0x3FFFFF
	unspecifiedSmoothingBuffer = 0x3FFF
)

// Bytes renders the descriptor's 8-byte payload.
func (d PartialTSDescriptor) Bytes() Descriptor {
	pr := d.PeakRate & 0x3FFFFF
	out := make([]byte, 8)
	out[0] = 0xC0 | byte(pr>>16)
	out[1] = byte(pr >> 8)
	out[2] = byte(pr)
	msr := uint32(unspecifiedSmoothingRate)
	out[3] = 0xC0 | byte(msr>>16)
	out[4] = byte(msr >> 8)
	out[5] = byte(msr)
	msb := uint16(unspecifiedSmoothingBuffer)
	out[6] = 0xC0 | byte(msb>>8)
	out[7] = byte(msb)
	return Descriptor{Tag: TagPartialTSDesc, Data: out}
}
