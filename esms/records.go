package esms

// SourceFile pins one source file referenced by an ESMS script: its path,
// and a CRC-32 fingerprint over its first N bytes.
type SourceFile struct {
	Path string
	CRC  uint32
	N    uint32 // Number of bytes the CRC was computed over, <= 64 KiB.
}

// ESProperties is the ES_PROPERTIES section.
type ESProperties struct {
	Kind          StreamKind
	CodingType    CodingType
	NominalBitrate uint32 // bits/sec.
	FirstPTS      uint64
	LastPTS       uint64
	OptionFlags   uint32 // Bitmask of muxing options that must match on reuse.
	Sources       []SourceFile
}

// H264FmtExt carries the H.264-specific numbers of ES_FMT_PROPERTIES.
type H264FmtExt struct {
	ProfileIDC      byte
	LevelIDC        byte // Reflects any --level override already applied.
	ConstraintFlags byte
	CPBSize         uint32
	BitrateKbps     uint32
}

// AC3FmtExt carries the AC-3-family-specific numbers of ES_FMT_PROPERTIES.
type AC3FmtExt struct {
	BSID        byte
	BitRateCode byte
	SurroundMode byte
	BSMode      byte
	NumChannels byte
	FullSVC     bool
}

// VideoFmtProperties is the video variant of ES_FMT_PROPERTIES.
type VideoFmtProperties struct {
	Width, Height uint16
	FrameRateCode byte
	H264          *H264FmtExt // nil unless CodingType == CodingAVC.
}

// AudioFmtProperties is the audio variant of ES_FMT_PROPERTIES.
type AudioFmtProperties struct {
	SampleRate uint32
	BitDepth   byte
	Channels   byte
	AC3        *AC3FmtExt // non-nil for AC-3-family coding types.
}

// DataBlock is one entry of the ES_DATA_BLOCKS section: a raw byte block
// that may be spliced into a PES payload by an AddDataBlock command.
type DataBlock []byte

// maxDataBlocks bounds the ES_DATA_BLOCKS section.
const maxDataBlocks = 255

// H264Extension carries the H.264-specific PES extension fields.
type H264Extension struct {
	CPBRemovalTime uint32
	DPBOutputTime  uint32
}

// PESDescriptor describes one PES packet to be generated at mux time.
type PESDescriptor struct {
	Kind      StreamKind // Video or Audio; HDMV descriptors use KindHDMV.
	Extension bool       // Video "extension-frame" flag.

	HasPTS64 bool // false: 32-bit PTS range, true: full 33-bit/64-bit storage.
	PTS      uint64

	HasDTS   bool
	DTS64    bool
	DTS      uint64

	Size16 bool // Payload size stored in 16 bits rather than 32.

	HasH264Ext bool
	H264Ext    H264Extension

	PayloadSize uint32
	Commands    []Command
}

// maxCommandsPerDescriptor bounds a PESDescriptor's command list to 32.
const maxCommandsPerDescriptor = 32
