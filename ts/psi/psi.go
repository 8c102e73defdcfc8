/*
NAME
  psi.go

DESCRIPTION
  Package psi builds BDAV's program specific information sections: PAT,
  PMT and SIT, supporting the multi-program/multi-stream/multi-
  descriptor tables a BDAV mux run needs (rather than the
  single-program/single-stream case a live encoder's PSI typically
  emits).

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

// Package psi builds BDAV program specific information sections.
package psi

// Table IDs.
const (
	TableIDPat = 0x00
	TableIDPmt = 0x02
	TableIDSit = 0x7F
)

// TableIDExtension for the SIT, fixed to 0xFFFF by the table's own definition.
const sitTableIDExt = 0xFFFF

// Section is a single PSI section: PAT, PMT or SIT.
type Section struct {
	TableID     byte
	TableIDExt  uint16
	Version     byte
	CurrentNext bool
	SectionNum  byte
	LastSection byte
	Data        SpecificData
}

// SpecificData is implemented by PAT, PMT and SIT.
type SpecificData interface {
	bytes() []byte
}

// Program associates a program number with its PMT's PID.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PAT is the program association table's specific data.
type PAT struct {
	Programs []Program
}

func (p *PAT) bytes() []byte {
	out := make([]byte, 0, 4*len(p.Programs))
	for _, prog := range p.Programs {
		out = append(out,
			byte(prog.Number>>8), byte(prog.Number),
			0xE0|byte(prog.PMTPID>>8), byte(prog.PMTPID),
		)
	}
	return out
}

// Stream describes one elementary stream entry in a PMT.
type Stream struct {
	StreamType  byte
	PID         uint16
	Descriptors []Descriptor
}

// PMT is the program map table's specific data.
type PMT struct {
	PCRPID      uint16
	Descriptors []Descriptor // Program-level descriptors (e.g. DTCP).
	Streams     []Stream
}

func (p *PMT) bytes() []byte {
	progInfo := descriptorsBytes(p.Descriptors)
	out := make([]byte, 4, 4+len(progInfo))
	out[0] = 0xE0 | byte(p.PCRPID>>8)
	out[1] = byte(p.PCRPID)
	out[2] = 0xF0 | byte(len(progInfo)>>8)
	out[3] = byte(len(progInfo))
	out = append(out, progInfo...)

	for _, s := range p.Streams {
		info := descriptorsBytes(s.Descriptors)
		out = append(out,
			s.StreamType,
			0xE0|byte(s.PID>>8), byte(s.PID),
			0xF0|byte(len(info)>>8), byte(len(info)),
		)
		out = append(out, info...)
	}
	return out
}

// SIT is the selection information table's specific data.
type SIT struct {
	Descriptors []Descriptor // Transport-stream-level descriptors.
}

func (s *SIT) bytes() []byte {
	info := descriptorsBytes(s.Descriptors)
	out := make([]byte, 2, 2+len(info))
	out[0] = 0xF0 | byte(len(info)>>8)
	out[1] = byte(len(info))
	out = append(out, info...)
	// SIT carries a running_status loop after the descriptor loop; BDAV
	// muxers emit it empty (loop_length = 0).
	out = append(out, 0xF0, 0x00)
	return out
}

// Descriptor is a single tag/length/data descriptor, as carried by PMT
// program/stream descriptor loops and the SIT's transport descriptor loop.
type Descriptor struct {
	Tag  byte
	Data []byte
}

func (d Descriptor) bytes() []byte {
	out := make([]byte, 2, 2+len(d.Data))
	out[0] = d.Tag
	out[1] = byte(len(d.Data))
	return append(out, d.Data...)
}

func descriptorsBytes(ds []Descriptor) []byte {
	var out []byte
	for _, d := range ds {
		out = append(out, d.bytes()...)
	}
	return out
}

// NewPAT returns a Section wrapping a single-section PAT with the given
// programs.
func NewPAT(programs ...Program) *Section {
	return &Section{
		TableID:     TableIDPat,
		TableIDExt:  1,
		CurrentNext: true,
		Data:        &PAT{Programs: programs},
	}
}

// NewPMT returns a Section wrapping a PMT for the given PCR PID, program
// descriptors and elementary streams.
func NewPMT(pcrPID uint16, progDescs []Descriptor, streams ...Stream) *Section {
	return &Section{
		TableID:     TableIDPmt,
		TableIDExt:  1,
		CurrentNext: true,
		Data: &PMT{
			PCRPID:      pcrPID,
			Descriptors: progDescs,
			Streams:     streams,
		},
	}
}

// NewSIT returns a Section wrapping a SIT with the given transport-level
// descriptors.
func NewSIT(descs ...Descriptor) *Section {
	return &Section{
		TableID:     TableIDSit,
		TableIDExt:  sitTableIDExt,
		CurrentNext: true,
		Data:        &SIT{Descriptors: descs},
	}
}

// Bytes renders the section as it appears on the wire: pointer field,
// table header, syntax section and specific data, followed by a CRC-32.
func (s *Section) Bytes() []byte {
	data := s.Data.bytes()
	// syntax-section-and-beyond length: table_id_ext(2) + flags(1) +
	// section_num(1) + last_section(1) + data + crc(4).
	sectionLen := 5 + len(data) + 4

	out := make([]byte, 0, 3+sectionLen)
	out = append(out, 0x00) // Pointer field; no pointer filler bytes supported.
	out = append(out, s.TableID)
	out = append(out, 0x80|0x30|byte(sectionLen>>8&0x0F), byte(sectionLen))
	out = append(out,
		byte(s.TableIDExt>>8), byte(s.TableIDExt),
		0xC0|(s.Version<<1)&0x3E|asByte(s.CurrentNext),
		s.SectionNum,
		s.LastSection,
	)
	out = append(out, data...)
	return AddCRC(out)
}

func asByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
