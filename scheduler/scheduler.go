/*
NAME
  scheduler.go

DESCRIPTION
  Package scheduler implements the BDAV multiplex scheduler: a dual
  min-heap over system tables (PAT/PMT/SIT/PCR/NULL) and elementary
  streams, interleaved by next-emission timestamp with priority as the
  tie-break, honouring per-stream pacing, PCR insertion, CBR padding
  and the buffer model's admission veto.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package scheduler

import (
	"container/heap"
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/nautilusav/bdmux/clock"
	"github.com/nautilusav/bdmux/codec"
	"github.com/nautilusav/bdmux/esms"
	"github.com/nautilusav/bdmux/logging"
	"github.com/nautilusav/bdmux/muxmetrics"
	"github.com/nautilusav/bdmux/stdbuf"
	"github.com/nautilusav/bdmux/ts"
	"github.com/nautilusav/bdmux/ts/pes"
)

// System-table priorities; lower sorts first among equal timestamps.
const (
	PriorityPCR    = 1
	PrioritySIT    = 2
	PriorityPMT    = 3
	PriorityPAT    = 4
	PriorityNormal = 0 // Elementary streams.
)

// PCRDelay is the nominal interval between PCR-bearing packets (50ms),
// expressed in 27 MHz ticks.
const PCRDelay = clock.MasterHz / 20

// Stream is one elementary stream's mux-time state: its PID, the ESMS
// reader it pulls PES descriptors from, the buffer-model branch it
// feeds, and its per-PES cursor.
type Stream struct {
	PID        uint16
	Kind       esms.StreamKind
	CodingType esms.CodingType
	Reader     *esms.Reader
	Branch     *stdbuf.Branch
	CarriesPCR bool // true for the one ES nominated to carry PCR in-band.

	// Prepare fills in codec-specific PES-header extension fields (H.264
	// CPB removal / DPB output time) on a descriptor just before it is
	// assembled into wire bytes. NopPreparePESHeader for codecs with
	// nothing to add.
	Prepare codec.PreparePESHeader

	source *fileSourceReader

	streamID    byte
	streamIDExt byte
	hasIDExt    bool

	nextEmission clock.Stc
	tsDuration   clock.Stc

	cur        *esms.PESDescriptor
	curOffset  int
	curBytes   []byte
	cc         byte
	exhausted  bool
	pendingPCR bool
}

// NewStream builds a Stream for the given PID and stream IDs, opening
// the source files referenced by reader's ESProperties so CmdCopyPayload
// commands can be resolved as descriptors are pulled.
func NewStream(pid uint16, streamID, streamIDExt byte, hasIDExt bool, reader *esms.Reader, branch *stdbuf.Branch, prepare codec.PreparePESHeader) (*Stream, error) {
	src, err := newFileSourceReader(reader.Properties.Sources)
	if err != nil {
		return nil, err
	}
	if prepare == nil {
		prepare = codec.NopPreparePESHeader
	}
	return &Stream{
		PID:         pid,
		Kind:        reader.Properties.Kind,
		CodingType:  reader.Properties.CodingType,
		Reader:      reader,
		Branch:      branch,
		Prepare:     prepare,
		source:      src,
		streamID:    streamID,
		streamIDExt: streamIDExt,
		hasIDExt:    hasIDExt,
	}, nil
}

// Close releases the stream's open source files.
func (st *Stream) Close() error {
	if st.source == nil {
		return nil
	}
	return st.source.Close()
}

// systemTable is one PAT/PMT/SIT/PCR/NULL pseudo-stream in the system
// heap.
type systemTable struct {
	priority     int
	pid          uint16
	sectionBytes []byte // nil for the PCR/NULL pseudo-streams.
	isPCR        bool
	isNull       bool

	nextEmission clock.Stc
	tsDuration   clock.Stc
	cycled       bool
	cc           byte
}

// Config carries everything the scheduler needs beyond the stream list:
// target mux rate, CBR/VBR selection, whether to carry PCR in a
// nominated ES's adaptation field, and the starting PCR.
type Config struct {
	MuxRate        uint64 // bits/sec.
	CBR            bool
	PCRPID         *uint16 // non-nil selects in-band PCR on this PID.
	StartPCR       clock.Stc
	NoExtraHeader  bool
	BufferModel    bool
	SystemBranch   *stdbuf.Branch // shared buffer for PAT/PMT/SIT/PCR/NULL.
	Log            logging.Logger
	Metrics        muxmetrics.Recorder // nil disables metrics recording.
}

// Scheduler drives the mux loop: the two heaps, the STC cursor, the PID
// allocator's assignments, and the output writer.
type Scheduler struct {
	cfg Config

	stc        clock.Stc
	byteDur    clock.Stc // 27MHz ticks per byte at target rate.
	tpDur      clock.Stc // 27MHz ticks per transport packet.

	sysHeap *systemHeap
	esHeap  *esHeap

	pcrTable *systemTable

	// limiter paces real wall-clock writes to MuxRate for CBR muxes, so a
	// downstream consumer reading the output as it's produced (a pipe or
	// socket) sees real-time cadence rather than a burst; it plays no
	// part in the virtual STC bookkeeping above.
	limiter *rate.Limiter

	w   io.Writer
	buf []byte

	PacketsWritten uint64
	BytesWritten   uint64
	Overflows      uint64
}

// New builds a Scheduler ready to run once its system tables and
// elementary streams are registered with AddSystemTable/AddStream.
func New(cfg Config, w io.Writer) *Scheduler {
	byteDur := clock.Stc(clock.MasterHz * 8 / cfg.MuxRate)
	s := &Scheduler{
		cfg:     cfg,
		stc:     cfg.StartPCR,
		byteDur: byteDur,
		tpDur:   byteDur * ts.PacketSize,
		sysHeap: &systemHeap{},
		esHeap:  &esHeap{},
		w:       w,
	}
	heap.Init(s.sysHeap)
	heap.Init(s.esHeap)
	if cfg.CBR {
		bytesPerSec := rate.Limit(cfg.MuxRate / 8)
		s.limiter = rate.NewLimiter(bytesPerSec, int(ts.PacketSize+4))
	}
	return s
}

// AddSystemTable registers a PAT/PMT/SIT section or the PCR/NULL
// pseudo-stream, to be emitted at the given cadence.
func (s *Scheduler) AddSystemTable(pid uint16, priority int, sectionBytes []byte, isPCR, isNull bool, tsDuration clock.Stc) {
	t := &systemTable{
		priority:     priority,
		pid:          pid,
		sectionBytes: sectionBytes,
		isPCR:        isPCR,
		isNull:       isNull,
		nextEmission: s.stc,
		tsDuration:   tsDuration,
	}
	if isPCR {
		s.pcrTable = t
	}
	heap.Push(s.sysHeap, t)
}

// AddStream registers an elementary stream, computing its initial
// emission timestamp and per-PES pacing from its first descriptor.
func (s *Scheduler) AddStream(st *Stream) error {
	d, err := st.Reader.Next()
	if err != nil {
		return errors.Wrap(err, "scheduler: stream has no PES descriptors")
	}
	st.cur = d
	st.curBytes, err = buildPESBytes(st, d)
	if err != nil {
		return err
	}
	st.nextEmission = s.stc + clock.SubToMaster(descriptorTimestamp(d))
	st.tsDuration = clock.Stc(len(st.curBytes)) * s.byteDur / clock.Stc(ts.PacketSize-4)
	s.queueFrame(st, d)
	heap.Push(s.esHeap, st)
	return nil
}

// queueFrame hands a freshly built descriptor's payload to the stream's
// elementary buffer, to be drained at its decode/removal time.
func (s *Scheduler) queueFrame(st *Stream, d *esms.PESDescriptor) {
	if !s.cfg.BufferModel || st.Branch == nil {
		return
	}
	removalTime := s.stc + clock.SubToMaster(descriptorTimestamp(d))
	st.Branch.AddPESFrame(s.stc, uint64(d.PayloadSize)*8, removalTime)
}

// descriptorTimestamp returns the descriptor's DTS if present, else its PTS, the
// timestamp the scheduler paces emission against.
func descriptorTimestamp(d *esms.PESDescriptor) uint64 {
	if d.HasDTS {
		return d.DTS
	}
	return d.PTS
}

// buildPESBytes applies the descriptor's build commands against its
// source files and wraps the result in a PES packet.
func buildPESBytes(st *Stream, d *esms.PESDescriptor) ([]byte, error) {
	st.Prepare(d)

	payload, err := esms.Apply(int(d.PayloadSize), d.Commands, st.Reader.Blocks, st.source)
	if err != nil {
		return nil, errors.Wrap(err, "scheduler: applying build commands")
	}
	p := &pes.Packet{
		StreamID:       st.streamID,
		StreamIDExt:    st.streamIDExt,
		HasStreamIDExt: st.hasIDExt,
		PDI:            pes.PDIPTS,
		PTS:            d.PTS,
		Data:           payload,
	}
	if d.HasDTS {
		p.PDI = pes.PDIPTSDTS
		p.DTS = d.DTS
	}
	if d.HasH264Ext {
		p.HasH264Ext = true
		p.H264Ext = pes.H264Extension{
			CPBRemovalTime: d.H264Ext.CPBRemovalTime,
			DPBOutputTime:  d.H264Ext.DPBOutputTime,
		}
	}
	return p.Bytes(nil), nil
}

// Run drives the mux loop until the ES heap is empty, then pads to the
// next Aligned Unit (32 packets) boundary.
func (s *Scheduler) Run() error {
	for s.esHeap.Len() > 0 {
		if err := s.muxNextPacket(); err != nil {
			return err
		}
	}
	return s.padToAlignedUnit()
}

// muxNextPacket implements one iteration of mux_next_packet: try the
// system heap, then the ES heap, writing exactly one transport packet
// (or rescheduling and retrying) per call.
func (s *Scheduler) muxNextPacket() error {
	if s.sysHeap.Len() > 0 && (*s.sysHeap)[0].nextEmission <= s.stc {
		return s.tryEmitSystem()
	}
	if s.esHeap.Len() > 0 && (*s.esHeap)[0].nextEmission <= s.stc {
		return s.tryEmitES()
	}
	return s.tryEmitIdle()
}

// tryEmitIdle runs when nothing is due yet at the current STC: a CBR mux
// fills the gap with a NULL packet so the output rate stays constant; a
// VBR mux simply jumps the STC forward to the next due emission.
func (s *Scheduler) tryEmitIdle() error {
	if s.cfg.CBR {
		pkt := &ts.Packet{PID: ts.PIDNull, AFC: 0x1, HasExtraHeader: !s.cfg.NoExtraHeader}
		return s.writePacket(pkt)
	}

	next := clock.Stc(0)
	have := false
	if s.sysHeap.Len() > 0 {
		next, have = (*s.sysHeap)[0].nextEmission, true
	}
	if s.esHeap.Len() > 0 && (!have || (*s.esHeap)[0].nextEmission < next) {
		next, have = (*s.esHeap)[0].nextEmission, true
	}
	if have && next > s.stc {
		s.stc = next
	}
	return nil
}

func (s *Scheduler) tryEmitSystem() error {
	t := heap.Pop(s.sysHeap).(*systemTable)

	if t.isPCR && s.cfg.PCRPID != nil {
		for _, st := range *s.esHeap {
			if st.PID == *s.cfg.PCRPID {
				st.pendingPCR = true
			}
		}
		t.nextEmission += PCRDelay
		heap.Push(s.sysHeap, t)
		return nil
	}

	if s.cfg.BufferModel && s.cfg.SystemBranch != nil {
		if err := s.cfg.SystemBranch.Check(s.stc, ts.PacketSize*8); err == stdbuf.ErrOverflow {
			t.nextEmission += t.tsDuration
			heap.Push(s.sysHeap, t)
			s.Overflows++
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.Overflow()
			}
			return nil
		} else if err != nil {
			return err
		}
	}

	pkt := &ts.Packet{PID: t.pid, CC: t.cc, AFC: 0x1, HasExtraHeader: !s.cfg.NoExtraHeader}
	if t.isPCR {
		pkt.PCRF = true
		pkt.AFC = 0x3
		pkt.PCR = ts.PackPCR(clock.FromStc(s.stc))
	}
	if !t.isNull && t.sectionBytes != nil {
		pkt.PUSI = true
		pkt.FillPayload(t.sectionBytes)
	}
	if err := s.writePacket(pkt); err != nil {
		return err
	}
	t.cc = (t.cc + 1) & 0xF

	if s.cfg.BufferModel && s.cfg.SystemBranch != nil {
		if err := s.cfg.SystemBranch.Update(s.stc, ts.PacketSize*8); err != nil {
			return err
		}
	}

	if t.cycled {
		t.nextEmission += t.tsDuration
	} else {
		t.cycled = true
	}
	heap.Push(s.sysHeap, t)
	return nil
}

func (s *Scheduler) tryEmitES() error {
	if s.esHeap.Len() == 0 {
		return nil
	}
	st := heap.Pop(s.esHeap).(*Stream)

	if s.cfg.BufferModel && st.Branch != nil {
		if err := st.Branch.Check(s.stc, ts.PacketSize*8); err == stdbuf.ErrOverflow {
			st.nextEmission += st.tsDuration
			heap.Push(s.esHeap, st)
			s.Overflows++
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.Overflow()
			}
			return nil
		} else if err != nil {
			return err
		}
	}

	pkt := &ts.Packet{PID: st.PID, CC: st.cc, AFC: 0x1, HasExtraHeader: !s.cfg.NoExtraHeader}
	if st.CarriesPCR && st.pendingPCR {
		pkt.PCRF = true
		pkt.AFC = 0x3
		pkt.PCR = ts.PackPCR(clock.FromStc(s.stc))
		st.pendingPCR = false
	}
	if st.curOffset == 0 {
		pkt.PUSI = true
	}
	n := pkt.FillPayload(st.curBytes[st.curOffset:])
	if err := s.writePacket(pkt); err != nil {
		return err
	}
	st.cc = (st.cc + 1) & 0xF

	if s.cfg.BufferModel && st.Branch != nil {
		if err := st.Branch.Update(s.stc, ts.PacketSize*8); err != nil {
			return err
		}
		if err := st.Branch.DrainDue(s.stc); err != nil {
			return err
		}
	}

	st.curOffset += n
	if st.curOffset >= len(st.curBytes) {
		if err := s.advanceStream(st); err != nil {
			if err == io.EOF {
				return nil // Stream exhausted; not re-pushed onto the heap.
			}
			return err
		}
	}
	st.nextEmission += st.tsDuration
	heap.Push(s.esHeap, st)
	return nil
}

// advanceStream pulls the next PES descriptor for st and recomputes its
// pacing parameters, returning io.EOF once the stream's script FIFO is
// exhausted.
func (s *Scheduler) advanceStream(st *Stream) error {
	d, err := st.Reader.Next()
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return errors.Wrap(err, "scheduler: reading next PES descriptor")
	}
	st.cur = d
	st.curOffset = 0
	st.curBytes, err = buildPESBytes(st, d)
	if err != nil {
		return err
	}
	st.tsDuration = clock.Stc(len(st.curBytes)) * s.byteDur / clock.Stc(ts.PacketSize-4)
	s.queueFrame(st, d)
	return nil
}

func (s *Scheduler) writePacket(pkt *ts.Packet) error {
	s.buf = pkt.Bytes(s.buf)
	if s.limiter != nil {
		if err := s.limiter.WaitN(context.Background(), len(s.buf)); err != nil {
			return errors.Wrap(err, "scheduler: pacing CBR output")
		}
	}
	if _, err := s.w.Write(s.buf); err != nil {
		return errors.Wrap(err, "scheduler: writing transport packet")
	}
	s.PacketsWritten++
	s.BytesWritten += uint64(len(s.buf))
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.PacketWritten(pkt.PID, len(s.buf))
	}
	s.stc += s.tpDur
	return nil
}

// padToAlignedUnit writes NULL packets until the total packet count is a
// multiple of 32 (one Aligned Unit), the BDAV end-of-file convention.
func (s *Scheduler) padToAlignedUnit() error {
	const alignedUnit = 32
	for s.PacketsWritten%alignedUnit != 0 {
		pkt := &ts.Packet{PID: ts.PIDNull, AFC: 0x1, HasExtraHeader: !s.cfg.NoExtraHeader}
		if err := s.writePacket(pkt); err != nil {
			return err
		}
	}
	return nil
}
