/*
NAME
  buffer.go

DESCRIPTION
  Package stdbuf implements the BDAV-STD buffer model: a tree of leaky-
  bucket nodes (transport buffer -> multiplex buffer -> elementary
  buffer for video, transport buffer -> buffer for audio/HDMV, a shared
  small buffer for system PIDs) that the scheduler consults before
  admitting every transport packet.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package stdbuf

import (
	"github.com/pkg/errors"

	"github.com/nautilusav/bdmux/clock"
)

// ErrOverflow is returned by Check/Update when admitting bytes would
// exceed a node's capacity.
var ErrOverflow = errors.New("stdbuf: buffer overflow")

// ErrUnderflow is returned by DrainDue when a frame's removal time has
// passed and the elementary buffer holds fewer bits than the frame.
var ErrUnderflow = errors.New("stdbuf: buffer underflow")

// Node is one leaky bucket in a branch: capacity in bits, a leak rate in
// bits/sec (0 means "drains only on explicit frame removal", used for
// elementary buffers whose outflow is frame-paced rather than
// continuous), current fill level, and the STC of the last update.
type Node struct {
	Capacity  uint64 // bits; 0 means unbounded.
	LeakRate  uint64 // bits/sec; 0 means no continuous leak.
	Fill      uint64 // bits.
	UpdatedAt clock.Stc

	inTransit []frame
}

// frame is one in-flight access unit queued in an elementary buffer: it
// arrives as `Bits` added to Fill and is scheduled to leave (decoded /
// rendered) at RemovalTime.
type frame struct {
	Bits        uint64
	RemovalTime clock.Stc
}

func newNode(capacityBits uint64, leakBitsPerSec uint64) *Node {
	return &Node{Capacity: capacityBits, LeakRate: leakBitsPerSec}
}

// leak drains the node continuously up to now, for nodes with a
// non-zero LeakRate (transport and multiplex buffers).
func (n *Node) leak(now clock.Stc) {
	if n.LeakRate == 0 || now <= n.UpdatedAt {
		n.UpdatedAt = now
		return
	}
	elapsedTicks := uint64(now - n.UpdatedAt)
	drained := elapsedTicks * n.LeakRate / clock.MasterHz
	if drained >= n.Fill {
		n.Fill = 0
	} else {
		n.Fill -= drained
	}
	n.UpdatedAt = now
}

// admit applies the node's continuous leak up to now, then checks that
// addBits more bits fit within capacity, without committing the fill.
func (n *Node) admit(now clock.Stc, addBits uint64) error {
	n.leak(now)
	if n.Capacity == 0 {
		return nil
	}
	if n.Fill+addBits > n.Capacity {
		return ErrOverflow
	}
	return nil
}

// Branch is one elementary stream's chain of buffer nodes, from the
// transport buffer (TB) down to the terminal elementary buffer (EB for
// video via a multiplex buffer MB, or B directly for audio/HDMV).
type Branch struct {
	TB *Node
	MB *Node // nil for audio/HDMV branches (no multiplex buffer stage).
	EB *Node
}

// NewVideoBranch builds a TB->MB->EB chain using the BDAV-STD capacity
// and leak-rate defaults for a video elementary stream.
func NewVideoBranch(tbCapacity, mbCapacity, ebCapacity uint64, tbLeakRate uint64) *Branch {
	return &Branch{
		TB: newNode(tbCapacity, tbLeakRate),
		MB: newNode(mbCapacity, 0),
		EB: newNode(ebCapacity, 0),
	}
}

// NewSimpleBranch builds a TB->B chain for audio, HDMV PG/IG, or a
// system PID's shared small buffer.
func NewSimpleBranch(tbCapacity, bCapacity uint64, tbLeakRate uint64) *Branch {
	return &Branch{
		TB: newNode(tbCapacity, tbLeakRate),
		EB: newNode(bCapacity, 0),
	}
}

// Check reports whether admitting packetBits more bits at the transport
// buffer at time now would overflow the transport buffer, or a full
// multiplex buffer when the branch has one; the elementary buffer is not
// checked. It commits no bits, but it does apply the checked nodes'
// leak up to now.
func (b *Branch) Check(now clock.Stc, packetBits uint64) error {
	if err := b.TB.admit(now, packetBits); err != nil {
		return err
	}
	if b.MB != nil {
		if err := b.MB.admit(now, 0); err != nil {
			return err
		}
	}
	return nil
}

// Update commits packetBits into the transport buffer at time now. The
// caller is expected to have called Check first within the same
// scheduler iteration.
func (b *Branch) Update(now clock.Stc, packetBits uint64) error {
	if err := b.TB.admit(now, packetBits); err != nil {
		return err
	}
	b.TB.Fill += packetBits
	return nil
}

// AddFrameToESBranch moves removalBits of decoded-frame data from the
// transport/multiplex stage into the elementary buffer, to be removed
// (decoded) at removalTime; it is the caller's responsibility to have
// transferred the corresponding bits out of TB/MB beforehand via
// Update's bookkeeping.
func (b *Branch) AddFrameToESBranch(now clock.Stc, removalBits uint64, removalTime clock.Stc) error {
	b.EB.leak(now)
	if b.EB.Capacity != 0 && b.EB.Fill+removalBits > b.EB.Capacity {
		return ErrOverflow
	}
	b.EB.Fill += removalBits
	b.EB.inTransit = append(b.EB.inTransit, frame{Bits: removalBits, RemovalTime: removalTime})
	return nil
}

// AddPESFrame is the convenience wrapper the scheduler calls per PES
// packet: it takes payloadBits out of the multiplex buffer (when the
// branch has one; the transport buffer drains only through its leak) and
// queues them for removal from the EB at removalTime.
func (b *Branch) AddPESFrame(now clock.Stc, payloadBits uint64, removalTime clock.Stc) error {
	if b.MB != nil {
		b.MB.leak(now)
		if b.MB.Fill >= payloadBits {
			b.MB.Fill -= payloadBits
		} else {
			b.MB.Fill = 0
		}
	}
	return b.AddFrameToESBranch(now, payloadBits, removalTime)
}

// DrainDue removes frames from the elementary buffer whose removal time
// is <= now, reporting ErrUnderflow when a due frame needs more bits
// than the elementary buffer currently holds.
func (b *Branch) DrainDue(now clock.Stc) error {
	kept := b.EB.inTransit[:0]
	for _, f := range b.EB.inTransit {
		if f.RemovalTime <= now {
			if b.EB.Fill < f.Bits {
				return ErrUnderflow
			}
			b.EB.Fill -= f.Bits
			continue
		}
		kept = append(kept, f)
	}
	b.EB.inTransit = kept
	return nil
}
