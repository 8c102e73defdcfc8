package ts

import "github.com/pkg/errors"

// StreamClass identifies which reserved PID band a stream belongs to.
type StreamClass int

// Stream classes, one per reserved PID band.
const (
	ClassPrimaryVideo StreamClass = iota
	ClassSecondaryVideo
	ClassPrimaryAudio
	ClassSecondaryAudio
	ClassPG
	ClassIG
	ClassText
)

// Errors returned by the PID allocator.
var (
	ErrPIDExhausted   = errors.New("ts: no PIDs remain in the requested band")
	ErrPIDTaken       = errors.New("ts: requested PID already allocated")
	ErrUnsupportedCls = errors.New("ts: unsupported stream class")
)

type band struct {
	base uint16
	cap  int
}

var bands = map[StreamClass]band{
	ClassPrimaryVideo:   {PIDPrimaryVideo, 1},
	ClassSecondaryVideo: {PIDSecondaryVid, MaxSecondaryVideo},
	ClassPrimaryAudio:   {PIDPrimaryAudio, MaxAudio},
	ClassSecondaryAudio: {PIDSecondaryAud, MaxAudio},
	ClassPG:             {PIDPG, MaxPG},
	ClassIG:             {PIDIG, MaxIG},
	ClassText:           {PIDText, MaxText},
}

// Allocator hands out PIDs within the reserved bands, honouring
// a caller's preferred PID when given, and otherwise the next available PID
// in the right band. It is owned exclusively by the scheduler context.
type Allocator struct {
	used map[uint16]bool
}

// NewAllocator returns an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{used: map[uint16]bool{
		PIDPat: true, PIDSit: true, PIDPmt: true, PIDPcr: true, PIDNull: true,
	}}
}

// Allocate returns a PID for class, preferring prefer if it is nonzero,
// in-band and free, and otherwise the next free PID in the class's band.
func (a *Allocator) Allocate(class StreamClass, prefer uint16) (uint16, error) {
	b, ok := bands[class]
	if !ok {
		return 0, ErrUnsupportedCls
	}

	if prefer != 0 {
		if prefer < b.base || prefer >= b.base+uint16(b.cap) {
			return 0, errors.Errorf("ts: preferred PID 0x%04x out of band for class", prefer)
		}
		if a.used[prefer] {
			return 0, ErrPIDTaken
		}
		a.used[prefer] = true
		return prefer, nil
	}

	for i := 0; i < b.cap; i++ {
		pid := b.base + uint16(i)
		if !a.used[pid] {
			a.used[pid] = true
			return pid, nil
		}
	}
	return 0, ErrPIDExhausted
}

// Release frees a previously allocated PID.
func (a *Allocator) Release(pid uint16) {
	delete(a.used, pid)
}

// InBand reports whether pid lies in the reserved band for class.
func InBand(class StreamClass, pid uint16) bool {
	b, ok := bands[class]
	if !ok {
		return false
	}
	return pid >= b.base && pid < b.base+uint16(b.cap)
}
