/*
NAME
  hexatree.go

DESCRIPTION
  Package palette quantizes an RGBA image down to an HDMV palette (2 to
  256 colors) with a hexatree: each pixel descends up to 8 levels,
  branching on one bit of each of its four channels per level, and
  leaves merge back upward (deepest, least-significant-difference
  branch first) whenever the tree grows past the target color count.

  Nodes live in an arena (a growable slice) with a free list recycling
  released indices, rather than as individually heap-allocated structs
  linked by pointers: the tree's shape changes constantly as leaves
  split and branches merge, and an arena avoids handing that churn to
  the garbage collector one node at a time.

AUTHOR
  bdmux contributors

LICENSE
  MIT
*/

package palette

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

const maxDepth = 8

// branchIndexes maps a tree depth to the bit position within each
// channel byte that depth branches on, walking from the most to the
// least significant bit.
var branchIndexes = [maxDepth]uint{7, 6, 5, 4, 3, 2, 1, 0}

// ReductionPreference selects which of two equally-deep branches is
// merged first when a tie must be broken.
type ReductionPreference int

const (
	// ReducePreserveDetail merges the branch representing the fewest
	// pixels first, keeping visually significant flats distinct longer.
	ReducePreserveDetail ReductionPreference = iota
	// ReduceMinimizeError merges the branch representing the most
	// pixels first, minimizing the total color error introduced.
	ReduceMinimizeError
)

func pack(c color.RGBA) uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

func unpack(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

// colorAccum tracks a leaf's running channel sums (for the eventual
// mean color) alongside rep, the pixel count, and rgba, the raw value
// of the first pixel inserted here. rgba is never updated by merging
// further pixels in; it only changes when a branch collapses into a
// new leaf, at which point it becomes that leaf's mean.
type colorAccum struct {
	r, g, b, a, rep uint64
	rgba            uint32
}

func newColorAccum(rgba uint32, rep uint64) colorAccum {
	c := unpack(rgba)
	return colorAccum{
		r:    uint64(c.R) * rep,
		g:    uint64(c.G) * rep,
		b:    uint64(c.B) * rep,
		a:    uint64(c.A) * rep,
		rep:  rep,
		rgba: rgba,
	}
}

func (d *colorAccum) add(o colorAccum) {
	d.r += o.r
	d.g += o.g
	d.b += o.b
	d.a += o.a
	d.rep += o.rep
}

func (d colorAccum) mean() uint32 {
	if d.rep == 0 {
		return 0
	}
	return pack(color.RGBA{
		R: uint8(d.r / d.rep),
		G: uint8(d.g / d.rep),
		B: uint8(d.b / d.rep),
		A: uint8(d.a / d.rep),
	})
}

// node is either a leaf (leafDist == 0, data holds the accumulated
// color) or an internal node (leafDist is one more than its deepest
// child's, children indexes its up-to-16 branches; 0 means absent).
type node struct {
	leafDist int
	data     colorAccum
	children [16]int32
}

// Quantizer builds a hexatree incrementally, one pixel at a time, and
// can be reduced back down to a target color count at any point (a
// quantizer reduces one scanline's worth of image at a time in
// practice, keeping the tree's peak size bounded).
type Quantizer struct {
	pref ReductionPreference

	arena []node
	free  []int32
	root  int32
	size  int
}

// NewQuantizer builds an empty hexatree.
func NewQuantizer(pref ReductionPreference) *Quantizer {
	return &Quantizer{pref: pref, arena: make([]node, 1)} // index 0 is the nil sentinel.
}

// Colors reports the tree's current leaf count.
func (q *Quantizer) Colors() int { return q.size }

func (q *Quantizer) alloc(n node) int32 {
	if len(q.free) > 0 {
		idx := q.free[len(q.free)-1]
		q.free = q.free[:len(q.free)-1]
		q.arena[idx] = n
		return idx
	}
	q.arena = append(q.arena, n)
	return int32(len(q.arena) - 1)
}

func (q *Quantizer) release(idx int32) {
	q.free = append(q.free, idx)
}

func getBranch(depth int, rgba uint32) int {
	idx := branchIndexes[depth]
	return int(((rgba >> (21 + idx)) & 0x8) |
		((rgba >> (14 + idx)) & 0x4) |
		((rgba >> (7 + idx)) & 0x2) |
		((rgba >> idx) & 0x1))
}

// Add inserts one pixel into the tree.
func (q *Quantizer) Add(c color.RGBA) error {
	idx, _, err := q.insert(q.root, pack(c), 0)
	if err != nil {
		return err
	}
	q.root = idx
	return nil
}

// insert returns the (possibly new) index of the subtree rooted at idx
// after inserting rgba, and how many levels of leaf distance that
// subtree now carries.
func (q *Quantizer) insert(idx int32, rgba uint32, depth int) (int32, int, error) {
	if idx == 0 {
		q.size++
		return q.alloc(node{data: newColorAccum(rgba, 1)}), 0, nil
	}

	n := q.arena[idx]
	if n.leafDist == 0 {
		if n.data.rgba == rgba || depth >= maxDepth {
			n.data.add(newColorAccum(rgba, 1))
			q.arena[idx] = n
			return idx, 0, nil
		}

		// Split: the existing leaf becomes a child of a fresh internal
		// node, placed by the mean color it represents so far.
		branch := getBranch(depth, n.data.mean())
		parent := node{leafDist: 1, data: colorAccum{rep: n.data.rep}}
		parent.children[branch] = idx
		idx = q.alloc(parent)
		n = q.arena[idx]
	}

	branch := getBranch(depth, rgba)
	childIdx, dist, err := q.insert(n.children[branch], rgba, depth+1)
	if err != nil {
		return 0, 0, err
	}
	n.children[branch] = childIdx
	if dist+1 > n.leafDist {
		n.leafDist = dist + 1
	}
	n.data.rep++
	q.arena[idx] = n
	return idx, dist + 1, nil
}

// ReduceTo merges branches, deepest first, until the tree holds at most
// target leaves.
func (q *Quantizer) ReduceTo(target int) error {
	for q.size > target {
		if q.root == 0 || q.arena[q.root].leafDist == 0 {
			return errors.New("palette: tree exhausted before reaching target color count")
		}
		newRoot, err := q.reduce(q.root)
		if err != nil {
			return err
		}
		q.root = newRoot
	}
	return nil
}

func (q *Quantizer) reduce(idx int32) (int32, error) {
	if q.arena[idx].leafDist == 1 {
		if err := q.mergeChildren(idx); err != nil {
			return 0, err
		}
		return idx, nil
	}

	branch := q.reducibleBranch(idx)
	if branch < 0 {
		return 0, errors.New("palette: internal node has no reducible branch")
	}
	childIdx, err := q.reduce(q.arena[idx].children[branch])
	if err != nil {
		return 0, err
	}

	n := q.arena[idx]
	n.children[branch] = childIdx
	n.leafDist = 0
	nChildren := 0
	for _, c := range n.children {
		if c == 0 {
			continue
		}
		nChildren++
		if d := q.arena[c].leafDist; d > n.leafDist {
			n.leafDist = d
		}
	}
	n.leafDist++
	q.arena[idx] = n

	if nChildren == 1 {
		only := n.children[branch]
		q.release(idx)
		return only, nil
	}
	return idx, nil
}

// reducibleBranch picks the child to recurse the reduction into: the
// deepest subtree first, breaking ties per q.pref.
func (q *Quantizer) reducibleBranch(idx int32) int {
	n := q.arena[idx]
	selected, selLeafDist, selRep := -1, 0, uint64(0)

	for i, c := range n.children {
		if c == 0 {
			continue
		}
		child := q.arena[c]
		if child.leafDist == 0 {
			continue
		}

		update := false
		switch {
		case selLeafDist < child.leafDist:
			update = true
		case selLeafDist == child.leafDist:
			if q.pref == ReduceMinimizeError {
				update = selRep < child.data.rep
			} else {
				update = selRep >= child.data.rep
			}
		}
		if update {
			selLeafDist, selRep, selected = child.leafDist, child.data.rep, i
		}
	}
	return selected
}

// mergeChildren collapses idx's (all-leaf) children into idx itself,
// which becomes a leaf holding their combined color.
func (q *Quantizer) mergeChildren(idx int32) error {
	n := q.arena[idx]
	var merged colorAccum
	count := 0

	for i, c := range n.children {
		if c == 0 {
			continue
		}
		child := q.arena[c]
		if child.leafDist != 0 {
			return errors.New("palette: merge target has a non-leaf child")
		}
		merged.add(child.data)
		count++
		q.release(c)
		n.children[i] = 0
	}
	if count < 2 {
		return errors.New("palette: branch merge requires at least two leaves")
	}

	merged.rgba = merged.mean()
	n.leafDist = 0
	n.data = merged
	q.arena[idx] = n
	q.size -= count - 1
	return nil
}

// Palette returns the tree's leaves as their mean colors, in tree
// traversal order.
func (q *Quantizer) Palette() []color.RGBA {
	out := make([]color.RGBA, 0, q.size)
	q.collect(q.root, &out)
	return out
}

func (q *Quantizer) collect(idx int32, out *[]color.RGBA) {
	if idx == 0 {
		return
	}
	n := q.arena[idx]
	if n.leafDist == 0 {
		*out = append(*out, unpack(n.data.mean()))
		return
	}
	for _, c := range n.children {
		q.collect(c, out)
	}
}

// Quantize reduces img to at most targetColors distinct colors,
// reducing the tree after every scanline so it never grows far past
// the target between reductions.
func Quantize(img image.Image, targetColors int, pref ReductionPreference) ([]color.RGBA, error) {
	if targetColors < 2 || targetColors > 256 {
		return nil, errors.Errorf("palette: target color count %d out of [2,256] range", targetColors)
	}

	q := NewQuantizer(pref)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bch, a := img.At(x, y).RGBA()
			c := color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bch >> 8), A: uint8(a >> 8)}
			if err := q.Add(c); err != nil {
				return nil, err
			}
		}
		if err := q.ReduceTo(targetColors); err != nil {
			return nil, err
		}
	}
	return q.Palette(), nil
}
