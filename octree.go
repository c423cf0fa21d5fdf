package byzanz

import (
	"container/heap"

	"github.com/pkg/errors"
)

const nilNode = int32(-1)

// octreeNode lives in the Octree arena. Color sums are carried only by
// leaves; an internal node's sums are zero. count aggregates every pixel that
// passed through the node.
type octreeNode struct {
	children [8]int32
	parent   int32
	level    int
	red      uint64
	green    uint64
	blue     uint64
	count    uint64
	leaf     bool
	defined  bool // leaf carries a single exact color
	r, g, b  uint8
	id       int
}

// Octree builds a color-frequency octree from 24-bit RGB pixels and reduces
// it to a palette of bounded size. Nodes are arena-allocated and addressed by
// index; the root is node 0 and is created internal so it can never be split
// as a leaf.
type Octree struct {
	nodes     []octreeNode
	numLeaves int
	finalized bool
}

// NewOctree returns an empty octree ready for ingest.
func NewOctree() *Octree {
	t := &Octree{nodes: make([]octreeNode, 0, 4096)}
	t.alloc(nilNode, 0)
	return t
}

func (t *Octree) alloc(parent int32, level int) int32 {
	id := int32(len(t.nodes))
	t.nodes = append(t.nodes, octreeNode{
		children: [8]int32{nilNode, nilNode, nilNode, nilNode, nilNode, nilNode, nilNode, nilNode},
		parent:   parent,
		level:    level,
	})
	return id
}

// childIndex derives the child slot for a color at the given level from the
// R, G and B bits at position 7-level.
func childIndex(r, g, b uint8, level int) int {
	bit := uint(7 - level)
	return int((r>>bit&1)<<2 | (g>>bit&1)<<1 | b>>bit&1)
}

// NumLeaves returns the number of leaves currently reachable.
func (t *Octree) NumLeaves() int {
	return t.numLeaves
}

// AddColor ingests one pixel.
func (t *Octree) AddColor(r, g, b uint8) error {
	if t.finalized {
		return errors.Wrap(ErrInvalidState, "octree already finalized")
	}
	cur := int32(0)
	for {
		n := &t.nodes[cur]
		n.count++
		if n.leaf {
			if n.defined && (n.r != r || n.g != g || n.b != b) {
				// Split: push the accumulated color one level down and keep
				// descending for the new one.
				child := t.alloc(cur, n.level+1)
				n = &t.nodes[cur] // alloc may have moved the arena
				c := &t.nodes[child]
				c.count = n.count - 1
				c.red, c.green, c.blue = n.red, n.green, n.blue
				c.leaf, c.defined = true, true
				c.r, c.g, c.b = n.r, n.g, n.b
				n.red, n.green, n.blue = 0, 0, 0
				n.leaf, n.defined = false, false
				n.children[childIndex(c.r, c.g, c.b, n.level)] = child
			} else {
				n.red += uint64(r)
				n.green += uint64(g)
				n.blue += uint64(b)
				return nil
			}
		}
		idx := childIndex(r, g, b, n.level)
		if next := n.children[idx]; next != nilNode {
			cur = next
			continue
		}
		child := t.alloc(cur, n.level+1)
		n = &t.nodes[cur]
		c := &t.nodes[child]
		c.count = 1
		c.red, c.green, c.blue = uint64(r), uint64(g), uint64(b)
		c.leaf, c.defined = true, true
		c.r, c.g, c.b = r, g, b
		n.children[idx] = child
		t.numLeaves++
		return nil
	}
}

// IngestImage feeds every pixel of img into the octree.
func (t *Octree) IngestImage(img *Image) error {
	if t.finalized {
		return errors.Wrap(ErrInvalidState, "octree already finalized")
	}
	for y := 0; y < img.Rect.H; y++ {
		for x := 0; x < img.Rect.W; x++ {
			r, g, b := img.RGBAt(x, y)
			if err := t.AddColor(r, g, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// reduceHeap orders reducible node ids ascending by aggregated count, ties
// broken by insertion order.
type reduceHeap struct {
	tree *Octree
	ids  []int32
	seq  map[int32]int
	next int
}

func (h *reduceHeap) Len() int { return len(h.ids) }
func (h *reduceHeap) Less(i, j int) bool {
	a, b := h.ids[i], h.ids[j]
	if ca, cb := h.tree.nodes[a].count, h.tree.nodes[b].count; ca != cb {
		return ca < cb
	}
	return h.seq[a] < h.seq[b]
}
func (h *reduceHeap) Swap(i, j int) { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }
func (h *reduceHeap) Push(x any) {
	id := x.(int32)
	if _, dup := h.seq[id]; dup {
		return
	}
	h.seq[id] = h.next
	h.next++
	h.ids = append(h.ids, id)
}
func (h *reduceHeap) Pop() any {
	id := h.ids[len(h.ids)-1]
	h.ids = h.ids[:len(h.ids)-1]
	return id
}

// reducible reports whether a node may be collapsed: internal, with every
// present child a leaf.
func (t *Octree) reducible(id int32) bool {
	n := &t.nodes[id]
	if n.leaf {
		return false
	}
	has := false
	for _, c := range n.children {
		if c == nilNode {
			continue
		}
		if !t.nodes[c].leaf {
			return false
		}
		has = true
	}
	return has
}

// Reduce collapses minimum-count reducible nodes until at most target leaves
// remain. The root is collapsed last, and only if the target demands it.
func (t *Octree) Reduce(target int) error {
	if t.finalized {
		return errors.Wrap(ErrInvalidState, "octree already finalized")
	}
	if target < 1 {
		return errors.Wrapf(ErrInvalidArgument, "reduce target %d", target)
	}
	h := &reduceHeap{tree: t, seq: make(map[int32]int)}
	for id := range t.nodes {
		if t.reducible(int32(id)) {
			heap.Push(h, int32(id))
		}
	}
	for t.numLeaves > target && h.Len() > 0 {
		id := heap.Pop(h).(int32)
		if !t.reducible(id) {
			continue // went stale when a sibling subtree collapsed
		}
		t.collapse(id)
		if p := t.nodes[id].parent; p != nilNode && t.reducible(p) {
			heap.Push(h, p)
		}
	}
	return nil
}

// collapse folds every leaf child of id into id, which becomes a leaf with an
// undefined color until finalize averages its sums.
func (t *Octree) collapse(id int32) {
	n := &t.nodes[id]
	folded := 0
	for i, c := range n.children {
		if c == nilNode {
			continue
		}
		child := &t.nodes[c]
		n.red += child.red
		n.green += child.green
		n.blue += child.blue
		n.children[i] = nilNode
		folded++
	}
	n.leaf = true
	n.defined = false
	t.numLeaves -= folded - 1
}

// Finalize assigns palette ids 0..NumLeaves-1 in depth-first child-index
// order, fixes each leaf's representative color, and returns the palette.
// The octree is read-only afterwards.
func (t *Octree) Finalize(alpha bool) *Palette {
	p := &Palette{Alpha: alpha, tree: t}
	t.finalizeNode(0, p)
	t.finalized = true
	return p
}

func (t *Octree) finalizeNode(id int32, p *Palette) {
	n := &t.nodes[id]
	if n.leaf {
		if !n.defined {
			n.r = uint8((n.red + n.count/2) / n.count)
			n.g = uint8((n.green + n.count/2) / n.count)
			n.b = uint8((n.blue + n.count/2) / n.count)
			n.defined = true
		}
		n.id = len(p.Colors)
		p.Colors = append(p.Colors, [3]uint8{n.r, n.g, n.b})
		return
	}
	for _, c := range n.children {
		if c != nilNode {
			t.finalizeNode(c, p)
		}
	}
}

// lookupOrder lists, per missing child slot, the sibling slots to try in
// bit-distance order (distance-1 neighbors first, then 2, then 3).
var lookupOrder = [8][7]int{
	{2, 1, 4, 3, 6, 5, 7},
	{3, 0, 5, 2, 7, 4, 6},
	{0, 3, 6, 1, 4, 7, 5},
	{1, 2, 7, 6, 5, 0, 4},
	{6, 5, 0, 7, 2, 1, 3},
	{7, 4, 1, 6, 3, 0, 2},
	{4, 7, 2, 5, 0, 3, 1},
	{5, 6, 3, 4, 1, 2, 0},
}

func (t *Octree) lookup(r, g, b uint8) (int, uint8, uint8, uint8) {
	cur := int32(0)
	for {
		n := &t.nodes[cur]
		if n.leaf {
			return n.id, n.r, n.g, n.b
		}
		idx := childIndex(r, g, b, n.level)
		next := n.children[idx]
		if next == nilNode {
			for _, alt := range lookupOrder[idx] {
				if c := n.children[alt]; c != nilNode {
					next = c
					break
				}
			}
		}
		cur = next
	}
}

// Palette is an ordered sequence of RGB colors plus an optional reserved
// transparent index.
type Palette struct {
	Colors [][3]uint8
	Alpha  bool
	tree   *Octree
}

// NumColors returns the number of opaque palette entries.
func (p *Palette) NumColors() int {
	return len(p.Colors)
}

// TransparentIndex returns the index reserved as transparent. Only
// meaningful when Alpha is set; lookups never produce it.
func (p *Palette) TransparentIndex() uint8 {
	return uint8(len(p.Colors))
}

// Lookup maps an RGB triplet to its palette index and representative color.
func (p *Palette) Lookup(r, g, b uint8) (int, uint8, uint8, uint8) {
	return p.tree.lookup(r, g, b)
}

// Quantize builds a palette of at most maxColors entries (one reserved for
// transparency when alpha is set) from every pixel of img.
func Quantize(img *Image, maxColors int, alpha bool) (*Palette, error) {
	if maxColors < 2 || maxColors > 256 {
		return nil, errors.Wrapf(ErrInvalidArgument, "max colors %d", maxColors)
	}
	t := NewOctree()
	if err := t.IngestImage(img); err != nil {
		return nil, err
	}
	target := maxColors
	if alpha {
		target--
	}
	if err := t.Reduce(target); err != nil {
		return nil, err
	}
	return t.Finalize(alpha), nil
}
