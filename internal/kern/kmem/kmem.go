// Package kmem implements the kernel's binary-buddy allocator for
// sub-page objects, backed by pmem. It is a direct port of kmem.rs's
// BuddyMeta/BuddyLeaf/Kmem, translated from raw pointers into offsets into
// a pmem-backed arena.
package kmem

import (
	"fmt"
	"math/bits"

	"github.com/kvik-os/rv39kern/internal/kern/pmem"
	"github.com/kvik-os/rv39kern/internal/log"
)

const (
	// PagesPow is the power-of-two count of data-arena pages Kmem claims
	// from Pmem at bootstrap: 2^PagesPow pages, plus one page for metadata.
	PagesPow = 6

	// MinSizePow is the smallest allocation Kmem will ever hand out: 2^7 = 128 bytes.
	MinSizePow = 7

	// MaxAllocation is the largest block size in the tree: 2^(PagesPow+12) = 256 KiB.
	MaxAllocation = PagesPow + 12

	// treeHeight is H = MAX_ALLOCATION - MIN_SIZE_POW.
	treeHeight = MaxAllocation - MinSizePow

	// treeSize is the node count of the complete binary tree, 2^(H+1)-1.
	treeSize = 1<<(treeHeight+1) - 1

	// allocatedLevel is the sentinel leaf level meaning "allocated" (0b111111).
	allocatedLevel = 0b111111
)

// buddyLeaf packs one tree node into a single byte: bit 0 is the
// parent/leaf flag, bits 2-7 are the level. setLevel must overwrite, not
// OR into, the level bits: an early draft that did `self.0 |= level << 2`
// left stale bits from a prior allocation behind after coalescing, so the
// correct form is `self.0 = (level << 2) | (self.0 & 0b11)`.
type buddyLeaf byte

func (b buddyLeaf) isParent() bool    { return b&1 != 0 }
func (b buddyLeaf) isLeaf() bool      { return !b.isParent() }
func (b *buddyLeaf) setParent()       { *b |= 1 }
func (b *buddyLeaf) setLeafFlag()     { *b &^= 1 }
func (b buddyLeaf) level() uint8      { return uint8(b >> 2) }

// setLevel overwrites the level bits, preserving the parent/leaf flag.
func (b *buddyLeaf) setLevel(level uint8) {
	*b = buddyLeaf(level<<2) | (*b & 0b11)
}

func (b buddyLeaf) String() string {
	return fmt.Sprintf("PARENT?: %t LEVEL: %d", b.isParent(), b.level())
}

// tree index arithmetic, ported from kmem.rs's BuddyMeta.
func parentOf(i int) int { return (i - 1) / 2 }
func leftOf(i int) int   { return 2*i + 1 }
func rightOf(i int) int  { return 2*i + 2 }

func buddyOf(i int) int {
	if i%2 == 1 {
		return i + 1
	}

	return i - 1
}

func indexLevel(i int) uint8 {
	return uint8(bits.Len(uint(i+1)) - 1)
}

// Kmem is the kernel's buddy allocator. It bootstraps 1+2^PagesPow pages
// from Pmem: one page of metadata tree nodes, and 2^PagesPow pages of data
// arena.
type Kmem struct {
	pm        *pmem.Pmem
	metaPage  pmem.IPage
	dataPage  pmem.IPage
	dataStart uint64
	nodes     []buddyLeaf

	log *log.Logger
}

// Init bootstraps a Kmem instance from pm, claiming 1+2^PagesPow contiguous
// pages exactly as kmem.rs::Kmem::init.
func Init(pm *pmem.Pmem, logger *log.Logger) *Kmem {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	metaAndData := pm.Zalloc(1 + (1 << PagesPow))
	if !metaAndData.Available() {
		panic("kmem: out of physical memory during bootstrap")
	}

	dataStart := metaAndData.Addr + pmem.PageSize

	k := &Kmem{
		pm:        pm,
		metaPage:  metaAndData,
		dataStart: dataStart,
		nodes:     make([]buddyLeaf, treeSize),
		log:       logger,
	}

	k.nodes[0].setLeafFlag()
	k.nodes[0].setLevel(0)

	logger.Debug("kmem: init", log.String("data_start", fmt.Sprintf("%#x", dataStart)),
		log.String("arena_pages", fmt.Sprintf("%d", 1<<PagesPow)))

	return k
}

// addrToIndex descends from the root comparing against the midpoint of each
// subtree, exactly as BuddyMeta::addr_to_index.
func (k *Kmem) addrToIndex(addr uint64) int {
	if addr < k.dataStart {
		panic("kmem: address below data arena")
	}

	if addr&((1<<MinSizePow)-1) != 0 {
		panic("kmem: address not aligned to minimum block granularity")
	}

	var (
		current     = 0
		currentAddr = k.dataStart
		level       = 0
	)

	for {
		node := k.nodes[current]
		if node.isLeaf() {
			if node.level() != allocatedLevel {
				panic("kmem: addr_to_index: reached a free leaf")
			}

			break
		}

		nodeSize := uint64(1) << (MaxAllocation - level - 1)
		if addr >= currentAddr+nodeSize {
			currentAddr += nodeSize
			current = rightOf(current)
		} else {
			current = leftOf(current)
		}

		level++
	}

	return current
}

// indexToAddr is the inverse of addrToIndex: from index recover level and
// offset, exactly as BuddyMeta::index_to_addr.
func (k *Kmem) indexToAddr(index int) uint64 {
	level := indexLevel(index)
	pow := MaxAllocation - int(level)
	mask := (1 << level) - 1
	offset := uint64(1<<pow) * uint64((index+1)&mask)

	return k.dataStart + offset
}

// levelsRecurse walks up from begin to the root, re-summarizing each
// ancestor's level as min(left.level, right.level) and marking it a parent.
func (k *Kmem) levelsRecurse(begin int) {
	current := begin
	for current != 0 {
		current = parentOf(current)

		leftLevel := k.nodes[leftOf(current)].level()
		rightLevel := k.nodes[rightOf(current)].level()

		if leftLevel < rightLevel {
			k.nodes[current].setLevel(leftLevel)
		} else {
			k.nodes[current].setLevel(rightLevel)
		}

		k.nodes[current].setParent()
	}
}

// Kmalloc allocates a block of size 2^pow bytes, pow >= MinSizePow.
func (k *Kmem) Kmalloc(pow int) uint64 {
	if pow < MinSizePow {
		panic("kmem: kmalloc: pow below MinSizePow")
	}

	var (
		current = 0
		level   = 0
	)

	for {
		node := k.nodes[current]

		switch {
		case node.isLeaf():
			if node.level() == allocatedLevel {
				panic("kmem: out of kernel memory: leaf already allocated")
			}

			if MaxAllocation-(level+1) >= pow {
				k.nodes[leftOf(current)].setLevel(uint8(level + 1))
				k.nodes[rightOf(current)].setLevel(uint8(level + 1))
				current = leftOf(current)
				level++

				continue
			} else if MaxAllocation-level == pow {
				goto chosen
			}

			panic("kmem: out of kernel memory")

		default: // interior/parent node
			maxPow := MaxAllocation - int(node.level())
			if maxPow < pow {
				panic("kmem: out of kernel memory")
			}

			left := k.nodes[leftOf(current)]
			right := k.nodes[rightOf(current)]
			leftSize := saturatingSub(MaxAllocation, int(left.level()))
			rightSize := saturatingSub(MaxAllocation, int(right.level()))

			switch {
			case leftSize >= pow && rightSize >= pow:
				if rightSize < leftSize {
					current = rightOf(current)
				} else {
					current = leftOf(current)
				}
			case leftSize >= pow:
				current = leftOf(current)
			case rightSize >= pow:
				current = rightOf(current)
			default:
				panic("kmem: malformed buddy metadata")
			}

			level++
		}
	}

chosen:
	k.nodes[current].setLevel(allocatedLevel)
	k.levelsRecurse(current)

	addr := k.indexToAddr(current)

	return addr
}

func saturatingSub(a, b int) int {
	if a < b {
		return 0
	}

	return a - b
}

// Kzalloc allocates and zeroes a block of size 2^pow bytes.
func (k *Kmem) Kzalloc(pow int) uint64 {
	addr := k.Kmalloc(pow)
	k.pm.ZeroRange(addr, 1<<uint(pow))

	return addr
}

// Kfree releases the block at addr, coalescing with its buddy chain up to
// the root, matching kmem.rs::Kmem::kfree.
func (k *Kmem) Kfree(addr uint64) {
	index := k.addrToIndex(addr)

	if !k.nodes[index].isLeaf() {
		panic("kmem: kfree: address does not name a leaf")
	}

	buddyIndex := buddyOf(index)

	for k.nodes[buddyIndex].isLeaf() && k.nodes[buddyIndex].level() != allocatedLevel {
		parent := parentOf(index)
		k.nodes[parent].setLeafFlag()
		index = parent

		if index == 0 {
			break
		}

		buddyIndex = buddyOf(index)
	}

	k.nodes[index].setLevel(indexLevel(index))
	k.levelsRecurse(index)
}

// Bytes returns a mutable view into the data arena at addr, sized 2^pow
// bytes; useful for tests and debugging dumps.
func (k *Kmem) Bytes(addr uint64, pow int) []byte {
	return k.pm.Bytes(addr, 1<<uint(pow))
}

// DataStart returns the base address of the data arena.
func (k *Kmem) DataStart() uint64 { return k.dataStart }

// String renders the tree level by level, grounded on kmem.rs's Display impl.
func (k *Kmem) String() string {
	out := "====================META====================\n"
	out += fmt.Sprintf("DATA: %#x -> %#x\n", k.dataStart, k.dataStart+uint64(1<<PagesPow)*pmem.PageSize)
	out += "===================ALLOC====================\n"

	queue := []int{0}

	level := 0
	for len(queue) > 0 {
		out += fmt.Sprintf("--------------------L %d--------------------\n", level)
		out += fmt.Sprintf("Size: %d\n", 1<<(MaxAllocation-level))

		var next []int

		for _, i := range queue {
			node := k.nodes[i]
			out += fmt.Sprintf("INDEX %d (%#x):\t %s\n", i, k.indexToAddr(i), node)

			if node.isParent() {
				next = append(next, leftOf(i), rightOf(i))
			}
		}

		queue = next
		level++
	}

	out += "====================END===================="

	return out
}
