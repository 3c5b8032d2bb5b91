package fat

import (
	"io"

	"github.com/dsoprea/go-logging"
)

// Allocation-table entry sentinels, expressed at 32-bit width. For the
// narrower variants they are masked down to the entry width before
// comparison.
const (
	freeClusterValue = 0x0

	dataClusterMin = 0x2
	dataClusterMax = 0x0fffffef

	endOfClusterMin = 0x0ffffff8
	endOfClusterMax = 0x0fffffff

	badClusterValue = 0x0ffffff7

	// Some FAT12 formatters terminate chains with 0xff0 instead of the
	// 0xff8-0xfff range.
	fat12AlternateEoc = 0xff0

	// The top four bits of a 32-bit entry are reserved and must be ignored.
	fat32EntryMask = 0x0fffffff
)

func maskToWidth(value uint32, bits int) uint32 {
	return value & uint32((uint64(1)<<uint(bits))-1)
}

// Table is a bit-width-aware accessor over the on-disk allocation table.
// Lookups are memoized per cluster index; the table region never changes
// under this read-only design, so the cache needs no invalidation. Not safe
// for concurrent use.
type Table struct {
	view       SizedReadSeeker
	variant    FatVariant
	bits       int
	entryCount uint32
	cache      map[uint32]uint32
}

// NewTable returns an accessor over the given allocation-table region. exFAT
// tables use Fat32 semantics.
func NewTable(view SizedReadSeeker, variant FatVariant) (*Table, error) {
	bits := variant.BitsPerEntry()
	if bits == 0 {
		return nil, log.Errorf("table variant not valid: [%s]", variant)
	}

	return &Table{
		view:       view,
		variant:    variant,
		bits:       bits,
		entryCount: uint32(view.Size() * 8 / int64(bits)),
		cache:      make(map[uint32]uint32),
	}, nil
}

// Variant returns the bit-width variant the table was opened with.
func (t *Table) Variant() FatVariant {
	return t.variant
}

// EntryCount returns how many entries fit in the table region.
func (t *Table) EntryCount() uint32 {
	return t.entryCount
}

// Get returns the raw table value for the given cluster index, masked to the
// entry width.
func (t *Table) Get(cluster uint32) (value uint32, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return t.get(cluster), nil
}

func (t *Table) get(cluster uint32) uint32 {
	if cluster >= t.entryCount {
		panic(ClusterOutOfRangeError{Cluster: cluster, EntryCount: t.entryCount})
	}

	if value, found := t.cache[cluster]; found == true {
		return value
	}

	var value uint32

	switch t.bits {
	case 12:
		// Entries are packed three nibbles at a time: entry N starts at byte
		// N + N/2 and occupies the low or high twelve bits of the
		// little-endian word found there, depending on parity.
		word := t.readWord16(int64(cluster) + int64(cluster)/2)

		if cluster&1 == 1 {
			value = uint32(word >> 4)
		} else {
			value = uint32(word & 0x0fff)
		}
	case 16:
		value = uint32(t.readWord16(int64(cluster) * 2))
	case 32:
		raw := make([]byte, 4)
		t.readAt(int64(cluster)*4, raw)

		value = defaultEncoding.Uint32(raw) & fat32EntryMask
	}

	t.cache[cluster] = value

	return value
}

func (t *Table) readWord16(offset int64) uint16 {
	raw := make([]byte, 2)
	t.readAt(offset, raw)

	return defaultEncoding.Uint16(raw)
}

func (t *Table) readAt(offset int64, buffer []byte) {
	_, err := t.view.Seek(offset, io.SeekStart)
	log.PanicIf(err)

	_, err = io.ReadFull(t.view, buffer)
	log.PanicIf(err)
}

// ChainVisitorFunc is called for each cluster in a chain, in chain order.
// Returning false stops the walk early.
type ChainVisitorFunc func(cluster uint32) (doContinue bool, err error)

// EnumerateChain walks the cluster chain rooted at startingCluster and calls
// the visitor once per cluster, terminal cluster included.
func (t *Table) EnumerateChain(startingCluster uint32, cb ChainVisitorFunc) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	t.enumerateChain(startingCluster, cb)

	return nil
}

func (t *Table) enumerateChain(startingCluster uint32, cb ChainVisitorFunc) {
	cluster := startingCluster

	// A consistent chain never revisits a cluster, so any walk longer than
	// the table itself proves a cycle in untrusted input.
	for steps := uint32(0); ; steps++ {
		if steps >= t.entryCount {
			panic(CorruptChainError{StartingCluster: startingCluster})
		}

		value := t.get(cluster)

		if value >= dataClusterMin && value <= maskToWidth(dataClusterMax, t.bits) {
			doContinue, err := cb(cluster)
			log.PanicIf(err)

			if doContinue == false {
				return
			}

			cluster = value
			continue
		}

		if t.bits == 12 && value == fat12AlternateEoc {
			_, err := cb(cluster)
			log.PanicIf(err)

			return
		}

		if value >= maskToWidth(endOfClusterMin, t.bits) && value <= maskToWidth(endOfClusterMax, t.bits) {
			_, err := cb(cluster)
			log.PanicIf(err)

			return
		}

		if value == maskToWidth(badClusterValue, t.bits) {
			panic(BadClusterError{Cluster: cluster})
		}

		if value == freeClusterValue {
			panic(FreeClusterError{Cluster: cluster})
		}

		// Reserved values outside every recognized range. Follow the pointer
		// anyway; the step cap bounds the damage.
		cluster = value
	}
}

// Chain materializes the cluster chain rooted at startingCluster.
func (t *Table) Chain(startingCluster uint32) (chain []uint32, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	chain = make([]uint32, 0)

	t.enumerateChain(startingCluster, func(cluster uint32) (bool, error) {
		chain = append(chain, cluster)
		return true, nil
	})

	return chain, nil
}

// Runlist converts the chain rooted at startingCluster to extents. Offsets
// are relative to the start of the data region (the two reserved table
// entries are subtracted) and numerically contiguous clusters are merged.
func (t *Table) Runlist(startingCluster uint32) (runs Runlist, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = errorFromRecovery(errRaw)
		}
	}()

	return t.runlist(startingCluster), nil
}

func (t *Table) runlist(startingCluster uint32) Runlist {
	runs := make(Runlist, 0)

	t.enumerateChain(startingCluster, func(cluster uint32) (bool, error) {
		offset := int64(cluster) - dataClusterMin

		if n := len(runs); n > 0 && runs[n-1].Offset+runs[n-1].Length == offset {
			runs[n-1].Length++
		} else {
			runs = append(runs, Run{Offset: offset, Length: 1})
		}

		return true, nil
	})

	return runs
}
