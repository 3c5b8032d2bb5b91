package fat

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"encoding/binary"
)

func newTestTable(t *testing.T, raw []byte, variant FatVariant) *Table {
	view := io.NewSectionReader(bytes.NewReader(raw), 0, int64(len(raw)))

	table, err := NewTable(view, variant)
	if err != nil {
		t.Fatalf("table not created: %v", err)
	}

	return table
}

func buildFat16Table(entries map[uint32]uint16, entryCount int) []byte {
	raw := make([]byte, entryCount*2)
	for cluster, value := range entries {
		binary.LittleEndian.PutUint16(raw[cluster*2:], value)
	}

	return raw
}

func TestTable_Get_Fat12NibblePacking(t *testing.T) {
	values := map[uint32]uint16{
		0: 0xff8,
		1: 0xfff,
		2: 0x003,
		3: 0xabc,
		4: 0x123,
		5: 0xfff,
		6: 0x00f,
		7: 0xf00,
	}

	raw := make([]byte, 12)
	for cluster, value := range values {
		writeFat12(raw, cluster, value)
	}

	table := newTestTable(t, raw, Fat12)

	for cluster, expected := range values {
		value, err := table.Get(cluster)
		if err != nil {
			t.Fatalf("lookup of (%d) failed: %v", cluster, err)
		}

		if value != uint32(expected) {
			t.Fatalf("cluster (%d): got (0x%03x), expected (0x%03x)", cluster, value, expected)
		}
	}
}

func TestTable_Get_Fat32MasksReservedBits(t *testing.T) {
	raw := make([]byte, 16)
	binary.LittleEndian.PutUint32(raw[2*4:], 0xf0000003)

	table := newTestTable(t, raw, Fat32)

	value, err := table.Get(2)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	if value != 0x3 {
		t.Fatalf("reserved bits not masked: (0x%08x)", value)
	}
}

func TestTable_Get_OutOfRange(t *testing.T) {
	raw := buildFat16Table(nil, 8)
	table := newTestTable(t, raw, Fat16)

	_, err := table.Get(8)

	var oorErr ClusterOutOfRangeError
	if errors.As(err, &oorErr) == false {
		t.Fatalf("expected an out-of-range error: %v", err)
	}

	if oorErr.Cluster != 8 || oorErr.EntryCount != 8 {
		t.Fatalf("error details not correct: %+v", oorErr)
	}
}

func TestTable_Get_Memoized(t *testing.T) {
	raw := buildFat16Table(map[uint32]uint16{2: 0xfff8}, 8)

	cr := newCountingReader(raw)
	view := io.NewSectionReader(cr, 0, int64(len(raw)))

	table, err := NewTable(view, Fat16)
	if err != nil {
		t.Fatalf("table not created: %v", err)
	}

	if _, err := table.Get(2); err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}

	before := cr.reads

	if _, err := table.Get(2); err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}

	if cr.reads != before {
		t.Fatalf("second lookup touched the source: (%d) != (%d)", cr.reads, before)
	}
}

func TestTable_Chain_Contiguous(t *testing.T) {
	raw := buildFat16Table(map[uint32]uint16{
		2: 3,
		3: 4,
		4: 0xfff8,
	}, 16)

	table := newTestTable(t, raw, Fat16)

	chain, err := table.Chain(2)
	if err != nil {
		t.Fatalf("chain failed: %v", err)
	}

	expected := []uint32{2, 3, 4}
	if len(chain) != len(expected) {
		t.Fatalf("chain length not correct: %v", chain)
	}

	for i, cluster := range expected {
		if chain[i] != cluster {
			t.Fatalf("chain not correct: %v", chain)
		}
	}
}

func TestTable_Chain_Fat12AlternateEoc(t *testing.T) {
	raw := make([]byte, 12)
	writeFat12(raw, 2, 0xff0)

	table := newTestTable(t, raw, Fat12)

	chain, err := table.Chain(2)
	if err != nil {
		t.Fatalf("chain failed: %v", err)
	}

	if len(chain) != 1 || chain[0] != 2 {
		t.Fatalf("chain not correct: %v", chain)
	}
}

func TestTable_Runlist_MergesContiguous(t *testing.T) {
	raw := buildFat16Table(map[uint32]uint16{
		2: 3,
		3: 4,
		4: 0xffff,
	}, 16)

	table := newTestTable(t, raw, Fat16)

	runs, err := table.Runlist(2)
	if err != nil {
		t.Fatalf("runlist failed: %v", err)
	}

	if len(runs) != 1 || runs[0].Offset != 0 || runs[0].Length != 3 {
		t.Fatalf("runlist not correct: %v", runs)
	}
}

func TestTable_Runlist_Fragmented(t *testing.T) {
	raw := buildFat16Table(map[uint32]uint16{
		2: 5,
		5: 6,
		6: 0xfff8,
	}, 16)

	table := newTestTable(t, raw, Fat16)

	runs, err := table.Runlist(2)
	if err != nil {
		t.Fatalf("runlist failed: %v", err)
	}

	if len(runs) != 2 {
		t.Fatalf("runlist not correct: %v", runs)
	}

	if runs[0] != (Run{Offset: 0, Length: 1}) || runs[1] != (Run{Offset: 3, Length: 2}) {
		t.Fatalf("runlist not correct: %v", runs)
	}

	// Expanding the runs and re-adding the two reserved entries yields the
	// chain again.
	expanded := make([]uint32, 0)
	for _, run := range runs {
		for i := int64(0); i < run.Length; i++ {
			expanded = append(expanded, uint32(run.Offset+i)+2)
		}
	}

	chain, err := table.Chain(2)
	if err != nil {
		t.Fatalf("chain failed: %v", err)
	}

	if len(expanded) != len(chain) {
		t.Fatalf("round-trip length not correct: %v != %v", expanded, chain)
	}

	for i := range chain {
		if expanded[i] != chain[i] {
			t.Fatalf("round-trip not correct: %v != %v", expanded, chain)
		}
	}
}

func TestTable_Chain_BadCluster(t *testing.T) {
	raw := buildFat16Table(map[uint32]uint16{
		2: 3,
		3: 0xfff7,
	}, 16)

	table := newTestTable(t, raw, Fat16)

	_, err := table.Chain(2)

	var badErr BadClusterError
	if errors.As(err, &badErr) == false {
		t.Fatalf("expected a bad-cluster error: %v", err)
	}

	if badErr.Cluster != 3 {
		t.Fatalf("error cluster not correct: %+v", badErr)
	}
}

func TestTable_Chain_FreeCluster(t *testing.T) {
	raw := buildFat16Table(map[uint32]uint16{
		2: 3,
	}, 16)

	table := newTestTable(t, raw, Fat16)

	_, err := table.Chain(2)

	var freeErr FreeClusterError
	if errors.As(err, &freeErr) == false {
		t.Fatalf("expected a free-cluster error: %v", err)
	}

	if freeErr.Cluster != 3 {
		t.Fatalf("error cluster not correct: %+v", freeErr)
	}
}

func TestTable_Chain_Cycle(t *testing.T) {
	raw := buildFat16Table(map[uint32]uint16{
		2: 3,
		3: 2,
	}, 16)

	table := newTestTable(t, raw, Fat16)

	_, err := table.Chain(2)

	var corruptErr CorruptChainError
	if errors.As(err, &corruptErr) == false {
		t.Fatalf("expected a corrupt-chain error: %v", err)
	}

	if corruptErr.StartingCluster != 2 {
		t.Fatalf("error cluster not correct: %+v", corruptErr)
	}
}

func TestTable_EnumerateChain_EarlyStop(t *testing.T) {
	raw := buildFat16Table(map[uint32]uint16{
		2: 3,
		3: 4,
		4: 0xfff8,
	}, 16)

	table := newTestTable(t, raw, Fat16)

	visited := make([]uint32, 0)

	err := table.EnumerateChain(2, func(cluster uint32) (bool, error) {
		visited = append(visited, cluster)
		return false, nil
	})

	if err != nil {
		t.Fatalf("enumerate failed: %v", err)
	}

	if len(visited) != 1 || visited[0] != 2 {
		t.Fatalf("early stop not honored: %v", visited)
	}
}
