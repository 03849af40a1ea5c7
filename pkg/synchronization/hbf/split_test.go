package hbf

import "testing"

func TestSplitExactMultiple(t *testing.T) {
	blocks := Split(20, 10)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Start != 0 || blocks[0].Size != 10 {
		t.Fatalf("unexpected block 0: %+v", blocks[0])
	}
	if blocks[1].Start != 10 || blocks[1].Size != 10 {
		t.Fatalf("unexpected block 1: %+v", blocks[1])
	}
}

func TestSplitRemainder(t *testing.T) {
	blocks := Split(25, 10)
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[2].Start != 20 || blocks[2].Size != 5 {
		t.Fatalf("unexpected last block: %+v", blocks[2])
	}
}

func TestSplitEmptyFileYieldsOneZeroBlock(t *testing.T) {
	blocks := Split(0, 10)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block for empty file, got %d", len(blocks))
	}
	if blocks[0].Size != 0 || blocks[0].Start != 0 {
		t.Fatalf("unexpected block: %+v", blocks[0])
	}
}

func TestSplitDefaultsBlockSize(t *testing.T) {
	blocks := Split(DefaultBlockSize+1, 0)
	if len(blocks) != 2 {
		t.Fatalf("expected default block size to split into 2 blocks, got %d", len(blocks))
	}
}

func TestSplitCoversWholeFileWithNoGapsOrOverlaps(t *testing.T) {
	blocks := Split(1234567, 100000)
	var covered int64
	for i, b := range blocks {
		if b.Start != covered {
			t.Fatalf("block %d starts at %d, expected %d (gap or overlap)", i, b.Start, covered)
		}
		covered += b.Size
	}
	if covered != 1234567 {
		t.Fatalf("blocks covered %d bytes, expected 1234567", covered)
	}
}
