package jobs

import "testing"

func TestPartitionCoversRangeExactly(t *testing.T) {
	cases := []struct {
		name      string
		n         int64
		requested int
	}{
		{"even split", 100, 4},
		{"uneven split", 10, 3},
		{"single chunk", 50, 1},
		{"more chunks than values", 3, 8},
		{"one value", 1, 1},
		{"one value many chunks", 1, 10},
		{"large range", 1_000_000, 100},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := Partition("job_test", tc.n, tc.requested)

			if len(chunks) == 0 {
				t.Fatal("Expected at least one chunk")
			}
			if len(chunks) > tc.requested {
				t.Errorf("Got %d chunks, requested %d", len(chunks), tc.requested)
			}

			// Contiguous cover of [1, n] with no gaps or overlap
			var next int64 = 1
			for _, c := range chunks {
				if c.Start != next {
					t.Errorf("Chunk %d starts at %d, expected %d", c.Index, c.Start, next)
				}
				if c.End < c.Start {
					t.Errorf("Chunk %d has end %d before start %d", c.Index, c.End, c.Start)
				}
				next = c.End + 1
			}
			if next != tc.n+1 {
				t.Errorf("Chunks cover up to %d, expected %d", next-1, tc.n)
			}
		})
	}
}

func TestPartitionUnevenSizes(t *testing.T) {
	// 10 values in 3 chunks: ceiling division gives size 4, so 4+4+2
	chunks := Partition("job_test", 10, 3)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}

	expected := [][2]int64{{1, 4}, {5, 8}, {9, 10}}
	for i, want := range expected {
		if chunks[i].Start != want[0] || chunks[i].End != want[1] {
			t.Errorf("Chunk %d is [%d,%d], expected [%d,%d]",
				i, chunks[i].Start, chunks[i].End, want[0], want[1])
		}
	}
}

func TestPartitionStopsWhenExhausted(t *testing.T) {
	// 10 values in 4 chunks: size 3, chunk starts 1,4,7,10 all within range
	chunks := Partition("job_test", 10, 4)
	if len(chunks) != 4 {
		t.Fatalf("Expected 4 chunks, got %d", len(chunks))
	}

	// 10 values in 9 chunks: size 2, only 5 chunks before the range runs out
	chunks = Partition("job_test", 10, 9)
	if len(chunks) != 5 {
		t.Fatalf("Expected 5 chunks when range is exhausted early, got %d", len(chunks))
	}
}

func TestEffectiveChunks(t *testing.T) {
	if got := EffectiveChunks(100, 4); got != 4 {
		t.Errorf("Expected 4, got %d", got)
	}
	if got := EffectiveChunks(3, 8); got != 3 {
		t.Errorf("Expected 3 when n is smaller than requested, got %d", got)
	}
	if got := EffectiveChunks(1, 1); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
}
