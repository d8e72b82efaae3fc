package utils

import (
	"testing"
)

func TestClampChunkSize(t *testing.T) {
	tests := []struct {
		name     string
		desired  int64
		fileSize int64
		want     int64
	}{
		{"default when zero", 0, 10 * 1024 * 1024, DefaultChunkSize},
		{"below minimum", 1024, 10 * 1024 * 1024, MinChunkSize},
		{"above maximum", 500 * 1024 * 1024, 1024 * 1024 * 1024, MaxChunkSize},
		{"capped to file size", 0, 100, 100},
		{"in range untouched", 2 * 1024 * 1024, 10 * 1024 * 1024, 2 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampChunkSize(tt.desired, tt.fileSize)
			if got != tt.want {
				t.Errorf("ClampChunkSize(%d, %d) = %d, want %d", tt.desired, tt.fileSize, got, tt.want)
			}
		})
	}
}

func TestTotalChunks(t *testing.T) {
	tests := []struct {
		fileSize  int64
		chunkSize int64
		want      int
	}{
		{2_500_000, 1_000_000, 3},
		{1_000_000, 1_000_000, 1},
		{2_000_000, 1_000_000, 2},
		{1, 1_000_000, 1},
		{1_000_001, 1_000_000, 2},
	}

	for _, tt := range tests {
		got := TotalChunks(tt.fileSize, tt.chunkSize)
		if got != tt.want {
			t.Errorf("TotalChunks(%d, %d) = %d, want %d", tt.fileSize, tt.chunkSize, got, tt.want)
		}
	}
}

func TestExpectedChunkSize(t *testing.T) {
	// 2.5MB file in 1MB chunks: [1MB, 1MB, 0.5MB]
	fileSize := int64(2_500_000)
	chunkSize := int64(1_000_000)
	total := TotalChunks(fileSize, chunkSize)

	if got := ExpectedChunkSize(0, total, fileSize, chunkSize); got != 1_000_000 {
		t.Errorf("chunk 0 size = %d, want 1000000", got)
	}
	if got := ExpectedChunkSize(1, total, fileSize, chunkSize); got != 1_000_000 {
		t.Errorf("chunk 1 size = %d, want 1000000", got)
	}
	if got := ExpectedChunkSize(2, total, fileSize, chunkSize); got != 500_000 {
		t.Errorf("chunk 2 size = %d, want 500000", got)
	}
}

// TestChunkArithmeticInvariants checks that expected sizes sum to the file
// size and the last chunk is in (0, chunkSize] across a range of shapes.
func TestChunkArithmeticInvariants(t *testing.T) {
	shapes := []struct {
		fileSize  int64
		chunkSize int64
	}{
		{1, MinChunkSize},
		{MinChunkSize, MinChunkSize},
		{MinChunkSize + 1, MinChunkSize},
		{10*MinChunkSize - 1, MinChunkSize},
		{2_500_000, 1_000_000},
		{100 * 1024 * 1024, 5 * 1024 * 1024},
	}

	for _, shape := range shapes {
		chunkSize := ClampChunkSize(shape.chunkSize, shape.fileSize)
		total := TotalChunks(shape.fileSize, chunkSize)

		if total < 1 {
			t.Fatalf("TotalChunks(%d, %d) = %d, want >= 1", shape.fileSize, chunkSize, total)
		}

		var sum int64
		for i := 0; i < total; i++ {
			size := ExpectedChunkSize(i, total, shape.fileSize, chunkSize)
			if i < total-1 && size != chunkSize {
				t.Errorf("chunk %d of (%d, %d): size %d, want %d", i, shape.fileSize, chunkSize, size, chunkSize)
			}
			sum += size
		}
		if sum != shape.fileSize {
			t.Errorf("sum of chunk sizes for (%d, %d) = %d, want %d", shape.fileSize, chunkSize, sum, shape.fileSize)
		}

		last := ExpectedChunkSize(total-1, total, shape.fileSize, chunkSize)
		if last <= 0 || last > chunkSize {
			t.Errorf("last chunk of (%d, %d) = %d, want in (0, %d]", shape.fileSize, chunkSize, last, chunkSize)
		}
	}
}

func TestMissingChunks(t *testing.T) {
	got := MissingChunks([]int{0, 2}, 3)
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("MissingChunks([0,2], 3) = %v, want [1]", got)
	}

	if got := MissingChunks([]int{0, 1, 2}, 3); len(got) != 0 {
		t.Errorf("MissingChunks(complete) = %v, want []", got)
	}

	if got := MissingChunks(nil, 2); len(got) != 2 {
		t.Errorf("MissingChunks(nil, 2) = %v, want [0 1]", got)
	}
}

func TestProgress(t *testing.T) {
	if got := Progress(50, 100); got != 50 {
		t.Errorf("Progress(50, 100) = %d, want 50", got)
	}
	if got := Progress(150, 100); got != 100 {
		t.Errorf("Progress(150, 100) = %d, want 100 (capped)", got)
	}
	if got := Progress(0, 0); got != 0 {
		t.Errorf("Progress(0, 0) = %d, want 0", got)
	}
	if got := Progress(1, 3); got != 33 {
		t.Errorf("Progress(1, 3) = %d, want 33", got)
	}
}
