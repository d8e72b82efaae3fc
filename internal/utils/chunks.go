package utils

import (
	"math"
	"sort"
)

// Chunk size bounds. Sessions are created with a chunk size clamped into
// [MinChunkSize, MaxChunkSize] and never larger than the file itself.
const (
	MinChunkSize     = 256 * 1024
	MaxChunkSize     = 100 * 1024 * 1024
	DefaultChunkSize = 1024 * 1024
)

// ClampChunkSize normalizes a requested chunk size. A zero or negative
// desired size selects the default. The result is clamped into the legal
// bounds and then capped to fileSize so a single-chunk upload never declares
// a chunk larger than the file.
func ClampChunkSize(desired, fileSize int64) int64 {
	size := desired
	if size <= 0 {
		size = DefaultChunkSize
	}
	if size < MinChunkSize {
		size = MinChunkSize
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}
	if size > fileSize {
		size = fileSize
	}
	return size
}

// TotalChunks returns ceil(fileSize / chunkSize).
func TotalChunks(fileSize, chunkSize int64) int {
	if chunkSize <= 0 {
		return 0
	}
	n := fileSize / chunkSize
	if fileSize%chunkSize != 0 {
		n++
	}
	return int(n)
}

// ExpectedChunkSize returns the byte length chunk index must have. Every
// chunk is chunkSize bytes except the last, which carries the remainder.
func ExpectedChunkSize(index, totalChunks int, fileSize, chunkSize int64) int64 {
	if index == totalChunks-1 {
		return fileSize - int64(totalChunks-1)*chunkSize
	}
	return chunkSize
}

// MissingChunks returns the sorted complement of received over [0, totalChunks).
func MissingChunks(received []int, totalChunks int) []int {
	have := make(map[int]bool, len(received))
	for _, i := range received {
		have[i] = true
	}
	missing := []int{}
	for i := 0; i < totalChunks; i++ {
		if !have[i] {
			missing = append(missing, i)
		}
	}
	return missing
}

// SortedChunks returns a sorted copy of indices.
func SortedChunks(indices []int) []int {
	out := make([]int, len(indices))
	copy(out, indices)
	sort.Ints(out)
	return out
}

// Progress returns the upload percentage, capped at 100.
func Progress(bytesUploaded, totalBytes int64) int {
	if totalBytes <= 0 {
		return 0
	}
	pct := int(math.Round(float64(bytesUploaded) / float64(totalBytes) * 100))
	if pct > 100 {
		pct = 100
	}
	return pct
}
