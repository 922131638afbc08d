package utils

import "sort"

// ChunkUint32 splits xs into consecutive slices of at most size elements.
// The returned slices alias xs.
func ChunkUint32(xs []uint32, size int) [][]uint32 {
	if size <= 0 || len(xs) == 0 {
		if len(xs) == 0 {
			return nil
		}
		return [][]uint32{xs}
	}
	chunks := make([][]uint32, 0, (len(xs)+size-1)/size)
	for start := 0; start < len(xs); start += size {
		end := start + size
		if end > len(xs) {
			end = len(xs)
		}
		chunks = append(chunks, xs[start:end])
	}
	return chunks
}

// ChunkUint64 splits xs into consecutive slices of at most size elements.
func ChunkUint64(xs []uint64, size int) [][]uint64 {
	if size <= 0 || len(xs) == 0 {
		if len(xs) == 0 {
			return nil
		}
		return [][]uint64{xs}
	}
	chunks := make([][]uint64, 0, (len(xs)+size-1)/size)
	for start := 0; start < len(xs); start += size {
		end := start + size
		if end > len(xs) {
			end = len(xs)
		}
		chunks = append(chunks, xs[start:end])
	}
	return chunks
}

// SortUint32Desc sorts in place, newest-first for UID ordering.
func SortUint32Desc(xs []uint32) {
	sort.Slice(xs, func(i, j int) bool { return xs[i] > xs[j] })
}

// SortUint64Desc sorts in place.
func SortUint64Desc(xs []uint64) {
	sort.Slice(xs, func(i, j int) bool { return xs[i] > xs[j] })
}
