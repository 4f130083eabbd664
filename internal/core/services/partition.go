package services

// Partition splits items into contiguous sub-batches of at most size
// elements, preserving order. It returns ceil(len(items)/size) batches;
// an empty input yields no batches. size must be > 0.
//
// Each batch has its capacity capped at its length so appending to one
// never overwrites the next.
func Partition[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	batches := make([][]T, 0, SubBatchCount(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}

// SubBatchCount returns ceil(n/size).
func SubBatchCount(n, size int) int {
	if size <= 0 || n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
