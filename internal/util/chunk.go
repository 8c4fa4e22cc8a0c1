package util

// Chunk splits items into slices of at most size elements. The returned
// slices share the backing array of items.
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 || len(items) == 0 {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for size < len(items) {
		chunks = append(chunks, items[:size])
		items = items[size:]
	}
	return append(chunks, items)
}
