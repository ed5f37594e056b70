package engine

import "slices"

// BatchIndex is the base-size batch an item belongs to. It is always
// recomputed from the id so retries and the ledger never drift from the data.
func BatchIndex(id, batchSize int) int {
	if batchSize <= 0 || id <= 0 {
		return 0
	}
	return (id - 1) / batchSize
}

// BatchRange returns the first and last item id of batch index.
func BatchRange(index, batchSize int) (first, last int) {
	return index*batchSize + 1, (index + 1) * batchSize
}

// ChooseBatchSize picks the working batch size for a run over pendingCount items.
func ChooseBatchSize(pendingCount int, opts Options) int {
	opts = opts.withDefaults()
	if pendingCount > opts.LargeFileThreshold {
		return opts.MaxBatchSize
	}
	return opts.BatchSize
}

// chunk splits ids into consecutive slices of at most size.
func chunk(ids []int, size int) [][]int {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]int
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}

// Batch is a base-size group of items sharing one BatchIndex.
type Batch struct {
	Index int    `json:"index"`
	Items []Item `json:"items"`
}

// Partition groups items by BatchIndex, ordered by index. Items keep their
// relative order inside each batch.
func Partition(items []Item, batchSize int) []Batch {
	var batches []Batch
	pos := make(map[int]int)
	for _, it := range items {
		idx := BatchIndex(it.ID, batchSize)
		i, ok := pos[idx]
		if !ok {
			i = len(batches)
			pos[idx] = i
			batches = append(batches, Batch{Index: idx})
		}
		batches[i].Items = append(batches[i].Items, it)
	}
	slices.SortStableFunc(batches, func(a, b Batch) int { return a.Index - b.Index })
	return batches
}

// Flatten concatenates batches back into one sequence.
func Flatten(batches []Batch) []Item {
	var items []Item
	for _, b := range batches {
		items = append(items, b.Items...)
	}
	return items
}
