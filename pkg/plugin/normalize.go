package plugin

// Normalize builds a trial load order: required, then optional, then the
// confirmed-safe ids, then the batch under test, with later duplicates
// removed by key. It is the only place a load order is assembled.
func Normalize(required, optional, safe, batch []ID) []ID {
	s := &Set{}
	s.Add(required...)
	s.Add(optional...)
	s.Add(safe...)
	s.Add(batch...)
	return s.Items()
}

// StepSize returns the sub-batch size used to split a crashed batch of n
// candidates.
func StepSize(n int) int {
	switch {
	case n >= 200:
		return 25
	case n >= 150:
		return 20
	case n >= 100:
		return 15
	case n >= 50:
		return 10
	case n >= 20:
		return 5
	case n >= 10:
		return 3
	case n >= 5:
		return 2
	default:
		return 1
	}
}

// Chunk splits ids into consecutive slices of at most size items.
func Chunk(ids []ID, size int) [][]ID {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]ID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}
