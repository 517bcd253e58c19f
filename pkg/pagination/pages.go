package pagination

// DefaultMaxGroupSize is the largest number of clan ids sent in one detail request.
const DefaultMaxGroupSize = 100

// TotalPages returns the number of pages needed for total entries at count
// entries per page. It returns 0 when count is not positive.
func TotalPages(count, total int) int {
	if count <= 0 || total <= 0 {
		return 0
	}
	return (total + count - 1) / count
}

// FollowUpPages returns the pages to request after page, given the counts
// reported by that page. Only page 1 fans out, and only when total > count.
func FollowUpPages(page, count, total int) []int {
	if page != 1 || count <= 0 || total <= count {
		return nil
	}

	last := TotalPages(count, total)
	pages := make([]int, 0, last-1)
	for p := 2; p <= last; p++ {
		pages = append(pages, p)
	}
	return pages
}

// Partition splits ids into consecutive groups of at most maxGroupSize.
// A non-positive maxGroupSize falls back to DefaultMaxGroupSize.
func Partition(ids []int64, maxGroupSize int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	if maxGroupSize <= 0 {
		maxGroupSize = DefaultMaxGroupSize
	}

	groups := make([][]int64, 0, (len(ids)+maxGroupSize-1)/maxGroupSize)
	for start := 0; start < len(ids); start += maxGroupSize {
		end := min(start+maxGroupSize, len(ids))
		group := make([]int64, end-start)
		copy(group, ids[start:end])
		groups = append(groups, group)
	}
	return groups
}
