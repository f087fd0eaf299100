package sync

// FetchAllCounted retrieves a known total number of items in fixed-size pages.
// The fetch function receives a 1-based start row and a page size, the way the
// internal system's list endpoints are addressed. Pages are concatenated in
// retrieval order; an unexpectedly empty page terminates early.
func FetchAllCounted[T any](total, pageSize int, fetch func(startRow, count int) ([]T, error)) ([]T, error) {
	var all []T
	for start := 1; start <= total; start += pageSize {
		count := pageSize
		if remaining := total - start + 1; remaining < count {
			count = remaining
		}

		page, err := fetch(start, count)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
	}
	return all, nil
}

// FetchAllUntilEmpty retrieves pages of unknown total count, the way the
// external tracker's list endpoints are addressed (0-based offset/limit).
// A short or empty page terminates the loop.
func FetchAllUntilEmpty[T any](pageSize int, fetch func(offset, limit int) ([]T, error)) ([]T, error) {
	var all []T
	for offset := 0; ; offset += pageSize {
		page, err := fetch(offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}
	return all, nil
}
