package attribution

// Cursor is a 1-based page position.
type Cursor struct {
	Page  int
	Limit int
}

// clampCursor replaces non-positive values with defaults and caps the limit.
func clampCursor(page, limit, defaultLimit, maxLimit int) Cursor {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return Cursor{Page: page, Limit: limit}
}

// totalPages is ceil(n/limit), and zero for an empty collection.
func totalPages(n, limit int) int {
	if n <= 0 || limit <= 0 {
		return 0
	}
	return (n + limit - 1) / limit
}

// window returns the slice of items on the cursor's page. Pages past the end
// yield an empty, non-nil slice.
func window[T any](items []T, c Cursor) []T {
	if c.Page <= 0 || c.Limit <= 0 || c.Page-1 >= totalPages(len(items), c.Limit) {
		return []T{}
	}
	start := (c.Page - 1) * c.Limit
	end := start + c.Limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}
