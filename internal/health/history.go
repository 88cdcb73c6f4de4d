package health

// HistorySize is the number of status codes retained per backend.
const HistorySize = 10

// History is a fixed-capacity ring buffer of status codes.
// The zero value is an empty history ready for use. History is not safe for
// concurrent use; the owning backend serializes access.
type History struct {
	entries [HistorySize]int
	size    int
	cursor  int // next slot to overwrite once full
}

// Record appends status, overwriting the oldest entry once the buffer is full.
func (h *History) Record(status int) {
	if h.size < HistorySize {
		h.entries[h.size] = status
		h.size++
		return
	}

	h.entries[h.cursor] = status
	h.cursor = (h.cursor + 1) % HistorySize
}

// Len returns the number of recorded entries, at most HistorySize.
func (h *History) Len() int {
	return h.size
}

// Values returns a copy of the recorded statuses, oldest first.
func (h *History) Values() []int {
	out := make([]int, 0, h.size)
	if h.size < HistorySize {
		return append(out, h.entries[:h.size]...)
	}

	out = append(out, h.entries[h.cursor:]...)
	return append(out, h.entries[:h.cursor]...)
}
