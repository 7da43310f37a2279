package memory

// History is a fixed-capacity FIFO ring of messages. Pushing onto a full
// History overwrites the oldest entry. It is not safe for concurrent use;
// Curator serialises access.
type History struct {
	buf   []Message
	start int
	size  int
}

// NewHistory returns an empty History holding at most capacity messages.
// A capacity below 1 is raised to 1.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]Message, capacity)}
}

// Cap returns the capacity.
func (h *History) Cap() int { return len(h.buf) }

// Len returns the number of stored messages.
func (h *History) Len() int { return h.size }

// Push appends m and reports whether the oldest message was evicted.
func (h *History) Push(m Message) (evicted bool) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = m
		h.size++
		return false
	}
	h.buf[h.start] = m
	h.start = (h.start + 1) % len(h.buf)
	return true
}

// Last returns the newest message.
func (h *History) Last() (Message, bool) {
	if h.size == 0 {
		return Message{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

// Messages returns a copy of the stored messages, oldest first.
func (h *History) Messages() []Message {
	out := make([]Message, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Reset replaces the contents with msgs, keeping only the newest Cap() of them.
func (h *History) Reset(msgs []Message) {
	if excess := len(msgs) - len(h.buf); excess > 0 {
		msgs = msgs[excess:]
	}
	clear(h.buf)
	copy(h.buf, msgs)
	h.start = 0
	h.size = len(msgs)
}
