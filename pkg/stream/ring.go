package stream

// ring is a fixed-capacity circular byte buffer. It is not synchronized;
// Reader and Writer guard it with their own lock.
type ring struct {
	buf []byte
	r   int // next byte to read
	w   int // next byte to write
	n   int // buffered bytes
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &ring{buf: make([]byte, capacity)}
}

func (b *ring) len() int  { return b.n }
func (b *ring) free() int { return len(b.buf) - b.n }

// write copies as much of p as fits and returns the number of bytes taken.
func (b *ring) write(p []byte) int {
	total := 0
	for len(p) > 0 && b.free() > 0 {
		end := len(b.buf)
		if b.r > b.w || (b.r == b.w && b.n > 0) {
			end = b.r
		}
		n := copy(b.buf[b.w:end], p)
		b.w = (b.w + n) % len(b.buf)
		b.n += n
		total += n
		p = p[n:]
	}
	return total
}

// read moves up to len(p) buffered bytes into p.
func (b *ring) read(p []byte) int {
	total := 0
	for len(p) > 0 && b.n > 0 {
		end := len(b.buf)
		if b.w > b.r {
			end = b.w
		}
		n := copy(p, b.buf[b.r:end])
		b.r = (b.r + n) % len(b.buf)
		b.n -= n
		total += n
		p = p[n:]
	}
	return total
}

func (b *ring) reset() {
	b.r, b.w, b.n = 0, 0, 0
}
