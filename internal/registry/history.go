package registry

// ring is a fixed-capacity FIFO of samples. Appending to a full ring
// evicts the oldest sample.
type ring struct {
	buf   []Sample
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

// push appends a sample, evicting the oldest when full
func (r *ring) push(s Sample) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = s
		r.count++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot returns the samples in append order, oldest first
func (r *ring) snapshot() []Sample {
	out := make([]Sample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
