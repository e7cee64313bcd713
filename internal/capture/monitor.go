package capture

import "sync"

// monitor loops captured audio back to an output device. The capture side
// writes whole blocks; the output callback drains what is there and pads
// with silence. Neither side waits for the other.
type monitor struct {
	mu      sync.Mutex
	buf     []float32
	maxLen  int
	dropped uint64
}

func newMonitor(maxLen int) *monitor {
	return &monitor{maxLen: maxLen}
}

// write appends block, discarding the oldest samples beyond maxLen.
func (m *monitor) write(block []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, block...)
	if over := len(m.buf) - m.maxLen; m.maxLen > 0 && over > 0 {
		n := copy(m.buf, m.buf[over:])
		m.buf = m.buf[:n]
		m.dropped += uint64(over)
	}
}

// fill is the output callback. When the capture side holds the lock the
// whole buffer is silence and the queued samples are played next time.
func (m *monitor) fill(out []float32) {
	if !m.mu.TryLock() {
		clear(out)
		return
	}
	defer m.mu.Unlock()
	n := copy(out, m.buf)
	clear(out[n:])
	rest := copy(m.buf, m.buf[n:])
	m.buf = m.buf[:rest]
}

// pending returns the number of queued samples.
func (m *monitor) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}
