package raytracing

import "sync/atomic"

// SharedBuffer lets several owners hold one buffer, for example a rasterizer
// and a bottom-level structure built from the same vertices. The underlying
// buffer is destroyed when the last holder calls Destroy.
type SharedBuffer struct {
	Buffer
	refs *atomic.Int32
	done atomic.Bool
}

func Share(b Buffer) *SharedBuffer {
	refs := &atomic.Int32{}
	refs.Store(1)
	return &SharedBuffer{Buffer: b, refs: refs}
}

// Retain returns a new handle to the same buffer.
func (s *SharedBuffer) Retain() *SharedBuffer {
	s.refs.Add(1)
	return &SharedBuffer{Buffer: s.Buffer, refs: s.refs}
}

// Destroy drops this handle. Calling it twice on one handle does nothing.
func (s *SharedBuffer) Destroy() {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	if s.refs.Add(-1) == 0 {
		s.Buffer.Destroy()
	}
}

func (s *SharedBuffer) Holders() int {
	return int(s.refs.Load())
}
