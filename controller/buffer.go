package controller

// DefaultBufferCapacity is the number of frames kept for multi-frame analysis.
const DefaultBufferCapacity = 3

// FrameBuffer is a fixed-capacity FIFO of frames. The oldest frame is evicted when full. It is not
// safe for concurrent use.
type FrameBuffer struct {
	frames   []Frame
	capacity int
}

// NewFrameBuffer creates a buffer. capacity <= 0 takes DefaultBufferCapacity.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &FrameBuffer{frames: make([]Frame, 0, capacity), capacity: capacity}
}

// Push appends a frame, evicting the oldest when full.
func (b *FrameBuffer) Push(frame Frame) {
	if len(b.frames) == b.capacity {
		copy(b.frames, b.frames[1:])
		b.frames = b.frames[:b.capacity-1]
	}
	b.frames = append(b.frames, frame)
}

// Frames returns a copy of the buffered frames, oldest first.
func (b *FrameBuffer) Frames() []Frame {
	return append([]Frame(nil), b.frames...)
}

// Newest returns the most recent frame.
func (b *FrameBuffer) Newest() (Frame, bool) {
	if len(b.frames) == 0 {
		return Frame{}, false
	}
	return b.frames[len(b.frames)-1], true
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	return len(b.frames)
}

// Capacity returns the buffer's capacity.
func (b *FrameBuffer) Capacity() int {
	return b.capacity
}

// Clear drops every frame.
func (b *FrameBuffer) Clear() {
	clear(b.frames)
	b.frames = b.frames[:0]
}
