package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// FrameRate reports the frame rate the writer should be throttled to.
type FrameRate interface {
	FrameRate() int
}

type fixedRate int

func (r fixedRate) FrameRate() int { return int(r) }

// FrameSource is a single-slot, latest-wins frame buffer. Update is called
// from the camera context, Latest from any number of readers.
type FrameSource struct {
	frame       atomic.Pointer[Frame]
	placeholder *Frame
	rate        FrameRate
	now         func() time.Time

	mu       sync.Mutex
	lastTime time.Time
	dropped  uint64
}

func NewFrameSource(rate FrameRate) *FrameSource {
	if rate == nil {
		rate = fixedRate(30)
	}
	return &FrameSource{
		placeholder: Placeholder(),
		rate:        rate,
		now:         time.Now,
	}
}

// Update stores frame unless it arrived sooner than 1/fps after the last
// accepted frame. It reports whether the frame was kept.
func (s *FrameSource) Update(frame *Frame) bool {
	if !frame.Valid() {
		log.Warn().Msg("Dropping malformed frame")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	fps := s.rate.FrameRate()
	if fps > 0 && !s.lastTime.IsZero() && now.Sub(s.lastTime) < time.Second/time.Duration(fps) {
		s.dropped++
		return false
	}
	s.lastTime = now
	s.frame.Store(frame)
	return true
}

// Latest never blocks; before the first frame it returns the placeholder.
func (s *FrameSource) Latest() *Frame {
	if frame := s.frame.Load(); frame != nil {
		return frame
	}
	return s.placeholder
}

func (s *FrameSource) HasFrame() bool {
	return s.frame.Load() != nil
}

func (s *FrameSource) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
