package media

import (
	"sync"
	"time"

	"rosstream/main/capture"
	"rosstream/main/quality"
)

const VideoClockRate = 90000

type FrameProvider interface {
	Latest() *capture.Frame
}

type PolicyProvider interface {
	Policy() quality.Policy
}

// VideoFrame is a packed RGB frame ready for the encoder.
type VideoFrame struct {
	Index    uint64
	Width    int
	Height   int
	Data     []byte
	PTS      uint64
	Duration time.Duration
}

// Timestamp converts PTS from 90kHz ticks to stream time.
func (f VideoFrame) Timestamp() time.Duration {
	return ticksToDuration(f.PTS, VideoClockRate)
}

func ticksToDuration(ticks uint64, clockRate uint64) time.Duration {
	seconds := ticks / clockRate
	rest := ticks % clockRate
	return time.Duration(seconds)*time.Second + time.Duration(rest)*time.Second/time.Duration(clockRate)
}

// VideoTrackAdapter turns the latest camera frame into timestamped RGB
// frames at the size the quality policy asks for.
type VideoTrackAdapter struct {
	source FrameProvider
	policy PolicyProvider

	mu         sync.Mutex
	frameIndex uint64
	nextPTS    uint64
	lastSource *capture.Frame
	lastScaled *capture.Frame
}

func NewVideoTrackAdapter(source FrameProvider, policy PolicyProvider) *VideoTrackAdapter {
	return &VideoTrackAdapter{source: source, policy: policy}
}

func (a *VideoTrackAdapter) scaled(frame *capture.Frame, res quality.Resolution) *capture.Frame {
	if a.lastSource == frame && a.lastScaled != nil &&
		a.lastScaled.Width == res.Width && a.lastScaled.Height == res.Height {
		return a.lastScaled
	}
	scaled := frame.Resize(res.Width, res.Height)
	a.lastSource = frame
	a.lastScaled = scaled
	return scaled
}

// Next returns immediately with the latest known frame. The timestamp
// advances by clockRate/fps per frame, so it stays monotonic when the
// policy's frame rate changes.
func (a *VideoTrackAdapter) Next() VideoFrame {
	policy := a.policy.Policy()
	fps := policy.FPS
	if fps <= 0 {
		fps = quality.DefaultFPS
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	frame := a.scaled(a.source.Latest(), policy.Resolution)

	out := VideoFrame{
		Index:    a.frameIndex,
		Width:    frame.Width,
		Height:   frame.Height,
		Data:     frame.RGB(),
		PTS:      a.nextPTS,
		Duration: time.Second / time.Duration(fps),
	}
	a.frameIndex++
	a.nextPTS += uint64(VideoClockRate / fps)
	return out
}
