package media

import (
	"time"

	"rosstream/main/capture"
	"rosstream/main/utils"
)

const (
	AudioClockRate       = utils.AudioSampleRate
	AudioSamplesPerBlock = 960
	AudioBlockDuration   = 20 * time.Millisecond
)

type AudioBlock struct {
	Samples  []int16
	PTS      uint64
	Duration time.Duration
}

// Timestamp converts PTS from sample ticks to stream time.
func (b AudioBlock) Timestamp() time.Duration {
	return ticksToDuration(b.PTS, AudioClockRate)
}

// AudioTrackAdapter reads fixed 20ms blocks from an input device.
type AudioTrackAdapter struct {
	device capture.AudioDevice
	pts    uint64
}

func NewAudioTrackAdapter(device capture.AudioDevice) *AudioTrackAdapter {
	return &AudioTrackAdapter{device: device}
}

// ReadBlock blocks on the device, which sets the cadence.
func (a *AudioTrackAdapter) ReadBlock() (AudioBlock, error) {
	samples := make([]int16, AudioSamplesPerBlock)
	if err := a.device.Read(samples); err != nil {
		return AudioBlock{}, err
	}
	block := AudioBlock{
		Samples:  samples,
		PTS:      a.pts,
		Duration: AudioBlockDuration,
	}
	a.pts += AudioSamplesPerBlock
	return block, nil
}

func (a *AudioTrackAdapter) Close() error {
	return a.device.Close()
}
