package media

import (
	"errors"
	"sync"
	"testing"
	"time"

	"rosstream/main/capture"
	"rosstream/main/quality"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFrames struct {
	frame *capture.Frame
}

func (s *staticFrames) Latest() *capture.Frame { return s.frame }

type staticPolicy struct {
	mu     sync.Mutex
	policy quality.Policy
}

func (p *staticPolicy) Policy() quality.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

func (p *staticPolicy) set(policy quality.Policy) {
	p.mu.Lock()
	p.policy = policy
	p.mu.Unlock()
}

func bgrFrame(width int, height int) *capture.Frame {
	frame := capture.NewFrame(width, height)
	for i := 0; i < len(frame.Pix); i += 3 {
		frame.Pix[i] = 1
		frame.Pix[i+1] = 2
		frame.Pix[i+2] = 3
	}
	return frame
}

func TestVideoAdapterTimestamps(t *testing.T) {
	policy := &staticPolicy{policy: quality.Policy{Resolution: quality.Resolution{Width: 4, Height: 4}, FPS: 30}}
	adapter := NewVideoTrackAdapter(&staticFrames{frame: bgrFrame(4, 4)}, policy)

	for i := uint64(0); i < 5; i++ {
		frame := adapter.Next()
		assert.Equal(t, i, frame.Index)
		assert.Equal(t, i*3000, frame.PTS)
		assert.Equal(t, time.Second/30, frame.Duration)
	}
}

func TestVideoAdapterTimestampsStayMonotonic(t *testing.T) {
	policy := &staticPolicy{policy: quality.Policy{Resolution: quality.Resolution{Width: 2, Height: 2}, FPS: 5}}
	adapter := NewVideoTrackAdapter(&staticFrames{frame: bgrFrame(2, 2)}, policy)

	var last uint64
	for i := 0; i < 3; i++ {
		last = adapter.Next().PTS
	}
	policy.set(quality.Policy{Resolution: quality.Resolution{Width: 2, Height: 2}, FPS: 60})
	next := adapter.Next().PTS
	assert.Greater(t, next, last)
	assert.Equal(t, last+18000, next)
}

func TestVideoAdapterResizesAndConverts(t *testing.T) {
	policy := &staticPolicy{policy: quality.Policy{Resolution: quality.Resolution{Width: 4, Height: 2}, FPS: 15}}
	adapter := NewVideoTrackAdapter(&staticFrames{frame: bgrFrame(8, 4)}, policy)

	frame := adapter.Next()
	assert.Equal(t, 4, frame.Width)
	assert.Equal(t, 2, frame.Height)
	require.Len(t, frame.Data, 4*2*3)
	assert.Equal(t, []byte{3, 2, 1}, frame.Data[:3])
}

func TestVideoAdapterReusesScaledFrame(t *testing.T) {
	source := &staticFrames{frame: bgrFrame(8, 4)}
	policy := &staticPolicy{policy: quality.Policy{Resolution: quality.Resolution{Width: 4, Height: 2}, FPS: 15}}
	adapter := NewVideoTrackAdapter(source, policy)

	adapter.Next()
	first := adapter.lastScaled
	adapter.Next()
	assert.Same(t, first, adapter.lastScaled)

	policy.set(quality.Policy{Resolution: quality.Resolution{Width: 2, Height: 1}, FPS: 15})
	frame := adapter.Next()
	assert.Equal(t, 2, frame.Width)
	assert.NotSame(t, first, adapter.lastScaled)
}

func TestVideoAdapterPlaceholder(t *testing.T) {
	source := capture.NewFrameSource(nil)
	policy := &staticPolicy{policy: quality.Policy{Resolution: quality.DefaultResolution, FPS: 30}}
	adapter := NewVideoTrackAdapter(source, policy)

	frame := adapter.Next()
	assert.Equal(t, capture.PlaceholderWidth, frame.Width)
	assert.Equal(t, capture.PlaceholderHeight, frame.Height)
}

type fakeDevice struct {
	mu     sync.Mutex
	reads  int
	closed bool
	err    error
}

func (d *fakeDevice) Read(samples []int16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return capture.ErrDeviceClosed
	}
	if d.err != nil {
		return d.err
	}
	d.reads++
	for i := range samples {
		samples[i] = int16(d.reads)
	}
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func TestAudioAdapterBlocks(t *testing.T) {
	adapter := NewAudioTrackAdapter(&fakeDevice{})

	for i := 0; i < 3; i++ {
		block, err := adapter.ReadBlock()
		require.NoError(t, err)
		assert.Len(t, block.Samples, AudioSamplesPerBlock)
		assert.Equal(t, uint64(i*960), block.PTS)
		assert.Equal(t, 20*time.Millisecond, block.Duration)
	}
}

func TestAudioAdapterPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	adapter := NewAudioTrackAdapter(&fakeDevice{err: boom})
	_, err := adapter.ReadBlock()
	assert.ErrorIs(t, err, boom)
}

type countingEncoder struct {
	mu     sync.Mutex
	count  int
	closed bool
}

func (e *countingEncoder) Encode(VideoFrame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.count++
	return nil
}

func (e *countingEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *countingEncoder) frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func TestStreamerWithoutAudio(t *testing.T) {
	policy := &staticPolicy{policy: quality.Policy{Resolution: quality.Resolution{Width: 2, Height: 2}, FPS: 60}}
	streamer, err := NewStreamer(StreamerConfig{
		Video: NewVideoTrackAdapter(&staticFrames{frame: bgrFrame(2, 2)}, policy),
	})
	require.NoError(t, err)
	assert.Nil(t, streamer.AudioTrack)
	require.Len(t, streamer.Tracks(), 1)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, streamer.Tracks()[0].Kind())
}

func TestStreamerWithAudio(t *testing.T) {
	policy := &staticPolicy{policy: quality.Policy{Resolution: quality.Resolution{Width: 2, Height: 2}, FPS: 60}}
	streamer, err := NewStreamer(StreamerConfig{
		Video: NewVideoTrackAdapter(&staticFrames{frame: bgrFrame(2, 2)}, policy),
		Audio: NewAudioTrackAdapter(&fakeDevice{}),
	})
	require.NoError(t, err)
	assert.Len(t, streamer.Tracks(), 2)
}

func TestStreamerStartStop(t *testing.T) {
	encoder := &countingEncoder{}
	policy := &staticPolicy{policy: quality.Policy{Resolution: quality.Resolution{Width: 2, Height: 2}, FPS: 60}}
	streamer, err := NewStreamer(StreamerConfig{
		Video: NewVideoTrackAdapter(&staticFrames{frame: bgrFrame(2, 2)}, policy),
		NewVideoEncoder: func(SampleWriter) (VideoEncoder, error) {
			return encoder, nil
		},
	})
	require.NoError(t, err)

	streamer.Start()
	streamer.Start()
	assert.True(t, streamer.Running())

	assert.Eventually(t, func() bool { return encoder.frames() >= 3 }, 2*time.Second, 10*time.Millisecond)

	streamer.Stop()
	streamer.Stop()
	assert.False(t, streamer.Running())

	encoder.mu.Lock()
	assert.True(t, encoder.closed)
	encoder.mu.Unlock()

	stopped := encoder.frames()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, encoder.frames())
}

func TestTimestampsInStreamTime(t *testing.T) {
	assert.Equal(t, time.Duration(0), VideoFrame{}.Timestamp())
	assert.Equal(t, time.Second/30, VideoFrame{PTS: 3000}.Timestamp())
	assert.Equal(t, 30*time.Hour, VideoFrame{PTS: 90000 * 3600 * 30}.Timestamp())
	assert.Equal(t, 20*time.Millisecond, AudioBlock{PTS: 960}.Timestamp())
}

func TestTimedBufferCarriesTimestamp(t *testing.T) {
	capture.InitGst()

	buffer := timedBuffer([]byte{1, 2, 3}, 2*time.Second, time.Second/30)
	assert.Equal(t, 2*time.Second, buffer.PresentationTimestamp())
	assert.Equal(t, time.Second/30, buffer.Duration())
}

type sampleRecorder struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (r *sampleRecorder) WriteSample(sample media.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
	return nil
}

func (r *sampleRecorder) recorded() []media.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.Sample(nil), r.samples...)
}

func TestPipelineSampleDurationFromBuffer(t *testing.T) {
	recorder := &sampleRecorder{}
	pipeline, err := startPipeline("appsrc name=appsrc format=time ! appsink name=appsink sync=false", recorder, func() time.Duration {
		return time.Second
	})
	if err != nil {
		t.Skipf("gstreamer unavailable: %v", err)
	}
	defer pipeline.stop()

	frame := VideoFrame{PTS: 6000, Duration: time.Second / 15, Data: []byte{1, 2, 3}}
	require.NoError(t, pipeline.push(frame.Data, frame.Timestamp(), frame.Duration))

	require.Eventually(t, func() bool { return len(recorder.recorded()) == 1 }, 2*time.Second, 10*time.Millisecond)
	sample := recorder.recorded()[0]
	assert.Equal(t, time.Second/15, sample.Duration)
	assert.Equal(t, []byte{1, 2, 3}, sample.Data)
}
