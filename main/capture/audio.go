package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"rosstream/main/utils"

	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var (
	ErrNoAudioDevice = errors.New("no audio input device")
	ErrDeviceClosed  = errors.New("audio device closed")
)

// AudioDevice yields mono 16-bit PCM at 48kHz.
type AudioDevice interface {
	Read(samples []int16) error
	Close() error
}

// GstAudioDevice reads PCM from the default input through an appsink.
type GstAudioDevice struct {
	pipeline *gst.Pipeline
	chunks   chan []byte
	pending  []byte
	done     chan struct{}
	once     sync.Once
}

// OpenAudioDevice starts the capture pipeline and waits up to probe for the
// first buffer. A device that produces nothing is reported as missing.
func OpenAudioDevice(probe time.Duration) (*GstAudioDevice, error) {
	InitGst()

	pipeline, err := gst.NewPipelineFromString(utils.AudioCapturePipeline())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAudioDevice, err)
	}

	sinkEl, err := pipeline.GetElementByName("appsink")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAudioDevice, err)
	}
	sink := app.SinkFromElement(sinkEl)

	device := &GstAudioDevice{
		pipeline: pipeline,
		chunks:   make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	first := make(chan struct{})
	var firstOnce sync.Once

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			sample := sink.PullSample()
			if sample == nil {
				return gst.FlowEOS
			}
			buffer := sample.GetBuffer()
			if buffer == nil {
				return gst.FlowError
			}
			firstOnce.Do(func() { close(first) })

			select {
			case device.chunks <- append([]byte(nil), buffer.Bytes()...):
			case <-device.done:
				return gst.FlowEOS
			default:
				// reader is behind, chunk dropped
			}
			return gst.FlowOK
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAudioDevice, err)
	}

	select {
	case <-first:
		log.Info().Msg("Starting audio capture")
		return device, nil
	case <-time.After(probe):
		device.Close()
		return nil, fmt.Errorf("%w: no samples within %s", ErrNoAudioDevice, probe)
	}
}

// Read blocks until len(samples) samples are available.
func (d *GstAudioDevice) Read(samples []int16) error {
	need := len(samples) * 2
	for len(d.pending) < need {
		select {
		case chunk := <-d.chunks:
			d.pending = append(d.pending, chunk...)
		case <-d.done:
			return ErrDeviceClosed
		}
	}
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(d.pending[i*2:]))
	}
	d.pending = append(d.pending[:0], d.pending[need:]...)
	return nil
}

func (d *GstAudioDevice) Close() error {
	d.once.Do(func() {
		close(d.done)
		d.pipeline.SetState(gst.StateNull)
		log.Info().Msg("Stopped audio capture")
	})
	return nil
}
