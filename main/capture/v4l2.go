package capture

import (
	"fmt"
	"sync"
	"time"

	"rosstream/main/utils"

	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var gstInit sync.Once

// InitGst initializes GStreamer once per process.
func InitGst() {
	gstInit.Do(func() {
		gst.Init(nil)
	})
}

// V4l2Source captures a local camera with GStreamer and pushes BGR frames
// into a sink, bypassing ROS.
type V4l2Source struct {
	Device string
	Width  int
	Height int
	Fps    int
	Sink   FrameSink

	pipeline *gst.Pipeline
}

func NewV4l2Source(device string, width int, height int, fps int, sink FrameSink) *V4l2Source {
	return &V4l2Source{Device: device, Width: width, Height: height, Fps: fps, Sink: sink}
}

func (v *V4l2Source) Start() error {
	InitGst()

	pipeline, err := gst.NewPipelineFromString(utils.V4l2CapturePipeline(v.Device, v.Width, v.Height, v.Fps))
	if err != nil {
		return fmt.Errorf("create camera pipeline: %w", err)
	}

	sinkEl, err := pipeline.GetElementByName("appsink")
	if err != nil {
		return fmt.Errorf("camera pipeline has no appsink: %w", err)
	}
	sink := app.SinkFromElement(sinkEl)

	frameSize := v.Width * v.Height * 3
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

			data := buffer.Bytes()
			if len(data) < frameSize {
				log.Warn().Int("size", len(data)).Msg("Short camera buffer")
				return gst.FlowOK
			}

			frame := &Frame{
				Width:     v.Width,
				Height:    v.Height,
				Pix:       append([]byte(nil), data[:frameSize]...),
				Timestamp: time.Now(),
			}
			v.Sink.Update(frame)
			return gst.FlowOK
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("start camera pipeline: %w", err)
	}
	v.pipeline = pipeline

	log.Info().Str("device", v.Device).Int("width", v.Width).Int("height", v.Height).Msg("Starting video capture")
	return nil
}

func (v *V4l2Source) Stop() {
	if v.pipeline == nil {
		return
	}
	v.pipeline.SetState(gst.StateNull)
	v.pipeline = nil
	log.Info().Str("device", v.Device).Msg("Stopped video capture")
}
