package media

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"rosstream/main/capture"
	"rosstream/main/utils"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// SampleWriter is satisfied by *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(sample media.Sample) error
}

type VideoEncoder interface {
	Encode(frame VideoFrame) error
	Close() error
}

type AudioEncoder interface {
	Encode(block AudioBlock) error
	Close() error
}

type EncoderConfig struct {
	Encoder string
	Bitrate int
	Threads int
}

type gstPipeline struct {
	pipeline *gst.Pipeline
	src      *app.Source
}

func startPipeline(pipelineString string, writer SampleWriter, duration func() time.Duration) (*gstPipeline, error) {
	capture.InitGst()

	pipeline, err := gst.NewPipelineFromString(pipelineString)
	if err != nil {
		return nil, fmt.Errorf("create encoder pipeline: %w", err)
	}

	srcEl, err := pipeline.GetElementByName("appsrc")
	if err != nil {
		return nil, fmt.Errorf("encoder pipeline has no appsrc: %w", err)
	}
	sinkEl, err := pipeline.GetElementByName("appsink")
	if err != nil {
		return nil, fmt.Errorf("encoder pipeline has no appsink: %w", err)
	}

	sink := app.SinkFromElement(sinkEl)
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

			sampleDuration := buffer.Duration()
			if sampleDuration <= 0 {
				sampleDuration = duration()
			}
			if err := writer.WriteSample(media.Sample{Data: buffer.Bytes(), Duration: sampleDuration}); err != nil {
				log.Err(err).Msg("Failed to write sample")
			}
			return gst.FlowOK
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("start encoder pipeline: %w", err)
	}

	return &gstPipeline{pipeline: pipeline, src: app.SrcFromElement(srcEl)}, nil
}

// timedBuffer carries the adapter's timestamp into the pipeline.
func timedBuffer(data []byte, pts time.Duration, duration time.Duration) *gst.Buffer {
	buffer := gst.NewBufferFromBytes(data)
	buffer.SetPresentationTimestamp(pts)
	buffer.SetDuration(duration)
	return buffer
}

func (p *gstPipeline) push(data []byte, pts time.Duration, duration time.Duration) error {
	if ret := p.src.PushBuffer(timedBuffer(data, pts, duration)); ret != gst.FlowOK {
		return fmt.Errorf("push buffer: %v", ret)
	}
	return nil
}

func (p *gstPipeline) stop() {
	p.pipeline.SetState(gst.StateNull)
}

// GstVideoEncoder rebuilds its pipeline whenever the frame size or rate changes.
type GstVideoEncoder struct {
	config EncoderConfig
	writer SampleWriter

	mu       sync.Mutex
	pipeline *gstPipeline
	width    int
	height   int
	fps      int
	duration time.Duration
}

func NewGstVideoEncoder(config EncoderConfig, writer SampleWriter) *GstVideoEncoder {
	return &GstVideoEncoder{config: config, writer: writer}
}

func (e *GstVideoEncoder) currentDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *GstVideoEncoder) Encode(frame VideoFrame) error {
	if frame.Duration <= 0 {
		return fmt.Errorf("frame %d has no duration", frame.Index)
	}

	e.mu.Lock()
	fps := int(time.Second / frame.Duration)
	rebuild := e.pipeline == nil || frame.Width != e.width || frame.Height != e.height || fps != e.fps
	if rebuild && e.pipeline != nil {
		e.pipeline.stop()
		e.pipeline = nil
	}
	e.duration = frame.Duration
	e.mu.Unlock()

	if rebuild {
		pipelineString := utils.VideoEncodePipeline(e.config.Encoder, frame.Width, frame.Height, fps, e.config.Bitrate, e.config.Threads)
		pipeline, err := startPipeline(pipelineString, e.writer, e.currentDuration)
		if err != nil {
			return err
		}
		log.Info().
			Int("width", frame.Width).
			Int("height", frame.Height).
			Int("fps", fps).
			Str("encoder", e.config.Encoder).
			Msg("Started video encoder")

		e.mu.Lock()
		e.pipeline = pipeline
		e.width, e.height, e.fps = frame.Width, frame.Height, fps
		e.mu.Unlock()
	}

	e.mu.Lock()
	pipeline := e.pipeline
	e.mu.Unlock()
	return pipeline.push(frame.Data, frame.Timestamp(), frame.Duration)
}

func (e *GstVideoEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pipeline != nil {
		e.pipeline.stop()
		e.pipeline = nil
	}
	return nil
}

type GstAudioEncoder struct {
	pipeline *gstPipeline
}

func NewGstAudioEncoder(writer SampleWriter) (*GstAudioEncoder, error) {
	pipeline, err := startPipeline(utils.AudioEncodePipeline(), writer, func() time.Duration { return AudioBlockDuration })
	if err != nil {
		return nil, err
	}
	return &GstAudioEncoder{pipeline: pipeline}, nil
}

func (e *GstAudioEncoder) Encode(block AudioBlock) error {
	data := make([]byte, len(block.Samples)*2)
	for i, s := range block.Samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return e.pipeline.push(data, block.Timestamp(), block.Duration)
}

func (e *GstAudioEncoder) Close() error {
	e.pipeline.stop()
	return nil
}
