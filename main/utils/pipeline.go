package utils

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	AudioSampleRate = 48000
	AudioChannels   = 1
)

func rawAudioCaps() string {
	return fmt.Sprintf("audio/x-raw,format=S16LE,rate=%d,channels=%d,layout=interleaved", AudioSampleRate, AudioChannels)
}

// V4l2CapturePipeline grabs BGR frames from a local camera at a fixed size.
func V4l2CapturePipeline(device string, width int, height int, framerate int) string {
	pipelinearr := []string{
		"v4l2src",
		"device=" + device,
		"!",

		"videoconvert",
		"!",

		"videoscale",
		"!",

		"videorate",
		"!",

		fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/1", width, height, framerate),
		"!",

		"appsink",
		"name=appsink",
		"max-buffers=1",
		"drop=true",
		"sync=false",
	}
	return strings.Join(pipelinearr, " ")
}

// AudioCapturePipeline delivers mono 48kHz S16LE PCM from the default input device.
func AudioCapturePipeline() string {
	pipelinearr := []string{
		"autoaudiosrc",
		"!",
		"audioconvert",
		"!",
		"audioresample",
		"!",
		rawAudioCaps(),
		"!",
		"appsink",
		"name=appsink",
		"sync=false",
	}
	return strings.Join(pipelinearr, " ")
}

// VideoEncodePipeline takes packed RGB frames on appsrc and emits encoded frames on appsink.
func VideoEncodePipeline(encoder string, width int, height int, framerate int, bitrate int, threads int) string {
	pipelinearr := []string{
		"appsrc",
		"name=appsrc",
		"is-live=true",
		"format=time",
		fmt.Sprintf("caps=\"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1\"", width, height, framerate),
		"!",

		"videoconvert",
		"!",

		"queue2",
		"max-size-buffers=0",
		"max-size-bytes=0",
		"max-size-time=" + strconv.Itoa((1000000000/max(framerate, 1))*2),
		"!",
	}

	switch encoder {
	case "h264":
		pipelinearr = append(pipelinearr,
			"openh264enc",
			"enable-frame-skip=true",
			"deblocking=1",
			"bitrate="+strconv.Itoa(bitrate),
			"complexity=0",
			"multi-thread="+strconv.Itoa(threads),
			"qp-max=40",
			"slice-mode=5",
			"!",

			"h264parse",
			"config-interval=-1",
			"!",
		)
	default:
		pipelinearr = append(pipelinearr,
			"vp8enc",
			"threads="+strconv.Itoa(threads),
			"deadline=1",
			"max-quantizer=40",
			"min-quantizer=4",
			"keyframe-max-dist="+strconv.Itoa(max(framerate, 1)*2),
			"target-bitrate="+strconv.Itoa(bitrate),
			"!",
		)
	}

	pipelinearr = append(pipelinearr,
		"appsink",
		"name=appsink",
		"sync=false",
	)
	return strings.Join(pipelinearr, " ")
}

// AudioEncodePipeline takes 20ms PCM blocks on appsrc and emits opus frames on appsink.
func AudioEncodePipeline() string {
	pipelinearr := []string{
		"appsrc",
		"name=appsrc",
		"is-live=true",
		"format=time",
		fmt.Sprintf("caps=\"%s\"", rawAudioCaps()),
		"!",
		"audioconvert",
		"!",
		"opusenc",
		"frame-size=20",
		"bitrate=64000",
		"!",
		"appsink",
		"name=appsink",
		"sync=false",
	}
	return strings.Join(pipelinearr, " ")
}

func max(a int, b int) int {
	if a > b {
		return a
	}
	return b
}
