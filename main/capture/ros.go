package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// FrameSink receives frames pushed by a camera source.
type FrameSink interface {
	Update(frame *Frame) bool
}

type rosImage struct {
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	Encoding    string `json:"encoding"`
	IsBigendian int    `json:"is_bigendian"`
	Step        int    `json:"step"`
	Data        []byte `json:"data"`
}

type rosbridgeOp struct {
	Op          string    `json:"op"`
	ID          string    `json:"id,omitempty"`
	Topic       string    `json:"topic"`
	Type        string    `json:"type,omitempty"`
	QueueLength int       `json:"queue_length,omitempty"`
	Msg         *rosImage `json:"msg,omitempty"`
}

var ErrUnsupportedEncoding = errors.New("unsupported image encoding")

// decodeImage converts a sensor_msgs/Image into a packed BGR frame.
func decodeImage(msg *rosImage) (*Frame, error) {
	if msg.Width <= 0 || msg.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", msg.Width, msg.Height)
	}

	var channels int
	switch msg.Encoding {
	case "bgr8", "rgb8":
		channels = 3
	case "mono8":
		channels = 1
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, msg.Encoding)
	}

	step := msg.Step
	if step == 0 {
		step = msg.Width * channels
	}
	if step < msg.Width*channels || len(msg.Data) < step*msg.Height {
		return nil, fmt.Errorf("image data too short: %d bytes for %dx%d step %d", len(msg.Data), msg.Width, msg.Height, step)
	}

	frame := NewFrame(msg.Width, msg.Height)
	for y := 0; y < msg.Height; y++ {
		row := msg.Data[y*step : y*step+msg.Width*channels]
		out := frame.Pix[y*msg.Width*3 : (y+1)*msg.Width*3]
		switch msg.Encoding {
		case "bgr8":
			copy(out, row)
		case "rgb8":
			for p := 0; p < len(row); p += 3 {
				out[p] = row[p+2]
				out[p+1] = row[p+1]
				out[p+2] = row[p]
			}
		case "mono8":
			for x, v := range row {
				out[x*3] = v
				out[x*3+1] = v
				out[x*3+2] = v
			}
		}
	}
	return frame, nil
}

// RosbridgeSource subscribes to a sensor_msgs/Image topic through a
// rosbridge websocket server and pushes decoded frames into a sink.
type RosbridgeSource struct {
	Url   string
	Topic string
	Sink  FrameSink
}

func NewRosbridgeSource(url string, topic string, sink FrameSink) *RosbridgeSource {
	return &RosbridgeSource{Url: url, Topic: topic, Sink: sink}
}

// Run keeps the subscription alive until ctx is cancelled.
func (r *RosbridgeSource) Run(ctx context.Context) {
	for {
		err := r.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("url", r.Url).Str("topic", r.Topic).Msg("Image subscription lost, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *RosbridgeSource) subscribe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.Url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	subscribe := rosbridgeOp{
		Op:          "subscribe",
		ID:          "rosstream:" + r.Topic,
		Topic:       r.Topic,
		Type:        "sensor_msgs/msg/Image",
		QueueLength: 1,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return err
	}
	log.Info().Str("topic", r.Topic).Msg("Subscribed to image topic")

	for {
		var op rosbridgeOp
		if err := conn.ReadJSON(&op); err != nil {
			return err
		}
		if op.Op != "publish" || op.Msg == nil {
			continue
		}
		frame, err := decodeImage(op.Msg)
		if err != nil {
			log.Warn().Err(err).Msg("Dropping image message")
			continue
		}
		r.Sink.Update(frame)
	}
}
