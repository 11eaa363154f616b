package capture

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRGBSwapsChannels(t *testing.T) {
	frame := &Frame{Width: 2, Height: 1, Pix: []byte{1, 2, 3, 4, 5, 6}}
	assert.Equal(t, []byte{3, 2, 1, 6, 5, 4}, frame.RGB())
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, frame.Pix)
}

func TestFrameResize(t *testing.T) {
	frame := NewFrame(8, 6)
	for i := 0; i < len(frame.Pix); i += 3 {
		frame.Pix[i] = 10
		frame.Pix[i+1] = 20
		frame.Pix[i+2] = 30
	}

	same := frame.Resize(8, 6)
	assert.Same(t, frame, same)

	scaled := frame.Resize(4, 3)
	require.True(t, scaled.Valid())
	assert.Equal(t, 4, scaled.Width)
	assert.Equal(t, 3, scaled.Height)
	assert.Equal(t, []byte{10, 20, 30}, scaled.Pix[:3])
	assert.Equal(t, frame.Timestamp, scaled.Timestamp)
}

func TestDecodeImageEncodings(t *testing.T) {
	bgr, err := decodeImage(&rosImage{Width: 1, Height: 1, Encoding: "bgr8", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, bgr.Pix)

	rgb, err := decodeImage(&rosImage{Width: 1, Height: 1, Encoding: "rgb8", Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 2, 1}, rgb.Pix)

	mono, err := decodeImage(&rosImage{Width: 2, Height: 1, Encoding: "mono8", Data: []byte{7, 9}})
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 7, 7, 9, 9, 9}, mono.Pix)
}

func TestDecodeImageHonorsStep(t *testing.T) {
	// two rows of one pixel each, padded to four bytes
	msg := &rosImage{Width: 1, Height: 2, Encoding: "bgr8", Step: 4, Data: []byte{1, 2, 3, 0, 4, 5, 6, 0}}
	frame, err := decodeImage(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, frame.Pix)
}

func TestDecodeImageErrors(t *testing.T) {
	_, err := decodeImage(&rosImage{Width: 1, Height: 1, Encoding: "16UC1", Data: []byte{1, 2}})
	assert.True(t, errors.Is(err, ErrUnsupportedEncoding))

	_, err = decodeImage(&rosImage{Width: 2, Height: 2, Encoding: "bgr8", Data: []byte{1, 2, 3}})
	assert.Error(t, err)

	_, err = decodeImage(&rosImage{Width: 0, Height: 2, Encoding: "bgr8"})
	assert.Error(t, err)
}

func TestRosbridgePublishDecodesBase64(t *testing.T) {
	raw := `{"op":"publish","topic":"/camera/camera/color/image_raw","msg":{"height":1,"width":1,"encoding":"rgb8","is_bigendian":0,"step":3,"data":"AQID"}}`
	var op rosbridgeOp
	require.NoError(t, json.Unmarshal([]byte(raw), &op))
	require.NotNil(t, op.Msg)

	frame, err := decodeImage(op.Msg)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 2, 1}, frame.Pix)
}
