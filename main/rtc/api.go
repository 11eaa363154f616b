package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// SetupApi registers the codecs the streamer sends plus the default
// interceptors (NACK, RTCP reports) used for the RTT feed.
func SetupApi() (*webrtc.API, error) {
	engine := &webrtc.MediaEngine{}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(engine, i); err != nil {
		return nil, err
	}

	videoFeedback := []webrtc.RTCPFeedback{
		{Type: webrtc.TypeRTCPFBNACK},
		{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
		{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
	}

	codecs := []struct {
		params webrtc.RTPCodecParameters
		kind   webrtc.RTPCodecType
	}{
		{
			webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:     webrtc.MimeTypeVP8,
					ClockRate:    90000,
					RTCPFeedback: videoFeedback,
				},
				PayloadType: 96,
			},
			webrtc.RTPCodecTypeVideo,
		},
		{
			webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:     webrtc.MimeTypeH264,
					ClockRate:    90000,
					SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
					RTCPFeedback: videoFeedback,
				},
				PayloadType: 102,
			},
			webrtc.RTPCodecTypeVideo,
		},
		{
			webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:    webrtc.MimeTypeOpus,
					ClockRate:   48000,
					Channels:    2,
					SDPFmtpLine: "minptime=10;useinbandfec=1",
				},
				PayloadType: 111,
			},
			webrtc.RTPCodecTypeAudio,
		},
	}

	for _, codec := range codecs {
		if err := engine.RegisterCodec(codec.params, codec.kind); err != nil {
			return nil, err
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(engine),
		webrtc.WithInterceptorRegistry(i),
	), nil
}

// EngineFactory creates a fresh engine connection per session.
type EngineFactory func() (Engine, error)

func NewEngineFactory(api *webrtc.API, iceServers []webrtc.ICEServer) EngineFactory {
	return func() (Engine, error) {
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
		if err != nil {
			return nil, err
		}
		return pc, nil
	}
}
