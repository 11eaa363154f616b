package main

import (
	"context"
	"fmt"
	"time"

	"rosstream/main/capture"
	"rosstream/main/media"
	"rosstream/main/quality"
	"rosstream/main/rtc"
	"rosstream/main/signaling"
	"rosstream/main/stream"
	"rosstream/main/utils"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

const audioProbeTimeout = 2 * time.Second

const statsInterval = 30 * time.Second

type App struct {
	streamer *media.Streamer
	registry *rtc.Registry
	server   *stream.Server
	socket   *signaling.SocketTransport
	camera   *capture.V4l2Source
	cancel   context.CancelFunc
}

type streamStats struct {
	frames     *capture.FrameSource
	controller *quality.Controller
	streamer   *media.Streamer
	registry   *rtc.Registry
}

func (s streamStats) log() {
	event := log.Info().
		Bool("camera_frames", s.frames.HasFrame()).
		Uint64("dropped_frames", s.frames.Dropped()).
		Bool("streaming", s.streamer.Running()).
		Int("sessions", s.registry.Len()).
		Str("resolution", s.controller.Policy().Resolution.String())
	if rtt, ok := s.controller.LastRTT(); ok {
		event = event.Float64("rtt_ms", rtt)
	}
	event.Msg("Stream stats")
}

func (s streamStats) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log()
		}
	}
}

func startCamera(ctx context.Context, config utils.Config, frames *capture.FrameSource) *capture.V4l2Source {
	switch config.CameraSource {
	case "rosbridge":
		log.Info().Str("url", config.RosbridgeUrl).Str("topic", config.ImageTopic).Msg("Subscribing to camera topic")
		go capture.NewRosbridgeSource(config.RosbridgeUrl, config.ImageTopic, frames).Run(ctx)
	case "v4l2":
		camera := capture.NewV4l2Source(config.VideoDevice, 1280, 720, quality.DefaultFPS, frames)
		if err := camera.Start(); err != nil {
			log.Warn().Err(err).Str("device", config.VideoDevice).Msg("Camera unavailable, streaming placeholder")
			return nil
		}
		return camera
	case "none":
		log.Info().Msg("No camera source, streaming placeholder")
	default:
		log.Warn().Str("source", config.CameraSource).Msg("Unknown camera source, streaming placeholder")
	}
	return nil
}

func openAudio(config utils.Config) *media.AudioTrackAdapter {
	if !config.AudioEnabled {
		return nil
	}
	device, err := capture.OpenAudioDevice(audioProbeTimeout)
	if err != nil {
		log.Warn().Err(err).Msg("Audio disabled")
		return nil
	}
	return media.NewAudioTrackAdapter(device)
}

func StartWrtcServer(config utils.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	controller := quality.NewController(quality.Mode(config.QualityMode))
	frames := capture.NewFrameSource(controller)
	camera := startCamera(ctx, config, frames)

	videoMimeType := webrtc.MimeTypeVP8
	if config.Encoder == "h264" {
		videoMimeType = webrtc.MimeTypeH264
	}
	encoderConfig := media.EncoderConfig{
		Encoder: config.Encoder,
		Bitrate: config.Bitrate,
		Threads: config.Threads,
	}

	streamer, err := media.NewStreamer(media.StreamerConfig{
		VideoMimeType: videoMimeType,
		Video:         media.NewVideoTrackAdapter(frames, controller),
		Audio:         openAudio(config),
		NewVideoEncoder: func(writer media.SampleWriter) (media.VideoEncoder, error) {
			return media.NewGstVideoEncoder(encoderConfig, writer), nil
		},
		NewAudioEncoder: func(writer media.SampleWriter) (media.AudioEncoder, error) {
			encoder, err := media.NewGstAudioEncoder(writer)
			if err != nil {
				return nil, err
			}
			return encoder, nil
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create streamer: %w", err)
	}

	api, err := rtc.SetupApi()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup webrtc api: %w", err)
	}
	iceServers := rtc.ResolveIceServers(config)

	factory := &rtc.Factory{
		NewEngine: rtc.NewEngineFactory(api, rtc.ToWebrtcServers(iceServers)),
		Tracks:    streamer.Tracks,
		OnRTT: func(rtt time.Duration) {
			controller.Observe(float64(rtt) / float64(time.Millisecond))
		},
	}

	registry := rtc.NewRegistry(config.CloseTimeout)
	registry.OnFirstSession(streamer.Start)
	registry.OnAllClosed(streamer.Stop)

	go streamStats{frames: frames, controller: controller, streamer: streamer, registry: registry}.run(ctx, statsInterval)

	app := &App{
		streamer: streamer,
		registry: registry,
		camera:   camera,
		cancel:   cancel,
	}

	app.server = stream.NewServer(stream.ServerConfig{
		Addr:          fmt.Sprintf("%s:%s", config.HttpHost, config.HttpPort),
		Factory:       factory,
		Registry:      registry,
		Quality:       controller,
		IceServers:    iceServers,
		StaticRoot:    config.StaticRoot,
		GatherTimeout: config.IceGatherTimeout,
		CloseTimeout:  config.CloseTimeout,
	})
	go func() {
		if err := app.server.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	if config.SignalingEnabled {
		app.socket = signaling.NewSocketTransport(config.SignalingServer)
		router := signaling.NewRouter(signaling.RouterConfig{
			RoomID:       config.RoomId,
			Factory:      factory,
			Registry:     registry,
			Emitter:      app.socket,
			CloseTimeout: config.CloseTimeout,
		})
		app.socket.Bind(router, router.Events())
		go func() {
			if err := app.socket.Run(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("Signaling stopped")
			}
		}()
	}

	log.Info().
		Str("nickname", config.Nickname).
		Str("quality", config.QualityMode).
		Str("camera", config.CameraSource).
		Str("encoder", config.Encoder).
		Bool("signaling", config.SignalingEnabled).
		Msg("Streamer ready")

	return app, nil
}

// Stop closes every session, then the transports, then the media pipeline.
func (a *App) Stop(ctx context.Context) {
	a.cancel()

	if err := a.registry.CloseAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Some sessions did not close cleanly")
	}
	if a.socket != nil {
		a.socket.Close()
	}
	if err := a.server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	if a.camera != nil {
		a.camera.Stop()
	}
	a.streamer.Close()
	log.Info().Msg("Shut down")
}
