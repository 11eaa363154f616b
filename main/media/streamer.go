package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

type StreamerConfig struct {
	VideoMimeType   string
	Video           *VideoTrackAdapter
	Audio           *AudioTrackAdapter
	NewVideoEncoder func(writer SampleWriter) (VideoEncoder, error)
	NewAudioEncoder func(writer SampleWriter) (AudioEncoder, error)
}

// Streamer owns the outbound tracks shared by every session and drives the
// encoders while at least one session is live.
type Streamer struct {
	VideoTrack *webrtc.TrackLocalStaticSample
	AudioTrack *webrtc.TrackLocalStaticSample

	config StreamerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewStreamer(config StreamerConfig) (*Streamer, error) {
	if config.Video == nil {
		return nil, fmt.Errorf("video adapter is required")
	}
	if config.VideoMimeType == "" {
		config.VideoMimeType = webrtc.MimeTypeVP8
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: config.VideoMimeType, ClockRate: VideoClockRate}, "video", "pion")
	if err != nil {
		return nil, err
	}

	streamer := &Streamer{VideoTrack: videoTrack, config: config}

	if config.Audio != nil {
		audioTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: AudioClockRate}, "audio", "pion")
		if err != nil {
			return nil, err
		}
		streamer.AudioTrack = audioTrack
	} else {
		log.Warn().Msg("No audio device, audio track omitted")
	}

	return streamer, nil
}

// Tracks lists the tracks to attach to a new session.
func (s *Streamer) Tracks() []webrtc.TrackLocal {
	tracks := []webrtc.TrackLocal{s.VideoTrack}
	if s.AudioTrack != nil {
		tracks = append(tracks, s.AudioTrack)
	}
	return tracks
}

func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Streamer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.sendVideo(ctx)
	if s.AudioTrack != nil && s.config.NewAudioEncoder != nil {
		s.wg.Add(1)
		go s.sendAudio(ctx)
	}
	log.Info().Msg("Started media streaming")
}

// Stop halts the pumps and waits for them to exit.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("Stopped media streaming")
}

func (s *Streamer) Close() {
	s.Stop()
	if s.config.Audio != nil {
		s.config.Audio.Close()
	}
}

func (s *Streamer) sendVideo(ctx context.Context) {
	defer s.wg.Done()

	encoder, err := s.config.NewVideoEncoder(s.VideoTrack)
	if err != nil {
		log.Err(err).Msg("Failed to create video encoder")
		return
	}
	defer encoder.Close()

	frames := 0
	statsAt := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		frame := s.config.Video.Next()
		timer.Reset(frame.Duration)

		if err := encoder.Encode(frame); err != nil {
			log.Err(err).Msg("Failed to encode video frame")
			continue
		}

		frames++
		if elapsed := time.Since(statsAt); elapsed >= 5*time.Second {
			log.Debug().
				Float64("video_framerate", float64(frames)/elapsed.Seconds()).
				Int("width", frame.Width).
				Int("height", frame.Height).
				Send()
			frames = 0
			statsAt = time.Now()
		}
	}
}

func (s *Streamer) sendAudio(ctx context.Context) {
	defer s.wg.Done()

	encoder, err := s.config.NewAudioEncoder(s.AudioTrack)
	if err != nil {
		log.Err(err).Msg("Failed to create audio encoder")
		return
	}
	defer encoder.Close()

	for ctx.Err() == nil {
		block, err := s.config.Audio.ReadBlock()
		if err != nil {
			log.Err(err).Msg("Audio device read failed")
			return
		}
		if err := encoder.Encode(block); err != nil {
			log.Err(err).Msg("Failed to encode audio block")
		}
	}
}
