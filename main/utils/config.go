package utils

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	HttpHost         string
	HttpPort         string
	StaticRoot       string
	SignalingEnabled bool
	SignalingServer  string
	RoomId           string
	Nickname         string
	QualityMode      string
	CameraSource     string
	RosbridgeUrl     string
	ImageTopic       string
	VideoDevice      string
	AudioEnabled     bool
	Encoder          string
	Bitrate          int
	Threads          int
	StunServers      []string
	TurnServer       string
	TurnUsername     string
	TurnPassword     string
	IceConfigUrl     string
	IceGatherTimeout time.Duration
	CloseTimeout     time.Duration
}

var defaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

var (
	config     *Config
	configOnce sync.Once
)

func lookupString(key string, fallback string, msg string) string {
	value, hasEnv := os.LookupEnv(key)
	if !hasEnv || value == "" {
		if msg != "" {
			log.Info().Msg(msg)
		}
		return fallback
	}
	return value
}

func lookupBool(key string, fallback bool) bool {
	value, hasEnv := os.LookupEnv(key)
	if !hasEnv {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Err(err).Msgf("Failed to parse %s", key)
		return fallback
	}
	return parsed
}

func lookupInt(key string, fallback int, msg string) int {
	value, hasEnv := os.LookupEnv(key)
	if !hasEnv {
		if msg != "" {
			log.Info().Msg(msg)
		}
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Err(err).Msgf("Failed to parse %s", key)
		return fallback
	}
	return parsed
}

func lookupDuration(key string, fallback time.Duration) time.Duration {
	value, hasEnv := os.LookupEnv(key)
	if !hasEnv {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		log.Warn().Str("value", value).Msgf("Invalid %s, defaulting to %s", key, fallback)
		return fallback
	}
	return parsed
}

// LoadConfig reads the configuration from the environment on every call.
func LoadConfig() Config {
	qualityMode := strings.ToLower(lookupString("QUALITY_MODE", "manual", "No quality mode specified, defaulting to manual"))
	if qualityMode != "manual" && qualityMode != "auto" {
		log.Warn().Str("mode", qualityMode).Msg("Invalid quality mode, defaulting to manual")
		qualityMode = "manual"
	}

	cameraSource := strings.ToLower(lookupString("CAMERA_SOURCE", "rosbridge", "No camera source specified, defaulting to rosbridge"))

	encoder := strings.ToLower(lookupString("ENCODER", "vp8", "No encoder specified, defaulting to vp8"))
	if encoder != "vp8" && encoder != "h264" {
		log.Warn().Str("encoder", encoder).Msg("Invalid encoder specified, defaulting to vp8")
		encoder = "vp8"
	}

	stunServers := defaultStunServers
	if stun, hasEnv := os.LookupEnv("STUN_SERVER_URL"); hasEnv && stun != "" {
		stunServers = strings.Split(stun, ",")
	}

	return Config{
		HttpHost:         lookupString("HTTP_HOST", "0.0.0.0", ""),
		HttpPort:         lookupString("HTTP_PORT", "8081", "No http port specified, defaulting to 8081"),
		StaticRoot:       lookupString("STATIC_ROOT", "static", ""),
		SignalingEnabled: lookupBool("SIGNALING_ENABLED", true),
		SignalingServer:  lookupString("SIGNAL_SERVER_URL", "http://localhost:3000", "No signaling server specified, defaulting to http://localhost:3000"),
		RoomId:           lookupString("ROOM_ID", "room1", ""),
		Nickname:         lookupString("NICKNAME", "ROS2Client", ""),
		QualityMode:      qualityMode,
		CameraSource:     cameraSource,
		RosbridgeUrl:     lookupString("ROSBRIDGE_URL", "ws://localhost:9090", ""),
		ImageTopic:       lookupString("IMAGE_TOPIC", "/camera/camera/color/image_raw", ""),
		VideoDevice:      lookupString("VIDEO_DEVICE", "/dev/video0", ""),
		AudioEnabled:     lookupBool("AUDIO_ENABLED", true),
		Encoder:          encoder,
		Bitrate:          lookupInt("BITRATE", 2097152, "No bitrate specified, defaulting to 2Mbps"),
		Threads:          lookupInt("THREADS", 2, ""),
		StunServers:      stunServers,
		TurnServer:       os.Getenv("TURN_SERVER_URL"),
		TurnUsername:     os.Getenv("TURN_SERVER_USERNAME"),
		TurnPassword:     os.Getenv("TURN_SERVER_PASSWORD"),
		IceConfigUrl:     os.Getenv("ICE_CONFIG_URL"),
		IceGatherTimeout: lookupDuration("ICE_GATHER_TIMEOUT", 5*time.Second),
		CloseTimeout:     lookupDuration("CLOSE_TIMEOUT", 3*time.Second),
	}
}

// GetConfig returns the process configuration, read once from the environment.
func GetConfig() Config {
	configOnce.Do(func() {
		c := LoadConfig()
		config = &c
	})
	return *config
}
