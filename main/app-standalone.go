package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rosstream/main/rtc"
	"rosstream/main/utils"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

func runIceCheck(config utils.Config) int {
	api, err := rtc.SetupApi()
	if err != nil {
		log.Err(err).Msg("Failed to setup webrtc api")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*config.IceGatherTimeout)
	defer cancel()

	result, err := rtc.CheckIce(ctx, api, rtc.ToWebrtcServers(rtc.ResolveIceServers(config)))
	if err != nil {
		log.Warn().Err(err).Msg("ICE gathering incomplete")
	}
	log.Info().
		Int("host", result.Host()).
		Int("srflx", result.Srflx()).
		Int("relay", result.Relay()).
		Msg("ICE check finished")

	if result.Srflx() == 0 && result.Relay() == 0 {
		log.Warn().Msg("No server reflexive or relay candidates, remote peers may not connect")
		return 1
	}
	return 0
}

func main() {

	checkIce := false
	for _, arg := range os.Args[1:] {
		if arg == "check-ice" {
			checkIce = true
			continue
		}
		godotenv.Load(arg)
	}

	if os.Getenv("GO_ENV") != "release" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	config := utils.GetConfig()

	if checkIce {
		os.Exit(runIceCheck(config))
	}

	app, err := StartWrtcServer(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}

	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	<-quitChannel

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	app.Stop(ctx)
}
