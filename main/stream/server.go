package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"rosstream/main/quality"
	"rosstream/main/rtc"
	"rosstream/main/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

const DefaultRequestResolution = "1280x720"

const DefaultGatherTimeout = 5 * time.Second

type OfferRequest struct {
	SDP             string `json:"sdp"`
	Type            string `json:"type"`
	VideoResolution string `json:"video_resolution,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type SessionFactory interface {
	NewSession(id string, transport rtc.Transport, roomID string, signaler rtc.Signaler) (*rtc.PeerSession, error)
}

type QualityControl interface {
	Mode() quality.Mode
	SetManual(resolution quality.Resolution)
}

type ServerConfig struct {
	Addr          string
	Factory       SessionFactory
	Registry      *rtc.Registry
	Quality       QualityControl
	IceServers    []rtc.ICEServer
	StaticRoot    string
	GatherTimeout time.Duration
	CloseTimeout  time.Duration
}

// Server answers one offer per POST /offer and serves the browser client.
type Server struct {
	config ServerConfig
	echo   *echo.Echo
	http   *http.Server
}

func createMux() *echo.Echo {
	e := echo.New()

	e.Use(middleware.Recover())

	return e
}

func NewServer(config ServerConfig) *Server {
	if config.GatherTimeout <= 0 {
		config.GatherTimeout = DefaultGatherTimeout
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = rtc.DefaultCloseTimeout
	}
	if config.IceServers == nil {
		config.IceServers = make([]rtc.ICEServer, 0)
	}

	s := &Server{config: config, echo: createMux()}
	s.http = &http.Server{Addr: config.Addr, Handler: s.echo}

	s.echo.POST("/offer", s.handleOffer)
	s.echo.GET("/ice-config", func(c echo.Context) error {
		log.Info().Msg("client called /ice-config")
		return c.JSON(http.StatusOK, s.config.IceServers)
	})

	if config.StaticRoot != "" {
		s.echo.Use(middleware.StaticWithConfig(middleware.StaticConfig{
			Root:  config.StaticRoot,
			Index: "index.html",
		}))
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("HTTP server listening")

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) handleOffer(c echo.Context) error {
	parsed := utils.ParseBody[OfferRequest](c)
	if parsed.Error != nil {
		return badRequest(c, "malformed request body")
	}
	req := parsed.Value

	offer := rtc.SessionDescriptor{SDP: req.SDP, Type: req.Type}
	if req.Type != "offer" {
		return badRequest(c, fmt.Sprintf("expected type offer, got %q", req.Type))
	}

	resolutionText := req.VideoResolution
	if resolutionText == "" {
		resolutionText = DefaultRequestResolution
	}
	resolution, err := quality.ParseResolution(resolutionText)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if _, err := rtc.ValidateSDP(offer, webrtc.SDPTypeOffer); err != nil {
		return badRequest(c, err.Error())
	}

	if s.config.Quality != nil && s.config.Quality.Mode() == quality.ModeManual {
		s.config.Quality.SetManual(resolution)
	}

	id := fmt.Sprintf("HTTPPeerConnection(%s)", uuid.NewString())
	logger := log.With().Str("sessionId", id).Logger()
	logger.Info().Str("resolution", resolution.String()).Msg("Offer received")

	session, err := s.config.Factory.NewSession(id, rtc.TransportHTTP, "", nil)
	if err != nil {
		logger.Err(err).Msg("Failed to create session")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "could not create session"})
	}
	if err := s.config.Registry.Register(session); err != nil {
		s.closeSession(session)
		logger.Warn().Err(err).Msg("Session rejected")
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.GatherTimeout)
	defer cancel()

	answer, err := session.AcceptOffer(ctx, offer)
	if err != nil {
		s.closeSession(session)
		if errors.Is(err, rtc.ErrInvalidSDP) {
			return badRequest(c, err.Error())
		}
		logger.Err(err).Msg("Negotiation failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "negotiation failed"})
	}

	return c.JSON(http.StatusOK, answer)
}

func (s *Server) closeSession(session *rtc.PeerSession) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.CloseTimeout)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("Session did not close cleanly")
	}
}
