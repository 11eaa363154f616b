package rtc

import (
	"fmt"
	"net/http"

	"rosstream/main/utils"

	"github.com/go-resty/resty/v2"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

type ICEServer struct {
	URLs           []string    `json:"urls"`
	Username       string      `json:"username,omitempty"`
	Credential     interface{} `json:"credential,omitempty"`
	CredentialType string      `json:"credentialType,omitempty"`
}

func (s ICEServer) toWebrtc() webrtc.ICEServer {
	server := webrtc.ICEServer{
		URLs:       s.URLs,
		Username:   s.Username,
		Credential: s.Credential,
	}
	if s.Credential != nil {
		server.CredentialType = webrtc.ICECredentialTypePassword
	}
	return server
}

// IceServersFromConfig builds the STUN list plus an optional TURN relay.
func IceServersFromConfig(config utils.Config) []ICEServer {
	iceServers := make([]ICEServer, 0, 2)
	if len(config.StunServers) > 0 {
		iceServers = append(iceServers, ICEServer{URLs: config.StunServers})
	}
	if config.TurnServer != "" {
		iceServer := ICEServer{URLs: []string{config.TurnServer}}
		if config.TurnUsername != "" {
			iceServer.Username = config.TurnUsername
		}
		if config.TurnPassword != "" {
			iceServer.Credential = config.TurnPassword
			iceServer.CredentialType = "password"
		}
		iceServers = append(iceServers, iceServer)
	}
	return iceServers
}

// FetchIceServers reads an ice-config document from a signaling server.
func FetchIceServers(url string) ([]ICEServer, error) {
	client := resty.New()
	res, err := client.R().
		SetHeader("Accept", "application/json").
		Get(url)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("ice config %s: status %d", url, res.StatusCode())
	}

	parsed := utils.ParseResponse[[]ICEServer](res)
	if parsed.Error != nil {
		return nil, parsed.Error
	}
	return parsed.Value, nil
}

// ResolveIceServers prefers a remote ice-config when one is configured and
// falls back to the local list if it cannot be fetched.
func ResolveIceServers(config utils.Config) []ICEServer {
	if config.IceConfigUrl != "" {
		servers, err := FetchIceServers(config.IceConfigUrl)
		if err == nil {
			log.Info().Int("count", len(servers)).Str("url", config.IceConfigUrl).Msg("Got ice servers")
			return servers
		}
		log.Warn().Err(err).Msg("Failed to fetch ice servers, using local configuration")
	}
	return IceServersFromConfig(config)
}

func ToWebrtcServers(servers []ICEServer) []webrtc.ICEServer {
	parsedServers := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		parsedServers[i] = server.toWebrtc()
	}
	return parsedServers
}
