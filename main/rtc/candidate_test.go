package rtc

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"rosstream/main/utils"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHostCandidate(t *testing.T) {
	record, err := ParseCandidate(hostCandidate)
	require.NoError(t, err)

	assert.Equal(t, IceCandidateRecord{
		Foundation: "842163049",
		Component:  1,
		Protocol:   "udp",
		Priority:   2122260223,
		IP:         "192.168.1.5",
		Port:       54321,
		Type:       "host",
	}, record)
}

func TestParseCandidateVariants(t *testing.T) {
	record, err := ParseCandidate("a=candidate:1 1 UDP 1686052607 203.0.113.7 61000 typ srflx raddr 10.0.0.2 rport 51000 generation 0")
	require.NoError(t, err)
	assert.Equal(t, "udp", record.Protocol)
	assert.Equal(t, "srflx", record.Type)
	assert.Equal(t, "10.0.0.2", record.RelatedAddress)
	assert.Equal(t, 51000, record.RelatedPort)

	record, err = ParseCandidate("candidate:2 1 tcp 1518280447 192.168.1.5 9")
	require.NoError(t, err)
	assert.Equal(t, "unknown", record.Type)
}

func TestParseCandidateErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"candidate:1 1 udp",
		"candidate:1 x udp 1 192.168.1.5 9 typ host",
		"candidate:1 1 udp -5 192.168.1.5 9 typ host",
		"candidate:1 1 udp 1 192.168.1.5 70000 typ host",
		"candidate:1 1 udp 1 192.168.1.5 9 typ srflx raddr 10.0.0.1 rport nope",
	} {
		_, err := ParseCandidate(line)
		assert.ErrorIs(t, err, ErrInvalidCandidate, line)
	}
}

func TestValidateSDP(t *testing.T) {
	desc, err := ValidateSDP(SessionDescriptor{SDP: testSDP, Type: "Offer"}, webrtc.SDPTypeOffer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, desc.Type)

	_, err = ValidateSDP(SessionDescriptor{SDP: "  ", Type: "offer"}, webrtc.SDPTypeOffer)
	assert.ErrorIs(t, err, ErrInvalidSDP)
	_, err = ValidateSDP(SessionDescriptor{SDP: testSDP, Type: "pranswer"}, webrtc.SDPTypeAnswer)
	assert.ErrorIs(t, err, ErrInvalidSDP)
}

func TestIceServersFromConfig(t *testing.T) {
	servers := IceServersFromConfig(utils.Config{
		StunServers:  []string{"stun:stun.l.google.com:19302"},
		TurnServer:   "turn:turn.example.com:3478",
		TurnUsername: "robot",
		TurnPassword: "secret",
	})
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, servers[0].URLs)
	assert.Equal(t, "robot", servers[1].Username)

	converted := ToWebrtcServers(servers)
	assert.Equal(t, webrtc.ICECredentialTypePassword, converted[1].CredentialType)
	assert.Equal(t, "secret", converted[1].Credential)

	assert.Empty(t, IceServersFromConfig(utils.Config{}))
}

func TestResolveIceServersFetchesRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"urls":["turn:relay.example.com:443"],"username":"u","credential":"p"}]`))
	}))
	defer server.Close()

	servers := ResolveIceServers(utils.Config{IceConfigUrl: server.URL, StunServers: []string{"stun:local"}})
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"turn:relay.example.com:443"}, servers[0].URLs)
}

func TestResolveIceServersFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	servers := ResolveIceServers(utils.Config{IceConfigUrl: server.URL, StunServers: []string{"stun:local"}})
	require.Len(t, servers, 1)
	assert.Equal(t, []string{"stun:local"}, servers[0].URLs)
}
