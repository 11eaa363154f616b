package rtc

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

func ntpTime(t time.Time) uint64 {
	seconds := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return seconds<<32 | frac
}

// compactNTP is the middle 32 bits of the NTP timestamp, the format of LSR.
func compactNTP(t time.Time) uint32 {
	return uint32(ntpTime(t) >> 16)
}

// rttFromReport derives round trip time from a reception report
// (RFC 3550 section 6.4.1). Reports without a sender report reference
// yield nothing.
func rttFromReport(report rtcp.ReceptionReport, now time.Time) (time.Duration, bool) {
	if report.LastSenderReport == 0 {
		return 0, false
	}
	rtt := compactNTP(now) - report.LastSenderReport - report.Delay
	if int32(rtt) < 0 {
		return 0, false
	}
	return time.Duration(rtt) * time.Second / 65536, true
}

func (s *PeerSession) readRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		s.handleRTCP(packets, time.Now())
	}
}

func (s *PeerSession) handleRTCP(packets []rtcp.Packet, now time.Time) {
	for _, packet := range packets {
		var reports []rtcp.ReceptionReport

		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			reports = p.Reports
		case *rtcp.SenderReport:
			reports = p.Reports
		case *rtcp.PictureLossIndication:
			s.logger.Debug().Uint32("ssrc", p.MediaSSRC).Msg("Picture loss indication")
		case *rtcp.FullIntraRequest:
			s.logger.Debug().Uint32("ssrc", p.MediaSSRC).Msg("Full intra request")
		}

		for _, report := range reports {
			rtt, ok := rttFromReport(report, now)
			if !ok {
				continue
			}
			s.logger.Trace().Dur("rtt", rtt).Uint32("ssrc", report.SSRC).Msg("RTT sample")
			if s.onRTT != nil {
				s.onRTT(rtt)
			}
		}
	}
}
