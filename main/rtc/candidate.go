package rtc

import (
	"fmt"
	"strconv"
	"strings"
)

// IceCandidateRecord is the parsed form of an a=candidate line.
type IceCandidateRecord struct {
	Foundation     string
	Component      int
	Protocol       string
	Priority       uint32
	IP             string
	Port           int
	Type           string
	RelatedAddress string
	RelatedPort    int
	SDPMid         string
	SDPMLineIndex  uint16
}

// ParseCandidate parses
//
//	candidate:<foundation> <component> <protocol> <priority> <ip> <port> typ <type> [raddr <addr> rport <port>]
//
// A missing typ yields type "unknown". Unknown trailing attributes are skipped.
func ParseCandidate(line string) (IceCandidateRecord, error) {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "a=")
	line = strings.TrimPrefix(line, "candidate:")

	parts := strings.Fields(line)
	if len(parts) < 6 {
		return IceCandidateRecord{}, fmt.Errorf("%w: expected at least 6 fields, got %d", ErrInvalidCandidate, len(parts))
	}

	component, err := strconv.Atoi(parts[1])
	if err != nil {
		return IceCandidateRecord{}, fmt.Errorf("%w: component %q", ErrInvalidCandidate, parts[1])
	}
	priority, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return IceCandidateRecord{}, fmt.Errorf("%w: priority %q", ErrInvalidCandidate, parts[3])
	}
	port, err := parsePort(parts[5])
	if err != nil {
		return IceCandidateRecord{}, err
	}

	record := IceCandidateRecord{
		Foundation: parts[0],
		Component:  component,
		Protocol:   strings.ToLower(parts[2]),
		Priority:   uint32(priority),
		IP:         parts[4],
		Port:       port,
		Type:       "unknown",
	}

	for i := 6; i+1 < len(parts); i += 2 {
		switch parts[i] {
		case "typ":
			record.Type = parts[i+1]
		case "raddr":
			record.RelatedAddress = parts[i+1]
		case "rport":
			if record.RelatedPort, err = parsePort(parts[i+1]); err != nil {
				return IceCandidateRecord{}, err
			}
		}
	}

	return record, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("%w: port %q", ErrInvalidCandidate, s)
	}
	return port, nil
}
