// Package protocol implements the registration/heartbeat wire protocol.
//
// Requests are fixed 256-byte frames, null padded, one request per
// connection. The frame is either the bare service name (registration) or
// the name behind a literal prefix (heartbeat):
//
//	0                                      256
//	┌──────────────────────┬────────────────┐
//	│ svc-a                │ 0x00 padding…  │   registration
//	├──────────────────────┼────────────────┤
//	│ HEARTBEAT|svc-a      │ 0x00 padding…  │   heartbeat
//	└──────────────────────┴────────────────┘
//
// Responses are short pipe-delimited ASCII strings:
//
//	SUCCESS|<ip>|<port>|<lease-seconds>\x00   registration accepted
//	FAILED|<reason>\x00                       registration refused
//	HEARTBEAT_OK                              heartbeat accepted (no \x00)
//	HEARTBEAT_FAILED                          heartbeat for unknown name
package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

const (
	// RequestFrameSize is the fixed size of every request frame.
	RequestFrameSize = 256
	// MaxResponseSize bounds the client-side response read.
	MaxResponseSize = 512

	// HeartbeatPrefix marks a request frame as a heartbeat.
	HeartbeatPrefix = "HEARTBEAT|"

	// HeartbeatOK and HeartbeatFailed are the literal heartbeat responses.
	HeartbeatOK     = "HEARTBEAT_OK"
	HeartbeatFailed = "HEARTBEAT_FAILED"

	successToken = "SUCCESS"
	failedToken  = "FAILED"
)

var (
	// ErrEmptyFrame is returned for a frame that decodes to no service name.
	ErrEmptyFrame = errors.New("protocol: empty request frame")
	// ErrNameTooLong is returned when a name cannot fit in a request frame.
	ErrNameTooLong = errors.New("protocol: service name too long")
)

// Kind distinguishes the two request frame forms.
type Kind byte

const (
	KindRegister Kind = iota
	KindHeartbeat
)

func (k Kind) String() string {
	if k == KindHeartbeat {
		return "heartbeat"
	}
	return "register"
}

// Request is one decoded request frame.
type Request struct {
	Kind Kind
	Name string
}

// ReadRequest reads and decodes a single request frame from r.
//
// A peer that closes without sending anything yields io.EOF — the caller
// should drop the connection without responding. A peer that closes after
// sending part of a frame still gets its bytes decoded: the padding is
// semantically empty, so a short frame is not an error.
func ReadRequest(r io.Reader) (*Request, error) {
	buf := make([]byte, RequestFrameSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		// Partial frame: decode the n bytes that arrived.
	}
	return decodeFrame(buf[:n])
}

func decodeFrame(frame []byte) (*Request, error) {
	msg := strings.TrimRight(string(frame), "\x00")
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil, ErrEmptyFrame
	}

	if rest, ok := strings.CutPrefix(msg, HeartbeatPrefix); ok {
		name := strings.TrimSpace(rest)
		if name == "" {
			return nil, ErrEmptyFrame
		}
		return &Request{Kind: KindHeartbeat, Name: name}, nil
	}
	return &Request{Kind: KindRegister, Name: msg}, nil
}

// EncodeRegister builds a registration frame for name.
func EncodeRegister(name string) ([]byte, error) {
	return padFrame(name)
}

// EncodeHeartbeat builds a heartbeat frame for name.
func EncodeHeartbeat(name string) ([]byte, error) {
	return padFrame(HeartbeatPrefix + name)
}

func padFrame(msg string) ([]byte, error) {
	if len(msg) > RequestFrameSize {
		return nil, ErrNameTooLong
	}
	frame := make([]byte, RequestFrameSize)
	copy(frame, msg)
	return frame, nil
}

// FormatSuccess renders the registration success response. The lease is
// advisory: the server enforces expiry only through the heartbeat age.
func FormatSuccess(ip net.IP, port, leaseSeconds int) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d|%d\x00", successToken, ip, port, leaseSeconds))
}

// FormatFailure renders the registration failure response.
func FormatFailure(reason string) []byte {
	return []byte(failedToken + "|" + reason + "\x00")
}

// RegisterResult is the decoded payload of a registration success response.
type RegisterResult struct {
	IP           net.IP
	Port         int
	LeaseSeconds int
}

// ParseRegisterResponse decodes a registration response. A FAILED response
// comes back as an error carrying the server's reason.
func ParseRegisterResponse(data []byte) (RegisterResult, error) {
	msg := strings.TrimRight(string(data), "\x00")
	parts := strings.Split(msg, "|")

	if parts[0] == failedToken {
		reason := "unknown reason"
		if len(parts) > 1 {
			reason = strings.Join(parts[1:], "|")
		}
		return RegisterResult{}, fmt.Errorf("protocol: registration failed: %s", reason)
	}
	if parts[0] != successToken || len(parts) < 4 {
		return RegisterResult{}, fmt.Errorf("protocol: malformed registration response %q", msg)
	}

	ip := net.ParseIP(parts[1])
	if ip == nil {
		return RegisterResult{}, fmt.Errorf("protocol: bad address in response %q", msg)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return RegisterResult{}, fmt.Errorf("protocol: bad port in response %q", msg)
	}
	lease, err := strconv.Atoi(parts[3])
	if err != nil {
		return RegisterResult{}, fmt.Errorf("protocol: bad lease in response %q", msg)
	}
	return RegisterResult{IP: ip, Port: port, LeaseSeconds: lease}, nil
}

// ParseHeartbeatResponse decodes a heartbeat response into an ok flag.
func ParseHeartbeatResponse(data []byte) (bool, error) {
	switch strings.TrimSpace(string(data)) {
	case HeartbeatOK:
		return true, nil
	case HeartbeatFailed:
		return false, nil
	default:
		return false, fmt.Errorf("protocol: malformed heartbeat response %q", data)
	}
}
