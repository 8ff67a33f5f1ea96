package protocol

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequestRegister(t *testing.T) {
	frame, err := EncodeRegister("svc-a")
	require.NoError(t, err)
	require.Len(t, frame, RequestFrameSize)

	req, err := ReadRequest(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, KindRegister, req.Kind)
	assert.Equal(t, "svc-a", req.Name)
}

func TestReadRequestHeartbeat(t *testing.T) {
	frame, err := EncodeHeartbeat("svc-a")
	require.NoError(t, err)

	req, err := ReadRequest(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeat, req.Kind)
	assert.Equal(t, "svc-a", req.Name)
}

func TestReadRequestTrimsWhitespace(t *testing.T) {
	frame := make([]byte, RequestFrameSize)
	copy(frame, "HEARTBEAT| svc-a \x00\x00")

	req, err := ReadRequest(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, "svc-a", req.Name)
}

func TestReadRequestPartialFrame(t *testing.T) {
	// A peer that writes the name and closes early still registers.
	req, err := ReadRequest(strings.NewReader("svc-a"))
	require.NoError(t, err)
	assert.Equal(t, KindRegister, req.Kind)
	assert.Equal(t, "svc-a", req.Name)
}

func TestReadRequestEmpty(t *testing.T) {
	_, err := ReadRequest(strings.NewReader(""))
	assert.ErrorIs(t, err, io.EOF)

	_, err = ReadRequest(bytes.NewReader(make([]byte, RequestFrameSize)))
	assert.ErrorIs(t, err, ErrEmptyFrame)

	frame := make([]byte, RequestFrameSize)
	copy(frame, "HEARTBEAT|")
	_, err = ReadRequest(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrEmptyFrame, "heartbeat with no name")
}

func TestEncodeRejectsOversizedName(t *testing.T) {
	_, err := EncodeRegister(strings.Repeat("x", RequestFrameSize+1))
	assert.ErrorIs(t, err, ErrNameTooLong)

	_, err = EncodeHeartbeat(strings.Repeat("x", RequestFrameSize))
	assert.ErrorIs(t, err, ErrNameTooLong, "prefix counts against the frame")
}

func TestFormatSuccess(t *testing.T) {
	resp := FormatSuccess(net.ParseIP("10.0.0.100"), 9000, 86400)
	assert.Equal(t, "SUCCESS|10.0.0.100|9000|86400\x00", string(resp))
}

func TestFormatFailure(t *testing.T) {
	resp := FormatFailure("service already registered")
	assert.Equal(t, "FAILED|service already registered\x00", string(resp))
}

func TestParseRegisterResponse(t *testing.T) {
	res, err := ParseRegisterResponse([]byte("SUCCESS|10.0.0.100|9000|86400\x00"))
	require.NoError(t, err)
	assert.True(t, res.IP.Equal(net.ParseIP("10.0.0.100")))
	assert.Equal(t, 9000, res.Port)
	assert.Equal(t, 86400, res.LeaseSeconds)
}

func TestParseRegisterResponseFailure(t *testing.T) {
	_, err := ParseRegisterResponse([]byte("FAILED|port pool exhausted\x00"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port pool exhausted")
}

func TestParseRegisterResponseMalformed(t *testing.T) {
	for _, raw := range []string{
		"SUCCESS|10.0.0.100|9000", // missing lease
		"SUCCESS|nonsense|9000|86400",
		"SUCCESS|10.0.0.100|nine|86400",
		"WHAT|EVEN|IS|THIS",
		"",
	} {
		_, err := ParseRegisterResponse([]byte(raw))
		assert.Error(t, err, "input %q", raw)
	}
}

func TestParseHeartbeatResponse(t *testing.T) {
	ok, err := ParseHeartbeatResponse([]byte(HeartbeatOK))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ParseHeartbeatResponse([]byte(HeartbeatFailed))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ParseHeartbeatResponse([]byte("HEARTBEAT_MAYBE"))
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	frame, err := EncodeHeartbeat("some.service.name")
	require.NoError(t, err)

	req, err := ReadRequest(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, &Request{Kind: KindHeartbeat, Name: "some.service.name"}, req)
}
