package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlMessageRoundTrip(t *testing.T) {
	msg := Connect([]string{"pty", "color"})

	raw, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeConnect, decoded.Type)
	assert.Equal(t, []string{"pty", "color"}, decoded.Capabilities)
}

func TestDecodeMalformedLineReturnsDecodeError(t *testing.T) {
	_, err := DecodeMessage([]byte("{not json"))
	require.Error(t, err)
	var decodeErr *DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestToolIDValid(t *testing.T) {
	assert.True(t, ToolID("12345-001").Valid())
	assert.True(t, ToolID("1-123456").Valid())
	assert.False(t, ToolID("12345-1").Valid())
	assert.False(t, ToolID("bogus").Valid())
}

func TestAddressPath(t *testing.T) {
	addr := NewAddress("/tmp/gbe-1-001.sock")
	path, err := addr.Path()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/gbe-1-001.sock", path)

	_, err = Address("/tmp/no-scheme").Path()
	assert.Error(t, err)
}
