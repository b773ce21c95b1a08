package ctlproto

import (
	"bytes"
	"testing"

	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	orig := &Message{
		Type:    MsgIPCPCreate,
		EventID: 42,
		Names:   []names.Name{names.Parse("N/0/,/,/0")},
		Strings: []string{"normal", "d0"},
	}

	var buf bytes.Buffer
	require.NoError(t, orig.Encode(&buf))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, orig.Type, got.Type)
	require.Equal(t, orig.EventID, got.EventID)
	require.Equal(t, orig.Names, got.Names)
	require.Equal(t, orig.Strings, got.Strings)

	// serialize again and compare bytes, per spec.md §8 round-trip property
	var buf2 bytes.Buffer
	require.NoError(t, got.Encode(&buf2))
	require.True(t, bytes.Equal(buf.Bytes(), buf2.Bytes()))
}

func TestMessageUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{6, 0, 0, 0}) // length prefix = 6 bytes of body
	buf.Write([]byte{0xff, 0xff, 0, 0, 0, 0})
	_, err := Decode(&buf)
	require.Error(t, err)
}

func TestMessageLayoutMismatchFails(t *testing.T) {
	m := &Message{Type: MsgIPCPCreate, EventID: 1} // missing required name/strings
	var buf bytes.Buffer
	require.Error(t, m.Encode(&buf))
}
