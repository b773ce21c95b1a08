package cdap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestADATARoundTripSmallPayloadUncompressed(t *testing.T) {
	inner := &Message{Op: MCreate, InvokeID: 7, ObjClass: "lowerflow", ObjValue: []byte("short")}
	a := &ADATA{SrcAddr: 1, DstAddr: 2, Inner: inner}

	outer, err := a.Wrap()
	require.NoError(t, err)
	require.Equal(t, byte(0), outer.ObjValue[8])

	got, err := Unwrap(outer)
	require.NoError(t, err)
	require.Equal(t, a.SrcAddr, got.SrcAddr)
	require.Equal(t, a.DstAddr, got.DstAddr)
	require.Equal(t, inner.ObjValue, got.Inner.ObjValue)
	require.Equal(t, inner.ObjClass, got.Inner.ObjClass)
}

func TestADATARoundTripLargePayloadCompressed(t *testing.T) {
	big := strings.Repeat("lowerflow-row-", 64)
	inner := &Message{Op: MCreate, InvokeID: 9, ObjClass: "dft", ObjValue: []byte(big)}
	a := &ADATA{SrcAddr: 10, DstAddr: 20, Inner: inner}

	outer, err := a.Wrap()
	require.NoError(t, err)
	require.Equal(t, byte(1), outer.ObjValue[8])
	require.Less(t, len(outer.ObjValue), len(big))

	got, err := Unwrap(outer)
	require.NoError(t, err)
	require.Equal(t, inner.ObjValue, got.Inner.ObjValue)
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := &Message{Op: MCreateR, InvokeID: 42, ObjClass: "dft", ObjName: "echo-server", Result: 0, ObjValue: []byte{1, 2, 3}}
	var buf strings.Builder
	require.NoError(t, msg.Encode(&buf))

	got, err := decodeBody([]byte(buf.String())[4:])
	require.NoError(t, err)
	require.Equal(t, msg.Op, got.Op)
	require.Equal(t, msg.InvokeID, got.InvokeID)
	require.Equal(t, msg.ObjClass, got.ObjClass)
	require.Equal(t, msg.ObjName, got.ObjName)
	require.Equal(t, msg.ObjValue, got.ObjValue)
}
