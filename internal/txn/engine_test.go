package txn

import (
	"encoding/binary"
	"testing"

	"github.com/ehrlich-b/go-binder/internal/kioctl"
	"github.com/ehrlich-b/go-binder/internal/refs"
	"github.com/ehrlich-b/go-binder/internal/wire"
	"github.com/stretchr/testify/require"
)

func put32(buf *[]byte, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	*buf = append(*buf, b[:]...)
}

func TestEngineBookkeepsAcquireRelease(t *testing.T) {
	local := refs.NewLocalTable()
	token := local.Register("obj")

	dev := kioctl.NewFakeDevice()
	var raw []byte
	put32(&raw, uint32(wire.BRAcquire))
	raw = append(raw, (&wire.PtrCookie{Ptr: token}).MarshalBinary()...)
	dev.QueueReturn(raw)

	e := NewEngine(dev, local, refs.NewRemoteTable(), nil)
	cmd := NewCommandBuffer()
	ret := NewReturnBuffer(0)

	surfaced := 0
	err := e.Run(cmd, ret, func(ReturnValue) error { surfaced++; return nil })
	require.NoError(t, err)
	require.Zero(t, surfaced, "expected BR_ACQUIRE to be fully bookkept")

	_, err = local.Release(token)
	require.NoError(t, err, "expected token to be acquired after bookkeeping")
}

func TestEngineQueuesIncomingTransactionsAsPending(t *testing.T) {
	local := refs.NewLocalTable()
	remote := refs.NewRemoteTable()
	dev := kioctl.NewFakeDevice()

	td := &wire.TransactionData{TargetPtr: 7, Code: 0x99}
	var raw []byte
	put32(&raw, uint32(wire.BRTransaction))
	raw = append(raw, td.MarshalBinary()...)
	dev.QueueReturn(raw)

	e := NewEngine(dev, local, remote, nil)
	cmd := NewCommandBuffer()
	ret := NewReturnBuffer(0)
	require.NoError(t, e.Run(cmd, ret, func(ReturnValue) error { return nil }))

	pending := e.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, uint32(0x99), pending[0].Data.Code)

	more := e.Pending()
	require.Empty(t, more, "expected Pending to drain, second call should be empty")
}

func TestEngineReturnsBRErrorFromRun(t *testing.T) {
	local := refs.NewLocalTable()
	remote := refs.NewRemoteTable()
	dev := kioctl.NewFakeDevice()

	var raw []byte
	put32(&raw, uint32(wire.BRError))
	put32(&raw, uint32(5)) // arbitrary errno payload

	dev.QueueReturn(raw)

	e := NewEngine(dev, local, remote, nil)
	cmd := NewCommandBuffer()
	ret := NewReturnBuffer(0)
	err := e.Run(cmd, ret, func(ReturnValue) error { return nil })
	require.Error(t, err, "expected BR_ERROR to surface as an error from Run")
}

func TestEngineForgetsHandleOnDeadBinder(t *testing.T) {
	local := refs.NewLocalTable()
	remote := refs.NewRemoteTable()
	remote.Acquire(3)

	dev := kioctl.NewFakeDevice()
	var raw []byte
	put32(&raw, uint32(wire.BRDeadBinder))
	var handle [8]byte
	binary.LittleEndian.PutUint64(handle[:], 3)
	raw = append(raw, handle[:]...)
	dev.QueueReturn(raw)

	e := NewEngine(dev, local, remote, nil)
	cmd := NewCommandBuffer()
	ret := NewReturnBuffer(0)
	require.NoError(t, e.Run(cmd, ret, func(ReturnValue) error { return nil }))

	// Forget should have reset bookkeeping; a fresh Acquire reports
	// isFirst again rather than continuing the stale count.
	require.True(t, remote.Acquire(3), "expected handle 3's count to have been forgotten")
}
