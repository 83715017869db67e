package txn

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/ehrlich-b/go-binder/internal/kioctl"
	"github.com/ehrlich-b/go-binder/internal/wire"
	"github.com/stretchr/testify/require"
)

func encodeReturn(tags ...any) []byte {
	var buf []byte
	put32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	for _, t := range tags {
		switch v := t.(type) {
		case wire.ReturnCode:
			put32(uint32(v))
		case []byte:
			buf = append(buf, v...)
		}
	}
	return buf
}

func TestExecSubmitsAndParsesReturnStream(t *testing.T) {
	dev := kioctl.NewFakeDevice()
	dev.QueueReturn(encodeReturn(wire.BRNoop, wire.BRTransactionComplete))

	cmd := NewCommandBuffer().EnterLooper()
	ret := NewReturnBuffer(0)
	require.NoError(t, Exec(dev, cmd, ret))
	require.Zero(t, cmd.Len(), "expected CommandBuffer reset after Exec")

	values := ret.Values()
	require.Len(t, values, 2)
	require.Equal(t, KindNoop, values[0].Kind)
	require.Equal(t, KindTransactionComplete, values[1].Kind)

	written := dev.WrittenCommands()
	require.Len(t, written, 1)
}

func TestExecAlwaysBlockRetriesAcrossEAGAIN(t *testing.T) {
	dev := kioctl.NewFakeDevice()
	cmd := NewCommandBuffer().EnterLooper()
	ret := NewReturnBuffer(0)

	done := make(chan error, 1)
	go func() {
		done <- ExecAlwaysBlock(dev, cmd, ret)
	}()

	// Give the goroutine time to take its first pass (which must see
	// EAGAIN and fall into PollReadable) before anything is queued.
	time.Sleep(20 * time.Millisecond)
	dev.QueueReturn(encodeReturn(wire.BRNoop))

	require.NoError(t, <-done)
	require.Len(t, ret.Values(), 1)
	require.Equal(t, KindNoop, ret.Values()[0].Kind)
}

func TestExecReturnsWouldBlockOnReadWhenNothingQueued(t *testing.T) {
	dev := kioctl.NewFakeDevice()
	cmd := NewCommandBuffer().EnterLooper()
	ret := NewReturnBuffer(0)

	err := Exec(dev, cmd, ret)
	require.ErrorIs(t, err, ErrWouldBlockOnRead)
	// The write half fully landed, so the buffer is consumed and reset
	// even though the read half reported EAGAIN.
	require.Zero(t, cmd.Len())
}

func TestCommandBufferTransactionEncodesPayload(t *testing.T) {
	cmd := NewCommandBuffer()
	td := &wire.TransactionData{TargetIsHandle: true, TargetHandle: 1, Code: 0x42}
	cmd.Transaction(td, false)
	require.Equal(t, 4+64, cmd.Len())
}

func TestCommandBufferFreeBufferEncodesPointer(t *testing.T) {
	cmd := NewCommandBuffer()
	cmd.FreeBuffer(0xdeadbeef)
	require.Equal(t, 4+8, cmd.Len())
}
