package kioctl

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeDeviceWriteReadDrainsQueuedChunks(t *testing.T) {
	d := NewFakeDevice()
	d.QueueReturn([]byte{1, 2, 3})
	d.QueueReturn([]byte{4, 5})

	read := make([]byte, 16)
	_, filled, err := d.WriteRead([]byte("cmd"), read)
	require.NoError(t, err)
	require.Equal(t, 5, filled)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, read[:filled])
}

func TestFakeDeviceWriteReadStopsAtChunkBoundary(t *testing.T) {
	d := NewFakeDevice()
	d.QueueReturn([]byte{1, 2, 3, 4})

	read := make([]byte, 2)
	_, filled, err := d.WriteRead(nil, read)
	require.True(t, err != nil || filled != 0, "expected either an error or zero fill when the chunk can't fit")
	// A too-small buffer must never deliver a partial chunk; the chunk
	// stays queued whole for the next call with more room.
	require.Zero(t, filled)
}

func TestFakeDeviceWriteReadReturnsEAGAINWhenEmpty(t *testing.T) {
	d := NewFakeDevice()
	_, filled, err := d.WriteRead([]byte("cmd"), make([]byte, 16))
	require.Zero(t, filled)
	require.ErrorIs(t, err, syscall.EAGAIN)
}

func TestFakeDeviceWrittenCommandsRecordsEveryWrite(t *testing.T) {
	d := NewFakeDevice()
	d.WriteRead([]byte("one"), nil)
	d.WriteRead([]byte("two"), nil)
	got := d.WrittenCommands()
	require.Len(t, got, 2)
	require.Equal(t, "one", string(got[0]))
	require.Equal(t, "two", string(got[1]))
}

func TestFakeDevicePollReadableWakesOnQueue(t *testing.T) {
	d := NewFakeDevice()
	done := make(chan bool, 1)
	go func() {
		ok, err := d.PollReadable(2000)
		if err != nil {
			t.Error(err)
		}
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	d.QueueReturn([]byte{1})

	select {
	case ok := <-done:
		require.True(t, ok, "expected PollReadable to report readable")
	case <-time.After(time.Second):
		t.Fatal("PollReadable never woke up after QueueReturn")
	}
}

func TestFakeDevicePollReadableTimesOutWhenEmpty(t *testing.T) {
	d := NewFakeDevice()
	ok, err := d.PollReadable(20)
	require.NoError(t, err)
	require.False(t, ok, "expected PollReadable to time out as not-readable")
}
