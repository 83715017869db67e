package binder

import "sync/atomic"

// Metrics accumulates lock-free counters over the lifetime of a
// Runtime. Every field is safe to read concurrently with writers; the
// teacher's Metrics type takes the same atomic-fields-no-mutex shape
// for the same reason, counters are touched on every hot-path call.
type Metrics struct {
	TransactionsSent     atomic.Uint64
	TransactionsOneWay   atomic.Uint64
	RepliesReceived      atomic.Uint64
	TransactionsReceived atomic.Uint64
	BytesSent            atomic.Uint64
	BytesReceived        atomic.Uint64
	DeadReplies          atomic.Uint64
	FailedReplies        atomic.Uint64
	Errors               atomic.Uint64
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) recordSend(oneWay bool, bytes int) {
	m.TransactionsSent.Add(1)
	if oneWay {
		m.TransactionsOneWay.Add(1)
	}
	m.BytesSent.Add(uint64(bytes))
}

func (m *Metrics) recordReply(bytes int) {
	m.RepliesReceived.Add(1)
	m.BytesReceived.Add(uint64(bytes))
}

func (m *Metrics) recordIncoming(bytes int) {
	m.TransactionsReceived.Add(1)
	m.BytesReceived.Add(uint64(bytes))
}

// Snapshot is a point-in-time copy of every counter, safe to log or
// export without further synchronization.
type Snapshot struct {
	TransactionsSent     uint64
	TransactionsOneWay   uint64
	RepliesReceived      uint64
	TransactionsReceived uint64
	BytesSent            uint64
	BytesReceived        uint64
	DeadReplies          uint64
	FailedReplies        uint64
	Errors               uint64
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TransactionsSent:     m.TransactionsSent.Load(),
		TransactionsOneWay:   m.TransactionsOneWay.Load(),
		RepliesReceived:      m.RepliesReceived.Load(),
		TransactionsReceived: m.TransactionsReceived.Load(),
		BytesSent:            m.BytesSent.Load(),
		BytesReceived:        m.BytesReceived.Load(),
		DeadReplies:          m.DeadReplies.Load(),
		FailedReplies:        m.FailedReplies.Load(),
		Errors:               m.Errors.Load(),
	}
}
