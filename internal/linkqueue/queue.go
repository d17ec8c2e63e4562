// Package linkqueue implements the outbound message queue (C4): ACK
// tracking, bounded retries, and offline buffering for the secure link
// layer.
package linkqueue

import (
	"context"
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/cryptoframe"
	"github.com/acmis/benchcontroller/internal/obsmetrics"
	"github.com/acmis/benchcontroller/pkg/logger"
)

const (
	AckTimeout     = 3 * time.Second
	MaxRetries     = 3
	DispatchPeriod = 100 * time.Millisecond
)

// MessageStatus is the lifecycle state of an OutgoingMessage.
type MessageStatus string

const (
	StatusPending       MessageStatus = "PENDING"
	StatusSent          MessageStatus = "SENT"
	StatusAcked         MessageStatus = "ACKED"
	StatusFailed        MessageStatus = "FAILED"
	StatusQueuedOffline MessageStatus = "QUEUED_OFFLINE"
)

// OutgoingMessage tracks one queued payload from enqueue to ACK or
// permanent failure.
type OutgoingMessage struct {
	Payload   map[string]interface{}
	Status    MessageStatus
	Seq       uint16
	Retries   int
	CreatedAt time.Time
	SentAt    time.Time

	done    chan struct{}
	success bool
	mu      sync.Mutex
}

func newOutgoingMessage(payload map[string]interface{}) *OutgoingMessage {
	return &OutgoingMessage{
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (m *OutgoingMessage) complete(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
		return // already completed
	default:
		m.success = success
		close(m.done)
	}
}

// Wait blocks until the message is ACKed or permanently failed, or ctx is
// done, returning whether delivery succeeded.
func (m *OutgoingMessage) Wait(ctx context.Context) bool {
	select {
	case <-m.done:
		return m.success
	case <-ctx.Done():
		return false
	}
}

// SendFunc transmits an already-encoded frame and reports whether the
// transport accepted it.
type SendFunc func(frame []byte) bool

// ReceiveFunc is invoked for every inbound payload that is not itself an
// ACK.
type ReceiveFunc func(payload map[string]interface{})

// Queue is the bench's outbound dispatcher and inbound ACK/replay tracker.
type Queue struct {
	deviceID uint32
	aesKey   []byte
	hmacKey  []byte
	send     SendFunc
	onRecv   ReceiveFunc
	seqCtr   *cryptoframe.SequenceCounter
	log      *logger.Logger
	metrics  *obsmetrics.Metrics

	mu           sync.Mutex
	outbound     []*OutgoingMessage
	offline      []*OutgoingMessage
	pendingAcks  map[uint16]*OutgoingMessage
	online       bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config configures a new Queue.
type Config struct {
	DeviceID uint32
	AESKey   []byte
	HMACKey  []byte
	Send     SendFunc
	OnRecv   ReceiveFunc
	Log      *logger.Logger
	Metrics  *obsmetrics.Metrics
}

// New constructs a Queue, initially online.
func New(cfg Config) *Queue {
	return &Queue{
		deviceID:    cfg.DeviceID,
		aesKey:      cfg.AESKey,
		hmacKey:     cfg.HMACKey,
		send:        cfg.Send,
		onRecv:      cfg.OnRecv,
		seqCtr:      cryptoframe.NewSequenceCounter(),
		log:         cfg.Log,
		metrics:     cfg.Metrics,
		pendingAcks: make(map[uint16]*OutgoingMessage),
		online:      true,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the 100ms dispatch loop.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.dispatchLoop()
}

// Stop halts the dispatch loop and waits for it to exit.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// Send enqueues payload for delivery and returns the tracking record
// immediately.
func (q *Queue) Send(payload map[string]interface{}) *OutgoingMessage {
	msg := newOutgoingMessage(payload)

	q.mu.Lock()
	if q.online {
		q.outbound = append(q.outbound, msg)
	} else {
		msg.Status = StatusQueuedOffline
		q.offline = append(q.offline, msg)
	}
	q.mu.Unlock()
	q.reportDepth()
	return msg
}

// reportDepth publishes the current outbound+pending-ack depth, the sum a
// caller cares about when judging whether the link is keeping up.
func (q *Queue) reportDepth() {
	if q.metrics == nil {
		return
	}
	q.mu.Lock()
	depth := len(q.outbound) + len(q.pendingAcks)
	q.mu.Unlock()
	q.metrics.SetQueueDepth(depth)
}

// SendAndWait enqueues payload and blocks until it is ACKed, permanently
// fails, or timeout elapses.
func (q *Queue) SendAndWait(ctx context.Context, payload map[string]interface{}, timeout time.Duration) bool {
	msg := q.Send(payload)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return msg.Wait(ctx)
}

// SetLinkOnline transitions the link's online flag. On a false→true
// transition, the offline buffer drains back into the outbound queue with
// retry counts reset.
func (q *Queue) SetLinkOnline(online bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	wasOffline := !q.online
	q.online = online

	if online && wasOffline && len(q.offline) > 0 {
		for _, msg := range q.offline {
			msg.Status = StatusPending
			msg.Retries = 0
			q.outbound = append(q.outbound, msg)
		}
		q.offline = nil
	}
}

// ReceiveFrame decodes an inbound frame, applies replay protection, and
// either resolves a pending ACK or dispatches to the receive handler.
func (q *Queue) ReceiveFrame(frame []byte) error {
	decoded, err := cryptoframe.Decode(frame, q.aesKey, q.hmacKey)
	if err != nil {
		if q.log != nil {
			q.log.WithField("error", err).Warn("discarding undecodable frame")
		}
		if q.metrics != nil {
			q.metrics.RecordFrame("inbound", "undecodable")
		}
		return nil // decode failures never propagate further, per design
	}

	if !q.seqCtr.CheckAndUpdate(decoded.DeviceID, decoded.Seq, decoded.Timestamp, time.Now()) {
		if q.log != nil {
			q.log.WithField("device_id", decoded.DeviceID).WithField("seq", decoded.Seq).Warn("rejected frame by replay protection")
		}
		if q.metrics != nil {
			q.metrics.RecordFrame("inbound", "replay_rejected")
		}
		return nil
	}

	if q.metrics != nil {
		q.metrics.RecordFrame("inbound", "ok")
	}

	if ackSeq, isAck := extractAckSeq(decoded.Payload); isAck {
		q.resolveAck(ackSeq)
		return nil
	}

	if q.onRecv != nil {
		q.onRecv(decoded.Payload)
	}
	return nil
}

func extractAckSeq(payload map[string]interface{}) (uint16, bool) {
	cmd, _ := payload["command"].(string)
	if len(cmd) > 4 && cmd[len(cmd)-4:] == "_ACK" {
		if v, ok := numericAckSeq(payload); ok {
			return v, true
		}
		return 0, true
	}
	if ack, ok := payload["ack"].(bool); ok && ack {
		if v, ok := numericAckSeq(payload); ok {
			return v, true
		}
	}
	return 0, false
}

func numericAckSeq(payload map[string]interface{}) (uint16, bool) {
	v, ok := payload["ack_seq"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return uint16(n), true
	case int:
		return uint16(n), true
	}
	return 0, false
}

func (q *Queue) resolveAck(seq uint16) {
	q.mu.Lock()
	msg, ok := q.pendingAcks[seq]
	if ok {
		delete(q.pendingAcks, seq)
	}
	q.mu.Unlock()

	if ok {
		msg.Status = StatusAcked
		msg.complete(true)
		if q.metrics != nil {
			q.metrics.RecordFrame("outbound", "acked")
		}
		q.reportDepth()
	}
}

func (q *Queue) dispatchLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(DispatchPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.dispatchOnce()
			q.checkTimeouts()
		}
	}
}

func (q *Queue) dispatchOnce() {
	q.mu.Lock()
	if len(q.outbound) == 0 {
		q.mu.Unlock()
		return
	}
	msg := q.outbound[0]
	q.outbound = q.outbound[1:]
	q.mu.Unlock()

	seq := q.seqCtr.Next()
	frame, err := cryptoframe.Encode(msg.Payload, q.deviceID, seq, q.aesKey, q.hmacKey, time.Now())
	if err != nil {
		q.retryOrFail(msg)
		return
	}

	if q.send(frame) {
		msg.Seq = seq
		msg.Status = StatusSent
		msg.SentAt = time.Now()
		q.mu.Lock()
		q.pendingAcks[seq] = msg
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.RecordFrame("outbound", "sent")
		}
		q.reportDepth()
		return
	}

	q.retryOrFail(msg)
}

func (q *Queue) retryOrFail(msg *OutgoingMessage) {
	msg.Retries++
	if msg.Retries >= MaxRetries {
		msg.Status = StatusFailed
		msg.complete(false)
		if q.metrics != nil {
			q.metrics.RecordFrame("outbound", "failed")
		}
		q.reportDepth()
		return
	}
	msg.Status = StatusPending
	q.mu.Lock()
	q.outbound = append([]*OutgoingMessage{msg}, q.outbound...)
	q.mu.Unlock()
	q.reportDepth()
}

func (q *Queue) checkTimeouts() {
	now := time.Now()

	q.mu.Lock()
	var expired []*OutgoingMessage
	for seq, msg := range q.pendingAcks {
		if now.Sub(msg.SentAt) > AckTimeout {
			delete(q.pendingAcks, seq)
			expired = append(expired, msg)
		}
	}
	q.mu.Unlock()

	for _, msg := range expired {
		q.retryOrFail(msg)
	}
}
