// Package link implements the secure link service (C5): the bench-facing
// boundary between the control plane and the lab's radio channel. It owns
// framing, fragmentation/reassembly, auto-acknowledgement, and link health,
// and is the sole consumer of the hardware backend's LoRa methods.
package link

import (
	"context"
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/cryptoframe"
	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/acmis/benchcontroller/internal/linkqueue"
	"github.com/acmis/benchcontroller/internal/obsmetrics"
	"github.com/acmis/benchcontroller/internal/ratectl"
	"github.com/acmis/benchcontroller/pkg/logger"
)

const (
	heartbeatInterval = 30 * time.Second
	degradedAfter      = 3 * heartbeatInterval
	historySize        = 200
	cleanupPeriod      = 1 * time.Second
)

// HealthState summarizes the link's operational status for diagnostics.
type HealthState string

const (
	HealthStopped  HealthState = "stopped"
	HealthOffline  HealthState = "offline"
	HealthDegraded HealthState = "degraded"
	HealthOnline   HealthState = "online"
)

// HistoryEntry records one framed transmission or reception for the
// diagnostics surface's recent-activity view.
type HistoryEntry struct {
	Direction string // "tx" | "rx"
	Command   string
	At        time.Time
}

// HandlerFunc processes one decoded inbound command payload.
type HandlerFunc func(payload map[string]interface{})

// Service is the bench-side secure link endpoint.
type Service struct {
	deviceID uint32
	queue    *linkqueue.Queue
	backend  hardware.Backend
	reasm    *cryptoframe.Reassembler
	log      *logger.Logger
	limiter  *ratectl.Limiter

	mu              sync.Mutex
	handlers        map[string]HandlerFunc
	history         []HistoryEntry
	lastHeartbeat   time.Time
	groupCounter    uint8
	stopCh          chan struct{}
	wg              sync.WaitGroup
	started         bool
}

// Config configures a new link Service.
type Config struct {
	DeviceID uint32
	AESKey   []byte
	HMACKey  []byte
	Backend  hardware.Backend
	Log      *logger.Logger
	Metrics  *obsmetrics.Metrics
	// RateLimit overrides the outbound duty-cycle limiter; zero value uses
	// ratectl.DefaultConfig().
	RateLimit ratectl.Config
}

// New constructs a Service atop the given hardware backend. The queue's
// SendFunc and OnRecv hooks are wired internally; callers only register
// command handlers via On.
func New(cfg Config) *Service {
	rateCfg := cfg.RateLimit
	if rateCfg.RatePerSecond == 0 {
		rateCfg = ratectl.DefaultConfig()
	}

	s := &Service{
		deviceID: cfg.DeviceID,
		backend:  cfg.Backend,
		reasm:    cryptoframe.NewReassembler(),
		log:      cfg.Log,
		limiter:  ratectl.New(rateCfg),
		handlers: make(map[string]HandlerFunc),
		stopCh:   make(chan struct{}),
	}

	s.queue = linkqueue.New(linkqueue.Config{
		DeviceID: cfg.DeviceID,
		AESKey:   cfg.AESKey,
		HMACKey:  cfg.HMACKey,
		Log:      cfg.Log,
		Metrics:  cfg.Metrics,
		Send:     s.transmit,
		OnRecv:   s.dispatch,
	})

	// Auto-ACK policy: these commands are acknowledged before the
	// registered handler (if any) runs, per the bench's link contract.
	s.On("START_TEST", func(map[string]interface{}) {})
	s.On("EMERGENCY_STOP", func(map[string]interface{}) {})

	return s
}

// On registers (or replaces) the handler for an inbound command name.
func (s *Service) On(command string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = fn
}

// Start launches the outbound dispatch loop, the inbound radio listener,
// the heartbeat ticker, and fragment-group cleanup.
func (s *Service) Start() {
	s.mu.Lock()
	s.started = true
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()

	s.queue.Start()
	s.wg.Add(3)
	go s.receiveLoop()
	go s.heartbeatLoop()
	go s.cleanupLoop()
}

// Stop halts every background loop and drains the outbound queue.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.queue.Stop()
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

func (s *Service) transmit(frame []byte) bool {
	s.mu.Lock()
	groupID := s.groupCounter
	s.groupCounter++
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok := true
	for _, frag := range cryptoframe.Split(frame, groupID) {
		if err := s.limiter.Wait(ctx); err != nil {
			ok = false
			break
		}
		if !s.backend.LoRaSend(ctx, frag.ToBytes()) {
			ok = false
		}
	}
	return ok
}

func (s *Service) receiveLoop() {
	defer s.wg.Done()
	ch := s.backend.LoRaReceive()
	for {
		select {
		case <-s.stopCh:
			return
		case raw := <-ch:
			frag, err := cryptoframe.FragmentFromBytes(raw)
			if err != nil {
				if s.log != nil {
					s.log.WithField("error", err).Warn("discarding malformed fragment")
				}
				continue
			}
			if frame := s.reasm.Add(frag); frame != nil {
				_ = s.queue.ReceiveFrame(frame)
			}
		}
	}
}

func (s *Service) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.queue.Send(map[string]interface{}{"command": "HEARTBEAT"})
			s.mu.Lock()
			s.lastHeartbeat = time.Now()
			s.mu.Unlock()
		}
	}
}

func (s *Service) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reasm.CleanupStale()
		}
	}
}

func (s *Service) dispatch(payload map[string]interface{}) {
	cmd, _ := payload["command"].(string)

	s.recordHistory("rx", cmd)

	switch cmd {
	case "START_TEST":
		s.sendAck("START_TEST_ACK", payload)
	case "EMERGENCY_STOP":
		s.sendAck("EMERGENCY_ACK", payload)
	}

	s.mu.Lock()
	handler := s.handlers[cmd]
	s.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

func (s *Service) sendAck(ackCommand string, original map[string]interface{}) {
	ack := map[string]interface{}{"command": ackCommand}
	if id, ok := original["request_id"]; ok {
		ack["request_id"] = id
	}
	s.Send(ack)
}

// Send enqueues a payload for transmission without blocking for
// acknowledgement.
func (s *Service) Send(payload map[string]interface{}) *linkqueue.OutgoingMessage {
	if cmd, ok := payload["command"].(string); ok {
		s.recordHistory("tx", cmd)
	}
	return s.queue.Send(payload)
}

// SendAndWait enqueues a payload and blocks until ACKed, failed, or timeout.
func (s *Service) SendAndWait(ctx context.Context, payload map[string]interface{}, timeout time.Duration) bool {
	if cmd, ok := payload["command"].(string); ok {
		s.recordHistory("tx", cmd)
	}
	return s.queue.SendAndWait(ctx, payload, timeout)
}

func (s *Service) recordHistory(direction, command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryEntry{Direction: direction, Command: command, At: time.Now()})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

// History returns a copy of the most recent transmissions and receptions,
// oldest first.
func (s *Service) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// SetOnline mirrors link-layer connectivity into the outbound queue.
func (s *Service) SetOnline(online bool) {
	s.queue.SetLinkOnline(online)
}

// Health derives the link's current health from whether it is running, a
// heartbeat has gone out recently, and the backend's LoRa bridge reports
// online.
func (s *Service) Health() HealthState {
	s.mu.Lock()
	started := s.started
	last := s.lastHeartbeat
	s.mu.Unlock()

	if !started {
		return HealthStopped
	}
	if !s.backend.Online().LoRa {
		return HealthOffline
	}
	if time.Since(last) > degradedAfter {
		return HealthDegraded
	}
	return HealthOnline
}
