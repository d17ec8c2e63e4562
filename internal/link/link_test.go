package link

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/acmis/benchcontroller/internal/cryptoframe"
	"github.com/acmis/benchcontroller/internal/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys() (aesKey, hmacKey []byte) {
	aesKey = make([]byte, 32)
	hmacKey = make([]byte, 32)
	for i := range aesKey {
		aesKey[i] = byte(i)
		hmacKey[i] = byte(255 - i)
	}
	return
}

// loopbackBackend is a minimal hardware.Backend wiring two Services'
// LoRaSend/LoRaReceive together in-process, so link-level tests never touch
// the physics simulator.
type loopbackBackend struct {
	*hardware.Simulator
	peer chan []byte
	out  chan []byte
}

func newLoopbackPair() (*loopbackBackend, *loopbackBackend) {
	a := make(chan []byte, 64)
	b := make(chan []byte, 64)
	return &loopbackBackend{Simulator: hardware.NewSimulator(), peer: b, out: a},
		&loopbackBackend{Simulator: hardware.NewSimulator(), peer: a, out: b}
}

func (l *loopbackBackend) LoRaSend(ctx context.Context, data []byte) bool {
	l.peer <- data
	return true
}

func (l *loopbackBackend) LoRaReceive() <-chan []byte {
	return l.out
}

func (l *loopbackBackend) Online() hardware.BridgeOnline {
	return hardware.BridgeOnline{VFD: true, Meter: true, Scale: true, GPIO: true, Tank: true, LoRa: true}
}

func newTestPair(t *testing.T) (*Service, *Service) {
	aesKey, hmacKey := testKeys()
	backA, backB := newLoopbackPair()

	svcA := New(Config{DeviceID: 1, AESKey: aesKey, HMACKey: hmacKey, Backend: backA})
	svcB := New(Config{DeviceID: 2, AESKey: aesKey, HMACKey: hmacKey, Backend: backB})
	svcA.Start()
	svcB.Start()
	t.Cleanup(func() { svcA.Stop(); svcB.Stop() })
	return svcA, svcB
}

func TestStartTestAutoAcks(t *testing.T) {
	svcA, svcB := newTestPair(t)

	var got map[string]interface{}
	var mu sync.Mutex
	svcB.On("START_TEST", func(p map[string]interface{}) {
		mu.Lock()
		got = p
		mu.Unlock()
	})

	msg := svcA.Send(map[string]interface{}{"command": "START_TEST", "request_id": "r1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.True(t, msg.Wait(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, 10*time.Millisecond)
}

func TestFragmentedLargePayloadReassembles(t *testing.T) {
	svcA, svcB := newTestPair(t)

	big := make([]interface{}, 0, 80)
	for i := 0; i < 80; i++ {
		big = append(big, "padding-element-to-force-fragmentation")
	}

	var got map[string]interface{}
	var mu sync.Mutex
	svcB.On("BULK_DATA", func(p map[string]interface{}) {
		mu.Lock()
		got = p
		mu.Unlock()
	})

	svcA.Send(map[string]interface{}{"command": "BULK_DATA", "items": big})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	items, _ := got["items"].([]interface{})
	assert.Len(t, items, 80)
}

func TestHealthReflectsStartedState(t *testing.T) {
	aesKey, hmacKey := testKeys()
	back := hardware.NewSimulator()
	svc := New(Config{DeviceID: 1, AESKey: aesKey, HMACKey: hmacKey, Backend: back})

	assert.Equal(t, HealthStopped, svc.Health())

	svc.Start()
	defer svc.Stop()
	assert.Equal(t, HealthOnline, svc.Health())
}

func TestSingleFragmentMessageBypassesReassembler(t *testing.T) {
	aesKey, hmacKey := testKeys()
	back := hardware.NewSimulator()
	svc := New(Config{DeviceID: 1, AESKey: aesKey, HMACKey: hmacKey, Backend: back})
	svc.Start()
	defer svc.Stop()

	var got map[string]interface{}
	var mu sync.Mutex
	svc.On("HEARTBEAT", func(p map[string]interface{}) {
		mu.Lock()
		got = p
		mu.Unlock()
	})

	frame, err := cryptoframe.Encode(map[string]interface{}{"command": "HEARTBEAT"}, 9, 1, aesKey, hmacKey, time.Now())
	require.NoError(t, err)
	frag := cryptoframe.Split(frame, 0)[0]
	back.InjectInbound(frag.ToBytes())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, time.Second, 10*time.Millisecond)
}
