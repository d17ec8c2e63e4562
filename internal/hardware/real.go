package hardware

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/acmis/benchcontroller/internal/benchrors"
	"github.com/acmis/benchcontroller/internal/obsmetrics"
	"github.com/acmis/benchcontroller/internal/resilience"
	"github.com/acmis/benchcontroller/pkg/logger"
)

// ChannelPorts names the six serial channels the real backend owns, per
// §4.6: vfd, meter, scale, gpio, tank, lora.
type ChannelPorts struct {
	VFD, Meter, Scale, GPIO, Tank, LoRa string
}

// channel is one line-delimited JSON request/response serial connection. A
// circuit breaker trips after repeated failures so a dead bridge is not
// hammered with a 1s read-timeout on every aggregator tick; once open,
// requests fail fast until the breaker's cooldown elapses.
type channel struct {
	mu   sync.Mutex
	port *os.File
	r    *bufio.Reader
	name string
	log  *logger.Logger
	cb   *resilience.CircuitBreaker
}

func openChannel(name, path string, log *logger.Logger, metrics *obsmetrics.Metrics) *channel {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	c := &channel{
		name: name, port: f, log: log,
		cb: resilience.New(resilience.Config{
			MaxFailures: 3, Timeout: 5 * time.Second, HalfOpenMax: 1,
			OnStateChange: func(_, to resilience.State) {
				if metrics != nil {
					metrics.SetCircuitState(name, to.String())
				}
			},
		}),
	}
	if err == nil {
		c.r = bufio.NewReader(f)
	} else if log != nil {
		log.WithField("channel", name).WithField("path", path).Warn("serial channel unavailable at startup")
	}
	return c
}

// requestRetryConfig covers a single dropped byte or short read on the
// serial line; it is deliberately short so a genuinely dead bridge still
// trips the circuit breaker promptly.
var requestRetryConfig = resilience.RetryConfig{
	MaxAttempts:  2,
	InitialDelay: 20 * time.Millisecond,
	MaxDelay:     50 * time.Millisecond,
	Multiplier:   2.0,
	Jitter:       0.2,
}

// request sends one JSON command line and waits for one JSON response
// line, with a bounded timeout, through the channel's circuit breaker. A
// lone failed round-trip is retried once before it counts against the
// breaker, so one dropped byte doesn't trip a channel that is otherwise
// healthy.
func (c *channel) request(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	var resp map[string]interface{}
	err := c.cb.Execute(ctx, func() error {
		return resilience.Retry(ctx, requestRetryConfig, func() error {
			r, reqErr := c.doRequest(cmd)
			resp = r
			return reqErr
		})
	})
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return nil, benchrors.BusTimeout(c.name)
	}
	return resp, err
}

func (c *channel) doRequest(cmd map[string]interface{}) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil, benchrors.BusTimeout(c.name)
	}

	line, err := json.Marshal(cmd)
	if err != nil {
		return nil, benchrors.BusProtocol(c.name, err)
	}
	if err := c.port.SetWriteDeadline(time.Now().Add(500 * time.Millisecond)); err == nil {
		_, _ = fmt.Fprintf(c.port, "%s\n", line)
	}

	_ = c.port.SetReadDeadline(time.Now().Add(1 * time.Second))
	resp, err := c.r.ReadString('\n')
	if err != nil {
		return nil, benchrors.BusTimeout(c.name)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		return nil, benchrors.BusProtocol(c.name, err)
	}
	if ok, _ := parsed["ok"].(bool); !ok {
		return nil, benchrors.BusProtocol(c.name, fmt.Errorf("%v", parsed["error"]))
	}
	return parsed, nil
}

// RealBackend talks to the bench's physical serial bridges. It degrades
// per-bridge online flags on failure rather than propagating bus errors
// up through the aggregator tick (per §4.7/§7).
type RealBackend struct {
	vfd, meter, scale, gpio, tank, lora *channel

	mu     sync.Mutex
	online BridgeOnline

	loraInbound chan []byte
	log         *logger.Logger
}

// NewRealBackend opens the six named serial channels. Channels that fail
// to open are retried lazily on first use; the backend never blocks
// construction waiting for hardware. metrics may be nil.
func NewRealBackend(ports ChannelPorts, log *logger.Logger, metrics *obsmetrics.Metrics) *RealBackend {
	b := &RealBackend{
		vfd:         openChannel("vfd", ports.VFD, log, metrics),
		meter:       openChannel("meter", ports.Meter, log, metrics),
		scale:       openChannel("scale", ports.Scale, log, metrics),
		gpio:        openChannel("gpio", ports.GPIO, log, metrics),
		tank:        openChannel("tank", ports.Tank, log, metrics),
		lora:        openChannel("lora", ports.LoRa, log, metrics),
		loraInbound: make(chan []byte, 64),
		log:         log,
	}
	go b.receiveLoop()
	return b
}

func (b *RealBackend) setOnline(field *bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	*field = ok
}

func (b *RealBackend) ReadModbus(ctx context.Context, channelName string, addr, reg, count int) ([]uint16, error) {
	ch := b.channelFor(channelName)
	resp, err := ch.request(ctx, map[string]interface{}{"cmd": "MB_READ", "addr": addr, "reg": reg, "count": count})
	b.setOnline(b.onlineField(channelName), err == nil)
	if err != nil {
		return nil, err
	}
	raw, _ := resp["data"].([]interface{})
	out := make([]uint16, len(raw))
	for i, v := range raw {
		if f, ok := v.(float64); ok {
			out[i] = uint16(f)
		}
	}
	return out, nil
}

func (b *RealBackend) channelFor(name string) *channel {
	switch name {
	case "vfd":
		return b.vfd
	case "meter":
		return b.meter
	case "scale":
		return b.scale
	case "gpio":
		return b.gpio
	case "tank":
		return b.tank
	default:
		return b.lora
	}
}

func (b *RealBackend) onlineField(name string) *bool {
	switch name {
	case "vfd":
		return &b.online.VFD
	case "meter":
		return &b.online.Meter
	case "scale":
		return &b.online.Scale
	case "gpio":
		return &b.online.GPIO
	case "tank":
		return &b.online.Tank
	default:
		return &b.online.LoRa
	}
}

func (b *RealBackend) ReadScale(ctx context.Context) (float64, error) {
	resp, err := b.scale.request(ctx, map[string]interface{}{"cmd": "SCALE_READ"})
	b.setOnline(&b.online.Scale, err == nil)
	if err != nil {
		return 0, err
	}
	v, _ := resp["weight_kg"].(float64)
	return v, nil
}

func (b *RealBackend) ReadPressure(ctx context.Context) (float64, float64, error) {
	resp, err := b.gpio.request(ctx, map[string]interface{}{"cmd": "PRESSURE_READ"})
	b.setOnline(&b.online.GPIO, err == nil)
	if err != nil {
		return 0, 0, err
	}
	up, _ := resp["upstream_bar"].(float64)
	down, _ := resp["downstream_bar"].(float64)
	return up, down, nil
}

func (b *RealBackend) ReadEnvironment(ctx context.Context) (EnvironmentReading, error) {
	resp, err := b.gpio.request(ctx, map[string]interface{}{"cmd": "SENSOR_READ"})
	b.setOnline(&b.online.GPIO, err == nil)
	if err != nil {
		return EnvironmentReading{}, err
	}
	return EnvironmentReading{
		WaterTempC:     floatOr(resp["water_temp_c"]),
		AtmTempC:       floatOr(resp["atm_temp_c"]),
		AtmHumidityPct: floatOr(resp["atm_humidity_pct"]),
		AtmBaroHPa:     floatOr(resp["atm_baro_hpa"]),
	}, nil
}

func (b *RealBackend) ReadTankLevel(ctx context.Context) (float64, error) {
	resp, err := b.tank.request(ctx, map[string]interface{}{"cmd": "TANK_READ"})
	b.setOnline(&b.online.Tank, err == nil)
	if err != nil {
		return 0, err
	}
	return floatOr(resp["level_pct"]), nil
}

func (b *RealBackend) ReadGPIO(ctx context.Context) (bool, bool, bool, error) {
	resp, err := b.gpio.request(ctx, map[string]interface{}{"cmd": "GPIO_GET"})
	b.setOnline(&b.online.GPIO, err == nil)
	if err != nil {
		return false, false, false, err
	}
	estop, _ := resp["estop"].(bool)
	contactor, _ := resp["contactor"].(bool)
	mcb, _ := resp["mcb"].(bool)
	return estop, contactor, mcb, nil
}

func (b *RealBackend) ReadValves(ctx context.Context) (map[string]bool, string, error) {
	resp, err := b.gpio.request(ctx, map[string]interface{}{"cmd": "STATUS"})
	b.setOnline(&b.online.GPIO, err == nil)
	if err != nil {
		return nil, "", err
	}
	out := make(map[string]bool)
	if raw, ok := resp["valves"].(map[string]interface{}); ok {
		for k, v := range raw {
			if bv, ok := v.(bool); ok {
				out[k] = bv
			}
		}
	}
	diverter, _ := resp["diverter"].(string)
	return out, diverter, nil
}

func (b *RealBackend) ReadVFDStatus(ctx context.Context) (VFDStatus, error) {
	resp, err := b.vfd.request(ctx, map[string]interface{}{"cmd": "STATUS"})
	b.setOnline(&b.online.VFD, err == nil)
	if err != nil {
		return VFDStatus{}, err
	}
	running, _ := resp["running"].(bool)
	return VFDStatus{
		Running:     running,
		FrequencyHz: floatOr(resp["frequency_hz"]),
		TargetHz:    floatOr(resp["target_hz"]),
		CurrentA:    floatOr(resp["current_a"]),
		FaultCode:   int(floatOr(resp["fault_code"])),
	}, nil
}

func (b *RealBackend) ReadDUT(ctx context.Context) (bool, float64, error) {
	words, err := b.ReadModbus(ctx, "meter", 20, 0, 2)
	if err != nil {
		return false, 0, err
	}
	totalMl := uint32(words[0])<<16 | uint32(words[1])
	return true, float64(totalMl) / 1000.0, nil
}

func (b *RealBackend) SetValve(ctx context.Context, name string, open bool) error {
	action := "CLOSE"
	if open {
		action = "OPEN"
	}
	_, err := b.gpio.request(ctx, map[string]interface{}{"cmd": "VALVE", "name": name, "action": action})
	b.setOnline(&b.online.GPIO, err == nil)
	return err
}

func (b *RealBackend) SetDiverter(ctx context.Context, position string) error {
	_, err := b.gpio.request(ctx, map[string]interface{}{"cmd": "DIVERTER", "position": position})
	b.setOnline(&b.online.GPIO, err == nil)
	return err
}

func (b *RealBackend) WriteModbus(ctx context.Context, addr, reg int, value uint16) error {
	_, err := b.vfd.request(ctx, map[string]interface{}{"cmd": "MB_WRITE", "addr": addr, "reg": reg, "value": value})
	b.setOnline(&b.online.VFD, err == nil)
	return err
}

func (b *RealBackend) TareScale(ctx context.Context) error {
	_, err := b.scale.request(ctx, map[string]interface{}{"cmd": "SCALE_TARE"})
	b.setOnline(&b.online.Scale, err == nil)
	return err
}

func (b *RealBackend) SetTower(ctx context.Context, red, yellow, green, buzzer bool) error {
	_, err := b.gpio.request(ctx, map[string]interface{}{"cmd": "TOWER", "r": red, "g": green, "y": yellow, "buz": buzzer})
	b.setOnline(&b.online.GPIO, err == nil)
	return err
}

func (b *RealBackend) LoRaSend(ctx context.Context, data []byte) bool {
	_, err := b.lora.request(ctx, map[string]interface{}{"cmd": "LORA_TX", "data": data})
	b.setOnline(&b.online.LoRa, err == nil)
	return err == nil
}

func (b *RealBackend) LoRaReceive() <-chan []byte {
	return b.loraInbound
}

func (b *RealBackend) receiveLoop() {
	if b.lora.port == nil {
		return
	}
	for {
		line, err := b.lora.r.ReadString('\n')
		if err != nil {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		var parsed map[string]interface{}
		if json.Unmarshal([]byte(line), &parsed) != nil {
			continue
		}
		if parsed["event"] != "LORA_RX" {
			continue
		}
		if data, ok := parsed["data"].(string); ok {
			b.loraInbound <- []byte(data)
		}
	}
}

func (b *RealBackend) EmergencyStop(ctx context.Context) {
	_ = b.WriteModbus(ctx, 1, 0x2000, 0x0003)
	for _, v := range []string{"SV1", "BV-L1", "BV-L2", "BV-L3", "SV-DRN", "BV-BP"} {
		_ = b.SetValve(ctx, v, false)
	}
	_ = b.SetTower(ctx, true, false, false, true)
}

func (b *RealBackend) Online() BridgeOnline {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func floatOr(v interface{}) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}
