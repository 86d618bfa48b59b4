// Package osc adapts the remote control surface's addressed UDP messages to
// parameter mutations and control commands, and pushes status, parameters
// and log lines back to the peer.
package osc

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/soundloop/continuo/internal/control"
	"github.com/soundloop/continuo/internal/params"
	"github.com/soundloop/continuo/sdk/contracts"
)

// Inbound addresses.
const (
	addrRecord = "/record"
	addrTemp   = "/temp"
	addrTopP   = "/top_p"
	addrMinP   = "/min_p"
	addrTokens = "/tokens"
	addrCancel = "/cancel"
	addrPlay   = "/play"
	addrPing   = "/ping"
	addrGrade  = "/grade"
	addrCommit = "/commit"
)

// Outbound addresses.
const (
	addrStatus = "/status"
	addrParams = "/params"
	addrLog    = "/log"
	addrSync   = "/sync"
)

// Config locates the two UDP endpoints.
type Config struct {
	Host    string // Listen host, typically 127.0.0.1.
	InPort  int    // Port the adapter listens on.
	OutPort int    // Port of the peer receiving status/params/log.
}

// Adapter is the remote control endpoint. Producers on the wire side only
// touch ParameterState and the command channel; the session engine never
// sees the transport.
type Adapter struct {
	log      contracts.Logger
	cfg      Config
	params   *params.State
	session  *params.Session
	commands *control.Channel

	client *osc.Client
	server *osc.Server
	conn   net.PacketConn

	mu              sync.Mutex
	lastRecordLevel int // -1 before the first level is seen.
	received        map[string]bool
}

// trackedParams are the values the startup handshake reconciles; the peer is
// the source of truth for displayed dial positions.
var trackedParams = []string{addrTemp, addrTopP, addrMinP, addrTokens}

// New creates an adapter bound to the given state and command channel.
func New(cfg Config, p *params.State, s *params.Session, cmds *control.Channel, log contracts.Logger) *Adapter {
	return &Adapter{
		log:             log,
		cfg:             cfg,
		params:          p,
		session:         s,
		commands:        cmds,
		client:          osc.NewClient(cfg.Host, cfg.OutPort),
		lastRecordLevel: -1,
		received:        make(map[string]bool),
	}
}

// Start binds the UDP socket and serves inbound messages until Close.
func (a *Adapter) Start() error {
	dispatcher := osc.NewStandardDispatcher()
	for addr, handler := range a.handlers() {
		if err := dispatcher.AddMsgHandler(addr, handler); err != nil {
			return fmt.Errorf("register osc handler %s: %w", addr, err)
		}
	}

	listen := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.InPort)
	conn, err := net.ListenPacket("udp", listen)
	if err != nil {
		return fmt.Errorf("bind osc endpoint %s: %w", listen, err)
	}
	a.conn = conn
	a.server = &osc.Server{Addr: listen, Dispatcher: dispatcher}

	go func() {
		if serveErr := a.server.Serve(conn); serveErr != nil {
			// Closing the connection during shutdown surfaces here.
			a.log.Debug("osc server stopped", a.log.Field().Error("err", serveErr))
		}
	}()

	a.log.Info("osc control endpoint listening",
		a.log.Field().String("listen", listen),
		a.log.Field().Int("peer_port", a.cfg.OutPort))
	return nil
}

// Close releases the UDP socket, stopping the serve loop.
func (a *Adapter) Close() error {
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func (a *Adapter) handlers() map[string]func(*osc.Message) {
	return map[string]func(*osc.Message){
		addrRecord: a.onRecord,
		addrTemp: func(msg *osc.Message) {
			if v, ok := floatArg(msg); ok {
				a.markReceived(addrTemp)
				set := a.params.SetTemperature(v)
				a.log.Info("remote set temperature", a.log.Field().Float64("value", set))
				a.SendParams()
			} else {
				a.dropMalformed(msg)
			}
		},
		addrTopP: func(msg *osc.Message) {
			if v, ok := floatArg(msg); ok {
				a.markReceived(addrTopP)
				set := a.params.SetTopP(v)
				a.log.Info("remote set top_p", a.log.Field().Float64("value", set))
				a.SendParams()
			} else {
				a.dropMalformed(msg)
			}
		},
		addrMinP: func(msg *osc.Message) {
			if v, ok := floatArg(msg); ok {
				a.markReceived(addrMinP)
				set := a.params.SetMinP(v)
				a.log.Info("remote set min_p", a.log.Field().Float64("value", set))
				a.SendParams()
			} else {
				a.dropMalformed(msg)
			}
		},
		addrTokens: func(msg *osc.Message) {
			if v, ok := floatArg(msg); ok {
				a.markReceived(addrTokens)
				set := a.params.SetMaxTokens(v)
				a.log.Info("remote set token budget", a.log.Field().Int("value", set))
			} else {
				a.dropMalformed(msg)
			}
		},
		addrCancel: func(*osc.Message) {
			a.commands.Push(contracts.Command{Kind: contracts.CmdCancel})
		},
		addrPlay: func(*osc.Message) {
			a.commands.Push(contracts.Command{Kind: contracts.CmdPlay})
		},
		addrPing: func(*osc.Message) {
			a.SendStatus(a.session.Status())
			a.SendParams()
		},
		addrGrade: func(msg *osc.Message) {
			if v, ok := floatArg(msg); ok {
				a.commands.Push(contracts.Command{Kind: contracts.CmdGrade, Value: v})
			} else {
				a.dropMalformed(msg)
			}
		},
		addrCommit: func(*osc.Message) {
			a.commands.Push(contracts.Command{Kind: contracts.CmdCommit})
		},
	}
}

// onRecord treats record as a level, not an edge: a repeated identical level
// or a level inconsistent with the engine's current recording status is
// suppressed, mirroring the engine's own idempotence rules. A suppressed
// level 1 does not latch, so the peer's next rising edge after the take ends
// still starts one; a level 0 while not recording latches so the next 1 is
// seen as an edge.
func (a *Adapter) onRecord(msg *osc.Message) {
	v, ok := floatArg(msg)
	if !ok {
		a.dropMalformed(msg)
		return
	}
	level := 0
	if v >= 0.5 {
		level = 1
	}

	a.mu.Lock()
	last := a.lastRecordLevel
	a.mu.Unlock()

	if level == last {
		a.log.Debug("record level repeated; suppressed", a.log.Field().Int("level", level))
		return
	}
	recording := a.session.Status() == contracts.StatusRecording
	if level == 1 && recording {
		a.log.Info("record level inconsistent with session; suppressed",
			a.log.Field().Int("level", level),
			a.log.Field().String("status", string(a.session.Status())))
		return
	}
	if level == 0 && !recording {
		a.setRecordLevel(level)
		a.log.Info("record level inconsistent with session; suppressed",
			a.log.Field().Int("level", level),
			a.log.Field().String("status", string(a.session.Status())))
		return
	}

	a.setRecordLevel(level)
	if level == 1 {
		a.commands.Push(contracts.Command{Kind: contracts.CmdStartRecord})
	} else {
		a.commands.Push(contracts.Command{Kind: contracts.CmdStopRecord})
	}
}

func (a *Adapter) setRecordLevel(level int) {
	a.mu.Lock()
	a.lastRecordLevel = level
	a.mu.Unlock()
}

// SyncOnStartup asks the peer to push its authoritative dial values and
// waits up to timeout for each tracked parameter. Values not received fall
// back to the local defaults already in ParameterState. One-shot, not a
// reconciliation loop.
func (a *Adapter) SyncOnStartup(timeout time.Duration) params.Snapshot {
	if err := a.send(osc.NewMessage(addrSync)); err != nil {
		a.log.Warn("startup sync request failed", a.log.Field().Error("err", err))
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.allReceived() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	a.mu.Lock()
	var received, defaulted []string
	for _, addr := range trackedParams {
		if a.received[addr] {
			received = append(received, addr)
		} else {
			defaulted = append(defaulted, addr)
		}
	}
	a.mu.Unlock()

	a.log.Info("startup parameter sync finished",
		a.log.Field().String("received", fmt.Sprint(received)),
		a.log.Field().String("defaulted", fmt.Sprint(defaulted)))
	return a.params.Snapshot()
}

func (a *Adapter) allReceived() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, addr := range trackedParams {
		if !a.received[addr] {
			return false
		}
	}
	return true
}

func (a *Adapter) markReceived(addr string) {
	a.mu.Lock()
	a.received[addr] = true
	a.mu.Unlock()
}

// SendStatus pushes the session status to the peer.
func (a *Adapter) SendStatus(status contracts.Status) {
	msg := osc.NewMessage(addrStatus)
	msg.Append(string(status))
	if err := a.send(msg); err != nil {
		a.log.Warn("status push failed", a.log.Field().Error("err", err))
	}
}

// SendParams pushes the current sampling triple to the peer.
func (a *Adapter) SendParams() {
	snap := a.params.Snapshot()
	msg := osc.NewMessage(addrParams)
	msg.Append(float32(snap.Temperature))
	msg.Append(float32(snap.TopP))
	msg.Append(float32(snap.MinP))
	if err := a.send(msg); err != nil {
		a.log.Warn("params push failed", a.log.Field().Error("err", err))
	}
}

// SendLog pushes a free-text log line to the peer.
func (a *Adapter) SendLog(line string) {
	msg := osc.NewMessage(addrLog)
	msg.Append(line)
	if err := a.send(msg); err != nil {
		a.log.Debug("log push failed", a.log.Field().Error("err", err))
	}
}

func (a *Adapter) send(msg *osc.Message) error {
	return a.client.Send(msg)
}

func (a *Adapter) dropMalformed(msg *osc.Message) {
	a.log.Warn("malformed control message ignored",
		a.log.Field().String("address", msg.Address))
}

// floatArg extracts the first numeric argument of a message.
func floatArg(msg *osc.Message) (float64, bool) {
	if len(msg.Arguments) == 0 {
		return 0, false
	}
	switch v := msg.Arguments[0].(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
