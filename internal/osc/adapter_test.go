package osc

import (
	"net"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundloop/continuo/internal/control"
	"github.com/soundloop/continuo/internal/logger"
	"github.com/soundloop/continuo/internal/params"
	"github.com/soundloop/continuo/sdk/contracts"
)

type adapterFixture struct {
	adapter *Adapter
	params  *params.State
	session *params.Session
	cmds    *control.Channel
	peer    net.PacketConn
}

// newAdapterFixture wires an adapter whose outbound peer is a local UDP
// socket owned by the test.
func newAdapterFixture(t *testing.T) *adapterFixture {
	t.Helper()
	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	f := &adapterFixture{
		params:  params.NewState(0.9, 0.95, 0.0),
		session: params.NewSession("manual"),
		cmds:    control.NewChannel(),
		peer:    peer,
	}
	f.adapter = New(Config{
		Host:    "127.0.0.1",
		InPort:  0,
		OutPort: peer.LocalAddr().(*net.UDPAddr).Port,
	}, f.params, f.session, f.cmds, logger.NewNop())
	return f
}

func (f *adapterFixture) handle(t *testing.T, addr string, args ...interface{}) {
	t.Helper()
	msg := osc.NewMessage(addr)
	for _, arg := range args {
		msg.Append(arg)
	}
	handler, ok := f.adapter.handlers()[addr]
	require.True(t, ok, "no handler for %s", addr)
	handler(msg)
}

func (f *adapterFixture) readPacket(t *testing.T) []byte {
	t.Helper()
	require.NoError(t, f.peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := f.peer.ReadFrom(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestParamAddressesMutateState(t *testing.T) {
	f := newAdapterFixture(t)

	f.handle(t, addrTemp, float32(1.5))
	f.readPacket(t) // Each set echoes /params.
	f.handle(t, addrTopP, float32(0.8))
	f.readPacket(t)
	f.handle(t, addrMinP, float32(0.05))
	f.readPacket(t)
	f.handle(t, addrTokens, float32(512))

	snap := f.params.Snapshot()
	assert.InDelta(t, 1.5, snap.Temperature, 1e-6)
	assert.InDelta(t, 0.8, snap.TopP, 1e-6)
	assert.InDelta(t, 0.05, snap.MinP, 1e-6)
	assert.Equal(t, 512, snap.MaxTokens)
}

func TestParamValuesAreClamped(t *testing.T) {
	f := newAdapterFixture(t)

	f.handle(t, addrTemp, float32(9.0))
	f.readPacket(t)

	assert.InDelta(t, params.TemperatureMax, f.params.Snapshot().Temperature, 1e-6)
}

func TestMalformedParamMessageIgnored(t *testing.T) {
	f := newAdapterFixture(t)

	f.handle(t, addrTemp, "not a number")
	f.handle(t, addrTemp)

	assert.InDelta(t, 0.9, f.params.Snapshot().Temperature, 1e-6)
}

func TestControlAddressesEnqueueCommands(t *testing.T) {
	f := newAdapterFixture(t)

	f.handle(t, addrCancel)
	f.handle(t, addrPlay)
	f.handle(t, addrGrade, float32(-1))
	f.handle(t, addrCommit)

	got := f.cmds.Drain()
	require.Len(t, got, 4)
	assert.Equal(t, contracts.CmdCancel, got[0].Kind)
	assert.Equal(t, contracts.CmdPlay, got[1].Kind)
	assert.Equal(t, contracts.CmdGrade, got[2].Kind)
	assert.Equal(t, float64(-1), got[2].Value)
	assert.Equal(t, contracts.CmdCommit, got[3].Kind)
}

func TestRecordLevelSemantics(t *testing.T) {
	f := newAdapterFixture(t)

	// Rising level while idle starts recording.
	f.handle(t, addrRecord, float32(1))
	got := f.cmds.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, contracts.CmdStartRecord, got[0].Kind)

	// Repeated level is suppressed.
	f.handle(t, addrRecord, float32(1))
	assert.Nil(t, f.cmds.Drain())

	// Falling level while not recording is inconsistent and suppressed.
	f.handle(t, addrRecord, float32(0))
	assert.Nil(t, f.cmds.Drain())

	// Falling level while recording stops.
	f.handle(t, addrRecord, float32(1))
	f.session.SetStatus(contracts.StatusRecording)
	f.handle(t, addrRecord, float32(0))
	got = f.cmds.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, contracts.CmdStartRecord, got[0].Kind)
	assert.Equal(t, contracts.CmdStopRecord, got[1].Kind)
}

func TestRisingLevelWhileRecordingSuppressed(t *testing.T) {
	f := newAdapterFixture(t)
	f.session.SetStatus(contracts.StatusRecording)

	f.handle(t, addrRecord, float32(1))
	assert.Nil(t, f.cmds.Drain())
}

func TestSuppressedRisingLevelDoesNotLatch(t *testing.T) {
	f := newAdapterFixture(t)

	// A take started locally (hotkey); the peer's record=1 is suppressed.
	f.session.SetStatus(contracts.StatusRecording)
	f.handle(t, addrRecord, float32(1))
	require.Nil(t, f.cmds.Drain())

	// After the take ends, the peer's next record=1 must still start one.
	f.session.SetStatus(contracts.StatusIdle)
	f.handle(t, addrRecord, float32(1))
	got := f.cmds.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, contracts.CmdStartRecord, got[0].Kind)
}

func TestSuppressedFallingLevelLatchesWhileIdle(t *testing.T) {
	f := newAdapterFixture(t)

	// record=0 while idle is inconsistent but latches, so the following
	// record=1 reads as a rising edge.
	f.handle(t, addrRecord, float32(0))
	require.Nil(t, f.cmds.Drain())

	f.handle(t, addrRecord, float32(1))
	got := f.cmds.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, contracts.CmdStartRecord, got[0].Kind)
}

func TestPingEchoesStatusAndParams(t *testing.T) {
	f := newAdapterFixture(t)
	f.session.SetStatus(contracts.StatusReady)

	f.handle(t, addrPing)
	assert.Contains(t, string(f.readPacket(t)), addrStatus)
	assert.Contains(t, string(f.readPacket(t)), addrParams)
}

func TestSendStatusReachesPeer(t *testing.T) {
	f := newAdapterFixture(t)
	f.adapter.SendStatus(contracts.StatusPlaying)

	packet := string(f.readPacket(t))
	assert.Contains(t, packet, addrStatus)
	assert.Contains(t, packet, string(contracts.StatusPlaying))
}

func TestSyncOnStartupReportsReceivedValues(t *testing.T) {
	f := newAdapterFixture(t)

	for _, addr := range []string{addrTemp, addrTopP, addrMinP, addrTokens} {
		f.handle(t, addr, float32(0.5))
	}
	// Each float set echoed /params before the handshake starts.
	for i := 0; i < 3; i++ {
		f.readPacket(t)
	}

	start := time.Now()
	snap := f.adapter.SyncOnStartup(5 * time.Second)
	assert.Less(t, time.Since(start), time.Second, "returns as soon as all values arrive")
	assert.InDelta(t, 0.5, snap.Temperature, 1e-6)

	// The /sync request itself went out to the peer.
	assert.Contains(t, string(f.readPacket(t)), addrSync)
}

func TestSyncOnStartupTimesOutToDefaults(t *testing.T) {
	f := newAdapterFixture(t)

	snap := f.adapter.SyncOnStartup(50 * time.Millisecond)
	assert.InDelta(t, 0.9, snap.Temperature, 1e-6)
	assert.InDelta(t, 0.95, snap.TopP, 1e-6)
}

func TestFloatArg(t *testing.T) {
	tests := []struct {
		name   string
		arg    interface{}
		want   float64
		wantOK bool
	}{
		{name: "float32", arg: float32(1.5), want: 1.5, wantOK: true},
		{name: "float64", arg: float64(2.5), want: 2.5, wantOK: true},
		{name: "int32", arg: int32(7), want: 7, wantOK: true},
		{name: "int64", arg: int64(9), want: 9, wantOK: true},
		{name: "string", arg: "nope", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := osc.NewMessage("/x")
			msg.Append(tt.arg)
			got, ok := floatArg(msg)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-6)
			}
		})
	}
}

func TestFloatArgEmptyMessage(t *testing.T) {
	_, ok := floatArg(osc.NewMessage("/x"))
	assert.False(t, ok)
}
