package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fisaks/uhn-relay/internal/config"
	"github.com/fisaks/uhn-relay/internal/hw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	bits    map[uint16]bool
	coils   map[uint16]bool
	readErr error
	reads   [][2]uint16
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{bits: map[uint16]bool{}, coils: map[uint16]bool{}}
}

func (f *fakeClient) set(addr uint16, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bits[addr] = v
}

func (f *fakeClient) ReadDiscreteInputs(_ context.Context, start, count uint16) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.reads = append(f.reads, [2]uint16{start, count})
	out := make([]byte, (int(count)+7)/8)
	for i := 0; i < int(count); i++ {
		if f.bits[start+uint16(i)] {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out, nil
}

func (f *fakeClient) WriteCoil(_ context.Context, addr uint16, value bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coils[addr] = value
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type edgeLog struct {
	mu    sync.Mutex
	edges []hw.Edge
}

func (l *edgeLog) add(e hw.Edge) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edges = append(l.edges, e)
}

func (l *edgeLog) snapshot() []hw.Edge {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]hw.Edge(nil), l.edges...)
}

func testPoller(client DeviceClient) *BusPoller {
	return newBusPoller(&config.BusConfig{BusId: "test", Type: "tcp"}, 1, 5*time.Millisecond, client)
}

func TestPollOnceEmitsEdges(t *testing.T) {
	client := newFakeClient()
	p := testPoller(client)

	up, err := p.Input(4)
	require.NoError(t, err)
	down, err := p.Input(9)
	require.NoError(t, err)

	var log edgeLog
	up.Watch(log.add)
	down.Watch(log.add)

	ctx := context.Background()
	require.NoError(t, p.pollOnce(ctx)) // primes
	assert.Empty(t, log.snapshot())

	client.set(4, true)
	require.NoError(t, p.pollOnce(ctx))
	require.NoError(t, p.pollOnce(ctx)) // unchanged level: no edge
	client.set(4, false)
	client.set(9, true)
	require.NoError(t, p.pollOnce(ctx))

	assert.Equal(t, []hw.Edge{
		{Pin: "di:4", Pressed: true},
		{Pin: "di:4", Pressed: false},
		{Pin: "di:9", Pressed: true},
	}, log.snapshot())
	assert.Equal(t, [2]uint16{4, 6}, client.reads[0])
}

func TestPollOncePressedAtStartupIsNotAnEdge(t *testing.T) {
	client := newFakeClient()
	client.set(2, true)
	p := testPoller(client)
	in, err := p.Input(2)
	require.NoError(t, err)

	var log edgeLog
	in.Watch(log.add)
	require.NoError(t, p.pollOnce(context.Background()))
	assert.Empty(t, log.snapshot())
}

func TestPollOnceReadError(t *testing.T) {
	client := newFakeClient()
	client.readErr = errors.New("i/o timeout")
	p := testPoller(client)
	_, err := p.Input(0)
	require.NoError(t, err)

	assert.Error(t, p.pollOnce(context.Background()))
}

func TestPollOnceWithoutInputs(t *testing.T) {
	client := newFakeClient()
	p := testPoller(client)
	require.NoError(t, p.pollOnce(context.Background()))
	assert.Empty(t, client.reads)
}

func TestRelayWritesCoil(t *testing.T) {
	client := newFakeClient()
	p := testPoller(client)

	r, err := p.Relay(3, false)
	require.NoError(t, err)
	require.NoError(t, r.Set(true))
	assert.True(t, r.State())
	assert.True(t, client.coils[3])

	same, err := p.Relay(3, false)
	require.NoError(t, err)
	assert.Same(t, r, same)

	_, err = p.Relay(-1, false)
	assert.Error(t, err)
}

func TestStartPollsUntilClose(t *testing.T) {
	client := newFakeClient()
	p := testPoller(client)
	in, err := p.Input(1)
	require.NoError(t, err)

	var log edgeLog
	in.Watch(log.add)

	p.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	client.set(1, true)

	assert.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())
	assert.True(t, client.closed)
	assert.Equal(t, []hw.Edge{{Pin: "di:1", Pressed: true}}, log.snapshot())
}
