package readback

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

func msg(round uint64) Message {
	return Message{Volume: volume.Id("vol"), Round: round}
}

func TestTryRecvNeverBlocks(t *testing.T) {
	_, rx := NewChannel(4, DropOldest)
	_, ok := rx.TryRecv()
	assert.False(t, ok)
}

func TestDeliversInOrder(t *testing.T) {
	tx, rx := NewChannel(4, DropOldest)
	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, tx.Send(ctx, msg(i)))
	}
	for i := uint64(1); i <= 3; i++ {
		m, ok := rx.TryRecv()
		require.True(t, ok)
		assert.Equal(t, i, m.Round)
	}
	_, ok := rx.TryRecv()
	assert.False(t, ok, "no phantom duplicates")
}

func TestDropOldestKeepsNewest(t *testing.T) {
	tx, rx := NewChannel(2, DropOldest)
	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, tx.Send(ctx, msg(i)))
	}
	assert.Equal(t, uint64(3), tx.Dropped())
	assert.Equal(t, 2, rx.Len())

	m, _ := rx.TryRecv()
	assert.Equal(t, uint64(4), m.Round)
	m, _ = rx.TryRecv()
	assert.Equal(t, uint64(5), m.Round)
}

func TestBlockWaitsForRoom(t *testing.T) {
	tx, rx := NewChannel(1, Block)
	ctx := context.Background()
	require.NoError(t, tx.Send(ctx, msg(1)))

	done := make(chan error, 1)
	go func() { done <- tx.Send(ctx, msg(2)) }()

	select {
	case <-done:
		t.Fatal("send returned while the channel was full")
	case <-time.After(20 * time.Millisecond):
	}

	m, ok := rx.TryRecv()
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.Round)
	require.NoError(t, <-done)
	assert.Zero(t, tx.Dropped())
}

func TestBlockHonoursContext(t *testing.T) {
	tx, _ := NewChannel(1, Block)
	require.NoError(t, tx.Send(context.Background(), msg(1)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tx.Send(ctx, msg(2)), context.DeadlineExceeded)
}

func TestSendAfterCloseFails(t *testing.T) {
	tx, rx := NewChannel(2, DropOldest)
	require.NoError(t, tx.Send(context.Background(), msg(1)))
	rx.Close()
	rx.Close()

	assert.ErrorIs(t, tx.Send(context.Background(), msg(2)), ErrReceiverClosed)
	m, ok := rx.TryRecv()
	require.True(t, ok, "queued messages survive close")
	assert.Equal(t, uint64(1), m.Round)
}

func TestCloseUnblocksBlockedSender(t *testing.T) {
	tx, rx := NewChannel(1, Block)
	require.NoError(t, tx.Send(context.Background(), msg(1)))

	done := make(chan error, 1)
	go func() { done <- tx.Send(context.Background(), msg(2)) }()
	time.Sleep(5 * time.Millisecond)
	rx.Close()
	assert.ErrorIs(t, <-done, ErrReceiverClosed)
}

func TestConcurrentDropOldestStaysBounded(t *testing.T) {
	tx, rx := NewChannel(3, DropOldest)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = tx.Send(context.Background(), msg(uint64(i)))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, rx.Len())
	assert.Equal(t, uint64(200-3), tx.Dropped())
}

func TestVerticesStopAtCounter(t *testing.T) {
	words := make([]uint32, 3*4)
	for i := 0; i < 3; i++ {
		words[i*4] = math.Float32bits(float32(i))
		words[i*4+1] = math.Float32bits(0.5)
		words[i*4+2] = math.Float32bits(1)
		words[i*4+3] = math.Float32bits(7)
	}
	m := Message{Counters: Counters{VerticesHead: 2}, Words: words}

	v := m.Vertices()
	require.Len(t, v, 2)
	assert.Equal(t, mgl32.Vec4{1, 0.5, 1, 7}, v[1])

	m.Counters.VerticesHead = 100
	assert.Len(t, m.Vertices(), 3, "bounded by staged words")
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("block")
	require.NoError(t, err)
	assert.Equal(t, Block, p)
	p, err = ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DropOldest, p)
	_, err = ParseOverflowPolicy("spill")
	assert.Error(t, err)
}
