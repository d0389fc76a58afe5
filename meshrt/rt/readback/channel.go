// Package readback carries meshing results from the GPU domain back to the
// control domain over a bounded channel.
package readback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

var ErrReceiverClosed = errors.New("readback: receiver closed")

// OverflowPolicy decides what Send does when the channel is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued message to make room.
	DropOldest OverflowPolicy = iota
	// Block waits for the consumer to make room.
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case Block:
		return "block"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "drop-oldest", "":
		return DropOldest, nil
	case "block":
		return Block, nil
	}
	return 0, fmt.Errorf("readback: unknown overflow policy %q", s)
}

// Counters are the append heads the compute program left behind.
type Counters struct {
	VerticesHead uint32
	IndicesHead  uint32
}

// Message is one staged readback: the counters plus the staged vertex
// records as little-endian words, tagged with the volume and round.
type Message struct {
	Volume   volume.Id
	Round    uint64
	Counters Counters
	Words    []uint32
}

// Vertices decodes the staged vertex records (x, y, z, flags) that the
// counters mark as written.
func (m Message) Vertices() []mgl32.Vec4 {
	n := len(m.Words) / 4
	if int(m.Counters.VerticesHead) < n {
		n = int(m.Counters.VerticesHead)
	}
	out := make([]mgl32.Vec4, n)
	for i := range out {
		w := m.Words[i*4 : i*4+4]
		out[i] = mgl32.Vec4{
			math.Float32frombits(w[0]),
			math.Float32frombits(w[1]),
			math.Float32frombits(w[2]),
			math.Float32frombits(w[3]),
		}
	}
	return out
}

type shared struct {
	queue     chan Message
	policy    OverflowPolicy
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
	// sendMu serialises DropOldest sends.
	sendMu sync.Mutex
}

type Sender struct{ s *shared }

type Receiver struct{ s *shared }

// NewChannel creates a channel holding at most capacity messages.
func NewChannel(capacity int, policy OverflowPolicy) (*Sender, *Receiver) {
	if capacity < 1 {
		capacity = 1
	}
	s := &shared{
		queue:  make(chan Message, capacity),
		policy: policy,
		closed: make(chan struct{}),
	}
	return &Sender{s: s}, &Receiver{s: s}
}

// Send queues msg. It fails with ErrReceiverClosed once the receiver is gone.
func (t *Sender) Send(ctx context.Context, msg Message) error {
	s := t.s
	select {
	case <-s.closed:
		return ErrReceiverClosed
	default:
	}

	if s.policy == Block {
		select {
		case s.queue <- msg:
			return nil
		case <-s.closed:
			return ErrReceiverClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for {
		select {
		case s.queue <- msg:
			return nil
		default:
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
		default:
		}
	}
}

// Dropped counts messages discarded by DropOldest.
func (t *Sender) Dropped() uint64 {
	return t.s.dropped.Load()
}

// TryRecv returns the next message without blocking.
func (r *Receiver) TryRecv() (Message, bool) {
	select {
	case msg := <-r.s.queue:
		return msg, true
	default:
		return Message{}, false
	}
}

func (r *Receiver) Len() int {
	return len(r.s.queue)
}

func (r *Receiver) Dropped() uint64 {
	return r.s.dropped.Load()
}

// Close makes every later Send fail. Queued messages stay receivable.
func (r *Receiver) Close() {
	r.s.closeOnce.Do(func() { close(r.s.closed) })
}
