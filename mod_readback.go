package voxmesh

import (
	"sync"

	"github.com/gekko3d/voxmesh/meshrt/rt/readback"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

// MeshSink consumes readback messages on the control domain.
type MeshSink interface {
	Consume(msg readback.Message)
}

// ReadbackModule drains the readback channel once per control round.
type ReadbackModule struct {
	Bridge *Bridge
	// MaxPerPoll bounds the messages handled per round; zero drains all.
	MaxPerPoll int
	Sink       MeshSink
}

type ReadbackReceiver struct {
	Receiver   *readback.Receiver
	MaxPerPoll int
	Sink       MeshSink
	// Received counts messages handled since startup.
	Received uint64
}

func (m ReadbackModule) Install(app *App, cmd *Commands) {
	claimDomain(app, DomainControl)
	if m.Bridge == nil {
		panic("ReadbackModule: Bridge is nil")
	}
	cmd.AddResources(&ReadbackReceiver{
		Receiver:   m.Bridge.Receiver,
		MaxPerPoll: m.MaxPerPoll,
		Sink:       m.Sink,
	})
	cmd.UseSystem(System(receiveReadbackSystem).InStage(Update))
	app.onClose(m.Bridge.Close)
}

func receiveReadbackSystem(rx *ReadbackReceiver, log Logger) {
	for n := 0; rx.MaxPerPoll == 0 || n < rx.MaxPerPoll; n++ {
		msg, ok := rx.Receiver.TryRecv()
		if !ok {
			return
		}
		rx.Received++
		log.Debugf("received mesh data for volume %s (round %d): %d vertices, %d indices",
			msg.Volume.Short(), msg.Round, msg.Counters.VerticesHead, msg.Counters.IndicesHead)
		if rx.Sink != nil {
			rx.Sink.Consume(msg)
		}
	}
}

// MeshCollector keeps the latest message per volume.
type MeshCollector struct {
	mu     sync.Mutex
	latest map[volume.Id]readback.Message
	count  int
}

func NewMeshCollector() *MeshCollector {
	return &MeshCollector{latest: map[volume.Id]readback.Message{}}
}

func (c *MeshCollector) Consume(msg readback.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[msg.Volume] = msg
	c.count++
}

func (c *MeshCollector) Latest(id volume.Id) (readback.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.latest[id]
	return msg, ok
}

// Count is the number of messages consumed.
func (c *MeshCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
