package voxmesh

import (
	"sync/atomic"

	"github.com/gekko3d/voxmesh/meshrt/rt/readback"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

type VolumeSnapshotEntry struct {
	Id         volume.Id
	Version    uint64
	Descriptor volume.Descriptor
}

// VolumeSnapshot is an immutable copy of the VolumeStore as of one control
// round. Descriptors are shared with the store, which never mutates them.
type VolumeSnapshot struct {
	Round    uint64
	Revision uint64
	Volumes  []VolumeSnapshotEntry
}

type SnapshotContainer struct {
	latest atomic.Pointer[VolumeSnapshot]
}

func (c *SnapshotContainer) Update(s *VolumeSnapshot) {
	c.latest.Store(s)
}

func (c *SnapshotContainer) Get() *VolumeSnapshot {
	return c.latest.Load()
}

// Bridge holds the only state shared by the two domains: the published
// snapshot and the two halves of the readback channel.
type Bridge struct {
	Snapshots *SnapshotContainer
	Sender    *readback.Sender
	Receiver  *readback.Receiver
}

type BridgeConfig struct {
	// ReadbackCapacity defaults to 16.
	ReadbackCapacity int
	OverflowPolicy   readback.OverflowPolicy
}

func NewBridge(cfg BridgeConfig) *Bridge {
	capacity := cfg.ReadbackCapacity
	if capacity <= 0 {
		capacity = 16
	}
	tx, rx := readback.NewChannel(capacity, cfg.OverflowPolicy)
	return &Bridge{Snapshots: &SnapshotContainer{}, Sender: tx, Receiver: rx}
}

// Close closes the receiving half; later sends fail.
func (b *Bridge) Close() {
	b.Receiver.Close()
}

func publishVolumesSystem(store *VolumeStore, snapshots *SnapshotContainer, t *Time, log Logger) {
	if !store.dirty {
		return
	}
	snap := &VolumeSnapshot{Round: t.Round, Revision: store.revision}
	for _, id := range store.Ids() {
		e := store.entries[id]
		snap.Volumes = append(snap.Volumes, VolumeSnapshotEntry{Id: id, Version: e.version, Descriptor: e.desc})
		if e.added {
			log.Debugf("publishing new volume %s (chunk %d)", id.Short(), e.desc.ChunkSize)
			e.added = false
		}
	}
	snapshots.Update(snap)
	store.dirty = false
}
