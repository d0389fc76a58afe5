package voxmesh

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

var ErrUnknownVolume = errors.New("voxmesh: unknown volume")

// VolumeStore owns the CPU-resident descriptors of the control domain. Each
// write bumps the entry's Version; the GPU domain rebuilds a volume's device
// resources only when the version it sees changes.
type VolumeStore struct {
	entries map[volume.Id]*volumeEntry
	// revision changes on every write; publishing skips clean rounds.
	revision uint64
	nextVer  uint64
	dirty    bool
}

type volumeEntry struct {
	desc    volume.Descriptor
	version uint64
	// added is set until the volume is first published.
	added bool
}

// VolumeEntry is a read-only view of one store entry.
type VolumeEntry struct {
	Id         volume.Id
	Descriptor volume.Descriptor
	Version    uint64
	Added      bool
}

func NewVolumeStore() *VolumeStore {
	return &VolumeStore{entries: map[volume.Id]*volumeEntry{}, dirty: true}
}

// Spawn registers a new volume.
func (s *VolumeStore) Spawn(desc volume.Descriptor) (volume.Id, error) {
	id := volume.NewId()
	if err := s.insert(id, desc.Clone()); err != nil {
		return "", err
	}
	return id, nil
}

func (s *VolumeStore) insert(id volume.Id, desc volume.Descriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("spawn volume %s: %w", id.Short(), err)
	}
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("spawn volume %s: already exists", id.Short())
	}
	s.entries[id] = &volumeEntry{desc: desc, version: s.bump(), added: true}
	return nil
}

// Replace swaps a volume's content wholesale.
func (s *VolumeStore) Replace(id volume.Id, desc volume.Descriptor) error {
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVolume, id.Short())
	}
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("replace volume %s: %w", id.Short(), err)
	}
	e.desc = desc.Clone()
	e.version = s.bump()
	return nil
}

func (s *VolumeStore) Despawn(id volume.Id) {
	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		s.bump()
	}
}

func (s *VolumeStore) bump() uint64 {
	s.dirty = true
	s.revision++
	s.nextVer++
	return s.nextVer
}

func (s *VolumeStore) Get(id volume.Id) (VolumeEntry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return VolumeEntry{}, false
	}
	return VolumeEntry{Id: id, Descriptor: e.desc, Version: e.version, Added: e.added}, true
}

// Ids returns the volume ids in sorted order.
func (s *VolumeStore) Ids() []volume.Id {
	ids := make([]volume.Id, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *VolumeStore) Len() int {
	return len(s.entries)
}

// Revision changes whenever the store is written.
func (s *VolumeStore) Revision() uint64 {
	return s.revision
}
