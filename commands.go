package voxmesh

import (
	"fmt"

	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

type Commands struct {
	app *App
}

func (cmd *Commands) AddResources(resources ...any) *Commands {
	cmd.app.addResources(resources...)
	return cmd
}

func (cmd *Commands) UseSystem(system systemScheduleBuilder) *Commands {
	cmd.app.UseSystem(system)
	return cmd
}

// SpawnVolume reserves an id now and adds the volume to the VolumeStore when
// the current stage's commands are flushed.
func (cmd *Commands) SpawnVolume(desc volume.Descriptor) volume.Id {
	id := volume.NewId()
	desc = desc.Clone()
	cmd.app.pendingOps = append(cmd.app.pendingOps, func(app *App) error {
		store, err := volumeStore(app)
		if err != nil {
			return err
		}
		return store.insert(id, desc)
	})
	return id
}

// ReplaceVolume swaps a volume's content at the next flush.
func (cmd *Commands) ReplaceVolume(id volume.Id, desc volume.Descriptor) {
	desc = desc.Clone()
	cmd.app.pendingOps = append(cmd.app.pendingOps, func(app *App) error {
		store, err := volumeStore(app)
		if err != nil {
			return err
		}
		return store.Replace(id, desc)
	})
}

func (cmd *Commands) DespawnVolume(id volume.Id) {
	cmd.app.pendingOps = append(cmd.app.pendingOps, func(app *App) error {
		store, err := volumeStore(app)
		if err != nil {
			return err
		}
		store.Despawn(id)
		return nil
	})
}

func volumeStore(app *App) (*VolumeStore, error) {
	store, ok := Resource[VolumeStore](app)
	if !ok {
		return nil, fmt.Errorf("no VolumeStore in the %s domain", app.name)
	}
	return store, nil
}
