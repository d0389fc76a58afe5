package voxmesh

import (
	"fmt"
)

const DefaultChunkSize = 32

// VolumeModule owns the VolumeStore of the control domain and publishes it
// to the bridge once per round. One volume is spawned per generator before
// the first round's commands are flushed.
type VolumeModule struct {
	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize  uint32
	Generators []VolumeGenerator
	Bridge     *Bridge
}

func (m VolumeModule) Install(app *App, cmd *Commands) {
	claimDomain(app, DomainControl)
	if m.Bridge == nil {
		panic("VolumeModule: Bridge is nil")
	}
	ensureTime(app, cmd)
	chunkSize := m.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	cmd.AddResources(NewVolumeStore(), m.Bridge.Snapshots)
	for _, gen := range m.Generators {
		app.pendingOps = append(app.pendingOps, func(app *App) error {
			desc, err := gen.Generate(chunkSize)
			if err != nil {
				return fmt.Errorf("generate %T: %w", gen, err)
			}
			store, err := volumeStore(app)
			if err != nil {
				return err
			}
			id, err := store.Spawn(desc)
			if err != nil {
				return err
			}
			app.Logger().Infof("spawned volume %s from %T (chunk %d)", id.Short(), gen, chunkSize)
			return nil
		})
	}
	cmd.UseSystem(System(publishVolumesSystem).InStage(PostUpdate))
}
