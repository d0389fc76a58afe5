package voxmesh

import (
	"context"
	"fmt"
	"time"

	"github.com/gekko3d/voxmesh/meshrt/rt/gpu"
	"github.com/gekko3d/voxmesh/meshrt/rt/readback"
	"github.com/gekko3d/voxmesh/meshrt/rt/shaders"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

// MeshComputeModule turns the published volumes into marching-cubes meshes
// on the GPU domain and sends the vertex readback to the control domain.
type MeshComputeModule struct {
	Device gpu.Device
	Bridge *Bridge
	// OwnsDevice releases Device when the app closes, after every buffer
	// and pipeline built on it.
	OwnsDevice bool

	// RebuildEveryRound rebuilds resources and binding sets of every known
	// volume each round and dispatches all of them, not only changed ones.
	RebuildEveryRound bool
	// MapTimeout bounds the wait for staging maps; zero waits forever.
	MapTimeout time.Duration

	// ShaderDir overrides the embedded shaders when it holds the file.
	ShaderDir  string
	ShaderPath string
	SkipLint   bool

	// ReportEvery logs profiler stats every n rounds at debug level; zero
	// disables the report.
	ReportEvery uint64
}

type RenderDevice struct {
	Device gpu.Device
}

type MeshPipeline struct {
	Pipeline *gpu.MeshComputePipeline
	// err is a setup failure surfaced on the first round.
	err error
}

type MeshComputeSettings struct {
	RebuildEveryRound bool
	MapTimeout        time.Duration
	ReportEvery       uint64
}

// ExtractedVolumes is the GPU domain's view of the latest snapshot.
type ExtractedVolumes struct {
	Revision uint64
	Entries  map[volume.Id]VolumeSnapshotEntry
	Added    []volume.Id
	Changed  []volume.Id
	Removed  []volume.Id
}

type DeviceVolumes struct {
	Resources map[volume.Id]*gpu.DeviceVolumeResources
}

type BindingSets struct {
	Sets map[volume.Id]*gpu.BindingSet
}

type MeshNode struct {
	Node       *gpu.MeshComputeNode
	LastReport gpu.NodeReport
}

type ReadbackSender struct {
	Sender *readback.Sender
}

func (m MeshComputeModule) Install(app *App, cmd *Commands) {
	claimDomain(app, DomainGpu)
	if m.Device == nil {
		panic("MeshComputeModule: Device is nil")
	}
	if m.Bridge == nil {
		panic("MeshComputeModule: Bridge is nil")
	}
	ensureTime(app, cmd)
	log := app.Logger()

	shaderPath := m.ShaderPath
	if shaderPath == "" {
		shaderPath = shaders.MarchingCubesPath
	}
	meshPipeline := &MeshPipeline{}
	code, err := shaders.Load(m.ShaderDir, shaderPath)
	if err == nil {
		lint := gpu.LintWGSL
		if m.SkipLint {
			lint = nil
		}
		meshPipeline.Pipeline, err = gpu.NewMeshComputePipeline(m.Device, gpu.ShaderSource{
			Path:       shaderPath,
			Code:       code,
			EntryPoint: shaders.MarchingCubesEntry,
		}, lint, log)
	}
	if err != nil {
		meshPipeline.err = fmt.Errorf("mesh compute setup: %w", err)
	}

	devices := &DeviceVolumes{Resources: map[volume.Id]*gpu.DeviceVolumeResources{}}
	sets := &BindingSets{Sets: map[volume.Id]*gpu.BindingSet{}}

	cmd.AddResources(
		&RenderDevice{Device: m.Device},
		meshPipeline,
		&MeshComputeSettings{
			RebuildEveryRound: m.RebuildEveryRound,
			MapTimeout:        m.MapTimeout,
			ReportEvery:       m.ReportEvery,
		},
		m.Bridge.Snapshots,
		&ExtractedVolumes{Entries: map[volume.Id]VolumeSnapshotEntry{}},
		devices,
		sets,
		&MeshNode{Node: &gpu.MeshComputeNode{RebuildEveryRound: m.RebuildEveryRound, Logger: log}},
		&ReadbackSender{Sender: m.Bridge.Sender},
		NewProfiler(),
	)

	cmd.UseSystem(System(extractVolumesSystem).InStage(Extract)).
		UseSystem(System(initializeVolumesSystem).InStage(Extract)).
		UseSystem(System(refreshVolumesSystem).InStage(Extract)).
		UseSystem(System(bindNewVolumesSystem).InStage(Extract)).
		UseSystem(System(prepareBindingSetsSystem).InStage(Prepare)).
		UseSystem(System(meshComputeNodeSystem).InStage(Render)).
		UseSystem(System(readbackSystem).InStage(Cleanup)).
		UseSystem(System(profilerReportSystem).InStage(Cleanup))

	app.onClose(func() {
		for _, id := range gpu.SortedIds(sets.Sets) {
			sets.Sets[id].Release()
		}
		for _, id := range gpu.SortedIds(devices.Resources) {
			devices.Resources[id].Release()
		}
		if meshPipeline.Pipeline != nil {
			meshPipeline.Pipeline.Release()
		}
		if m.OwnsDevice {
			m.Device.Release()
		}
	})
}

func extractVolumesSystem(snapshots *SnapshotContainer, ext *ExtractedVolumes, devices *DeviceVolumes, pipeline *MeshPipeline, prof *Profiler) error {
	if pipeline.err != nil {
		return pipeline.err
	}
	prof.BeginScope("Extract")
	defer prof.EndScope("Extract")

	ext.Added, ext.Changed, ext.Removed = nil, nil, nil
	snap := snapshots.Get()
	if snap == nil {
		return nil
	}
	ext.Revision = snap.Revision

	present := make(map[volume.Id]bool, len(snap.Volumes))
	for _, e := range snap.Volumes {
		present[e.Id] = true
		ext.Entries[e.Id] = e
		res, known := devices.Resources[e.Id]
		switch {
		case !known:
			ext.Added = append(ext.Added, e.Id)
		case res.Version != e.Version:
			ext.Changed = append(ext.Changed, e.Id)
		}
	}
	for _, id := range gpu.SortedIds(ext.Entries) {
		if !present[id] {
			ext.Removed = append(ext.Removed, id)
			delete(ext.Entries, id)
		}
	}
	return nil
}

func initializeVolumesSystem(device *RenderDevice, ext *ExtractedVolumes, devices *DeviceVolumes, log Logger) error {
	for _, id := range ext.Added {
		e := ext.Entries[id]
		res, err := gpu.NewDeviceVolumeResources(device.Device, e.Descriptor, e.Version)
		if err != nil {
			return fmt.Errorf("initialize volume %s: %w", id.Short(), err)
		}
		devices.Resources[id] = res
		log.Debugf("uploaded volume %s (chunk %d, version %d)", id.Short(), res.ChunkSize, res.Version)
	}
	return nil
}

func refreshVolumesSystem(device *RenderDevice, ext *ExtractedVolumes, devices *DeviceVolumes, sets *BindingSets, settings *MeshComputeSettings, log Logger) error {
	for _, id := range ext.Removed {
		if set, ok := sets.Sets[id]; ok {
			set.Release()
			delete(sets.Sets, id)
		}
		if res, ok := devices.Resources[id]; ok {
			res.Release()
			delete(devices.Resources, id)
		}
		log.Debugf("released volume %s", id.Short())
	}

	ids := ext.Changed
	if settings.RebuildEveryRound {
		added := make(map[volume.Id]bool, len(ext.Added))
		for _, id := range ext.Added {
			added[id] = true
		}
		ids = nil
		for _, id := range gpu.SortedIds(devices.Resources) {
			if !added[id] {
				ids = append(ids, id)
			}
		}
	}
	for _, id := range ids {
		e, ok := ext.Entries[id]
		res := devices.Resources[id]
		if !ok || res == nil {
			continue
		}
		if err := res.Rebuild(device.Device, e.Descriptor, e.Version); err != nil {
			return fmt.Errorf("refresh volume %s: %w", id.Short(), err)
		}
	}
	return nil
}

func bindNewVolumesSystem(device *RenderDevice, pipeline *MeshPipeline, ext *ExtractedVolumes, devices *DeviceVolumes, sets *BindingSets) error {
	for _, id := range ext.Added {
		res, ok := devices.Resources[id]
		if !ok {
			continue
		}
		set, err := gpu.BuildBindingSet(device.Device, pipeline.Pipeline.Layout, id, res)
		if err != nil {
			return err
		}
		sets.Sets[id] = set
	}
	return nil
}

func prepareBindingSetsSystem(device *RenderDevice, pipeline *MeshPipeline, devices *DeviceVolumes, sets *BindingSets, settings *MeshComputeSettings, prof *Profiler) error {
	prof.BeginScope("Prepare")
	defer prof.EndScope("Prepare")

	for _, id := range gpu.SortedIds(devices.Resources) {
		res := devices.Resources[id]
		old := sets.Sets[id]
		if old != nil && !old.Stale(res) && !settings.RebuildEveryRound {
			continue
		}
		set, err := gpu.BuildBindingSet(device.Device, pipeline.Pipeline.Layout, id, res)
		if err != nil {
			return err
		}
		if old != nil {
			old.Release()
		}
		sets.Sets[id] = set
	}
	return nil
}

func meshComputeNodeSystem(device *RenderDevice, pipeline *MeshPipeline, devices *DeviceVolumes, sets *BindingSets, node *MeshNode, prof *Profiler) error {
	prof.BeginScope("Dispatch")
	defer prof.EndScope("Dispatch")

	report, err := node.Node.Run(device.Device, pipeline.Pipeline, devices.Resources, sets.Sets)
	node.LastReport = report
	prof.SetCount("Volumes", len(devices.Resources))
	prof.AddCount("Dispatched", len(report.Dispatched))
	prof.AddCount("NotReady", len(report.SkippedNotReady))
	prof.AddCount("Missing", len(report.SkippedMissing))
	return err
}

func readbackSystem(ctx context.Context, device *RenderDevice, devices *DeviceVolumes, settings *MeshComputeSettings, tx *ReadbackSender, t *Time, prof *Profiler) error {
	prof.BeginScope("Readback")
	defer prof.EndScope("Readback")

	sent, err := gpu.MapAndRead(ctx, device.Device, devices.Resources, t.Round, settings.MapTimeout, tx.Sender)
	prof.AddCount("Sent", sent)
	prof.SetCount("Dropped", int(tx.Sender.Dropped()))
	return err
}

func profilerReportSystem(prof *Profiler, settings *MeshComputeSettings, t *Time, log Logger) {
	if settings.ReportEvery == 0 || t.Round%settings.ReportEvery != 0 || !log.DebugEnabled() {
		return
	}
	log.Debugf("round %d\n%s", t.Round, prof.GetStatsString())
	prof.Reset()
}
