package gpu

import (
	"fmt"

	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

// NodeReport summarises one round of the mesh compute node.
type NodeReport struct {
	Dispatched      []volume.Id
	SkippedNotReady []volume.Id
	SkippedMissing  []volume.Id
}

// MeshComputeNode encodes the marching-cubes dispatch and the staging copy
// for every volume that has both resources and a current binding set.
type MeshComputeNode struct {
	// RebuildEveryRound dispatches every known volume each round instead of
	// only volumes whose resources changed.
	RebuildEveryRound bool
	Logger            Logger
}

var zeroCounters = make([]byte, AtomicsSize)

// Run encodes one command buffer for the round and submits it. Volumes leave
// Run in StateCopying; MapAndRead returns them to StateIdle. An error the
// device already reported is returned wrapped in ErrDevice.
func (n *MeshComputeNode) Run(device Device, pipeline *MeshComputePipeline, resources map[volume.Id]*DeviceVolumeResources, bindings map[volume.Id]*BindingSet) (NodeReport, error) {
	var report NodeReport

	ids := SortedIds(resources)
	for id := range bindings {
		if _, ok := resources[id]; !ok {
			ids = append(ids, id)
		}
	}

	var work []volume.Id
	for _, id := range ids {
		res, hasRes := resources[id]
		bs, hasSet := bindings[id]
		switch {
		case !hasRes || !hasSet:
			n.Logger.Debugf("mesh compute: skipping %s (resources=%t bindings=%t)", id.Short(), hasRes, hasSet)
			report.SkippedMissing = append(report.SkippedMissing, id)
		case bs.Stale(res):
			n.Logger.Debugf("mesh compute: skipping %s (stale bindings)", id.Short())
			report.SkippedMissing = append(report.SkippedMissing, id)
		case res.State() != StateIdle:
			n.Logger.Debugf("mesh compute: skipping %s (%s)", id.Short(), res.State())
		case res.NeedsDispatch(n.RebuildEveryRound):
			work = append(work, id)
		}
	}
	if len(work) == 0 {
		return report, nil
	}

	compiled, ok, err := pipeline.Get()
	if err != nil {
		return report, err
	}
	if !ok {
		n.Logger.Debugf("mesh compute: pipeline %s, deferring %d volumes", pipeline.Status(), len(work))
		report.SkippedNotReady = work
		return report, nil
	}

	encoder, err := device.CreateCommandEncoder("MeshCompute")
	if err != nil {
		return report, err
	}
	defer encoder.Release()

	for _, id := range work {
		res, bs := resources[id], bindings[id]

		// Queue writes land before the submit below.
		if err := device.WriteBuffer(res.Atomics, 0, zeroCounters); err != nil {
			return report, fmt.Errorf("gpu: reset counters %s: %w", id.Short(), err)
		}

		res.setState(StateDispatching)
		pass := encoder.BeginComputePass("MeshCompute " + id.Short())
		pass.SetBindGroup(0, bs.Group)
		pass.SetPipeline(compiled)
		pass.DispatchWorkgroups(DispatchSize(res.ChunkSize))
		if err := pass.End(); err != nil {
			return report, fmt.Errorf("gpu: end compute pass %s: %w", id.Short(), err)
		}

		if err := encoder.CopyBufferToBuffer(res.Atomics, 0, res.StagingVertices, 0, AtomicsSize); err != nil {
			return report, err
		}
		if err := encoder.CopyBufferToBuffer(res.Vertices, 0, res.StagingVertices, StagingHeaderSize, res.VertexCopySize()); err != nil {
			return report, err
		}
		res.setState(StateCopying)
		res.markDispatched()
		report.Dispatched = append(report.Dispatched, id)
	}

	cmd, err := encoder.Finish()
	if err != nil {
		return report, err
	}
	defer cmd.Release()
	if err := device.Submit(cmd); err != nil {
		return report, fmt.Errorf("gpu: submit mesh compute: %w", err)
	}
	return report, deviceErr(device)
}
