package gpu_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gekko3d/voxmesh/meshrt/rt/gpu"
	"github.com/gekko3d/voxmesh/meshrt/rt/gpu/soft"
	"github.com/gekko3d/voxmesh/meshrt/rt/mc"
	"github.com/gekko3d/voxmesh/meshrt/rt/readback"
	"github.com/gekko3d/voxmesh/meshrt/rt/shaders"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) add(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *testLogger) Debugf(format string, args ...any) { l.add("DEBUG", format, args...) }
func (l *testLogger) Infof(format string, args ...any)  { l.add("INFO", format, args...) }
func (l *testLogger) Warnf(format string, args ...any)  { l.add("WARN", format, args...) }

func (l *testLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func newDevice(opts soft.Options) *soft.Device {
	if opts.Limits == (gpu.Limits{}) {
		opts.Limits = gpu.DefaultLimits()
	}
	d := soft.NewDevice(opts)
	d.RegisterKernel(shaders.MarchingCubesEntry, mc.Kernel)
	return d
}

func marchingCubesSource() gpu.ShaderSource {
	return gpu.ShaderSource{
		Path:       shaders.MarchingCubesPath,
		Code:       shaders.MarchingCubesWGSL,
		EntryPoint: shaders.MarchingCubesEntry,
	}
}

func readyPipeline(t *testing.T, device gpu.Device, log *testLogger) *gpu.MeshComputePipeline {
	t.Helper()
	p, err := gpu.NewMeshComputePipeline(device, marchingCubesSource(), nil, log)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	return p
}

func uniformVolume(t *testing.T, n uint32, density float32) volume.Descriptor {
	t.Helper()
	desc, err := volume.NewDescriptor(n)
	require.NoError(t, err)
	for i := range desc.Voxels {
		desc.Voxels[i].Density = density
	}
	return desc
}

func sphereVolume(t *testing.T, n uint32) volume.Descriptor {
	t.Helper()
	desc := uniformVolume(t, n, 0)
	c := float32(n-1) / 2
	r := float32(n) / 3
	for z := uint32(0); z < n; z++ {
		for y := uint32(0); y < n; y++ {
			for x := uint32(0); x < n; x++ {
				dx, dy, dz := float32(x)-c, float32(y)-c, float32(z)-c
				if dx*dx+dy*dy+dz*dz <= r*r {
					desc.Set(x, y, z, volume.NewVoxel(3, 1))
				}
			}
		}
	}
	return desc
}

// harness is a minimal GPU domain: one resources map, one bindings map, a
// node and a readback channel.
type harness struct {
	t         *testing.T
	device    *soft.Device
	log       *testLogger
	pipeline  *gpu.MeshComputePipeline
	node      *gpu.MeshComputeNode
	resources map[volume.Id]*gpu.DeviceVolumeResources
	bindings  map[volume.Id]*gpu.BindingSet
	tx        *readback.Sender
	rx        *readback.Receiver
	round     uint64
}

func newHarness(t *testing.T, opts soft.Options) *harness {
	log := &testLogger{}
	device := newDevice(opts)
	tx, rx := readback.NewChannel(4, readback.DropOldest)
	return &harness{
		t:         t,
		device:    device,
		log:       log,
		pipeline:  readyPipeline(t, device, log),
		node:      &gpu.MeshComputeNode{Logger: log},
		resources: map[volume.Id]*gpu.DeviceVolumeResources{},
		bindings:  map[volume.Id]*gpu.BindingSet{},
		tx:        tx,
		rx:        rx,
	}
}

func (h *harness) add(desc volume.Descriptor, bind bool) volume.Id {
	h.t.Helper()
	id := volume.NewId()
	res, err := gpu.NewDeviceVolumeResources(h.device, desc, 1)
	require.NoError(h.t, err)
	h.resources[id] = res
	if bind {
		bs, err := gpu.BuildBindingSet(h.device, h.pipeline.Layout, id, res)
		require.NoError(h.t, err)
		h.bindings[id] = bs
	}
	return id
}

// step runs dispatch then readback and returns the node report and the number
// of messages sent.
func (h *harness) step(timeout time.Duration) (gpu.NodeReport, int, error) {
	h.round++
	report, err := h.node.Run(h.device, h.pipeline, h.resources, h.bindings)
	if err != nil {
		return report, 0, err
	}
	sent, err := gpu.MapAndRead(context.Background(), h.device, h.resources, h.round, timeout, h.tx)
	return report, sent, err
}
