package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	voxmesh "github.com/gekko3d/voxmesh"
	"github.com/gekko3d/voxmesh/meshrt/rt/gpu"
	"github.com/gekko3d/voxmesh/meshrt/rt/gpu/soft"
	"github.com/gekko3d/voxmesh/meshrt/rt/mc"
	"github.com/gekko3d/voxmesh/meshrt/rt/readback"
	"github.com/gekko3d/voxmesh/meshrt/rt/shaders"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

func main() {
	backend := flag.String("backend", "wgpu", "compute backend: wgpu or cpu")
	chunk := flag.Uint("chunk", voxmesh.DefaultChunkSize, "voxels per chunk axis")
	shape := flag.String("shape", "heightfield", "generated volume: heightfield, sphere or solid")
	rounds := flag.Uint64("rounds", 10, "control rounds to run (0 runs until interrupted)")
	interval := flag.Duration("interval", 16*time.Millisecond, "round interval of both domains")
	debug := flag.Bool("debug", false, "enable debug logging and profiler reports")
	rebuild := flag.Bool("rebuild-every-round", false, "rebuild and dispatch every volume each round")
	policy := flag.String("policy", "drop-oldest", "readback overflow policy: drop-oldest or block")
	capacity := flag.Int("capacity", 16, "readback channel capacity")
	mapTimeout := flag.Duration("map-timeout", 0, "staging map timeout (0 waits forever)")
	shaderDir := flag.String("shader-dir", "", "directory overriding the embedded shaders")
	voxPath := flag.String("vox", "", "load the volume from a MagicaVoxel .vox file instead of -shape")
	dumpSlice := flag.String("dump-slice", "", "write the middle z slice of the volume as BMP to this path")
	flag.Parse()

	if err := run(options{
		backend:    *backend,
		chunk:      uint32(*chunk),
		shape:      *shape,
		rounds:     *rounds,
		interval:   *interval,
		debug:      *debug,
		rebuild:    *rebuild,
		policy:     *policy,
		capacity:   *capacity,
		mapTimeout: *mapTimeout,
		shaderDir:  *shaderDir,
		dumpSlice:  *dumpSlice,
		voxPath:    *voxPath,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "voxmesh:", err)
		os.Exit(1)
	}
}

type options struct {
	backend    string
	chunk      uint32
	shape      string
	rounds     uint64
	interval   time.Duration
	debug      bool
	rebuild    bool
	policy     string
	capacity   int
	mapTimeout time.Duration
	shaderDir  string
	dumpSlice  string
	voxPath    string
}

func run(opts options) error {
	policy, err := readback.ParseOverflowPolicy(opts.policy)
	if err != nil {
		return err
	}
	generator, err := pickGenerator(opts.shape, opts.voxPath)
	if err != nil {
		return err
	}
	if opts.dumpSlice != "" {
		if err := dumpSlice(generator, opts.chunk, opts.dumpSlice); err != nil {
			return err
		}
	}

	bridge := voxmesh.NewBridge(voxmesh.BridgeConfig{
		ReadbackCapacity: opts.capacity,
		OverflowPolicy:   policy,
	})
	meshes := voxmesh.NewMeshCollector()

	control := voxmesh.NewAppBuilder().
		UseModule(voxmesh.LoggingModule{Debug: opts.debug}).
		UseModule(voxmesh.TimeModule{}).
		UseModule(voxmesh.VolumeModule{
			ChunkSize:  opts.chunk,
			Generators: []voxmesh.VolumeGenerator{generator},
			Bridge:     bridge,
		}).
		UseModule(voxmesh.ReadbackModule{Bridge: bridge, Sink: meshes}).
		Build()

	reportEvery := uint64(0)
	if opts.debug {
		reportEvery = 60
	}
	// Runs on the GPU goroutine, which then owns the device until it closes.
	newGpu := func() (*voxmesh.App, error) {
		device, err := openDevice(opts.backend)
		if err != nil {
			return nil, err
		}
		return voxmesh.NewGpuAppBuilder().
			UseModule(voxmesh.LoggingModule{Debug: opts.debug}).
			UseModule(voxmesh.TimeModule{}).
			UseModule(voxmesh.MeshComputeModule{
				Device:            device,
				Bridge:            bridge,
				OwnsDevice:        true,
				RebuildEveryRound: opts.rebuild,
				MapTimeout:        opts.mapTimeout,
				ShaderDir:         opts.shaderDir,
				ReportEvery:       reportEvery,
			}).
			Build(), nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner := &voxmesh.Runner{
		Control:         control,
		NewGpu:          newGpu,
		ControlInterval: opts.interval,
		GpuInterval:     opts.interval,
		Rounds:          opts.rounds,
	}
	if err := runner.Run(ctx); err != nil {
		return err
	}
	control.Logger().Infof("received %d mesh readbacks", meshes.Count())
	return nil
}

func openDevice(backend string) (gpu.Device, error) {
	switch backend {
	case "wgpu":
		return gpu.NewWGPUDevice()
	case "cpu":
		d := soft.NewDevice(soft.Options{Limits: gpu.DefaultLimits()})
		d.RegisterKernel(shaders.MarchingCubesEntry, mc.Kernel)
		return d, nil
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

func pickGenerator(shape, voxPath string) (voxmesh.VolumeGenerator, error) {
	if voxPath != "" {
		return voxmesh.VoxModelGenerator{Path: voxPath}, nil
	}
	switch shape {
	case "heightfield":
		return voxmesh.HeightfieldGenerator{}, nil
	case "sphere":
		return voxmesh.SphereGenerator{Flags: 1}, nil
	case "solid":
		return voxmesh.UniformGenerator{Voxel: volume.DefaultVoxel()}, nil
	}
	return nil, fmt.Errorf("unknown shape %q", shape)
}

func dumpSlice(gen voxmesh.VolumeGenerator, chunk uint32, path string) error {
	desc, err := gen.Generate(chunk)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := desc.WriteSliceBMP(f, chunk/2); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
