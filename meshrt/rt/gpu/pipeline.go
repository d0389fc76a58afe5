package gpu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/naga"

	"github.com/gekko3d/voxmesh/meshrt/rt/shaders"
)

// Logger is the logging surface the GPU domain needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type PipelineStatus int32

const (
	PipelineQueued PipelineStatus = iota
	PipelineLinted
	PipelineReady
	PipelineFailed
)

func (s PipelineStatus) String() string {
	switch s {
	case PipelineQueued:
		return "queued"
	case PipelineLinted:
		return "linted"
	case PipelineReady:
		return "ready"
	case PipelineFailed:
		return "failed"
	}
	return fmt.Sprintf("PipelineStatus(%d)", int32(s))
}

type ShaderSource struct {
	Path       string
	Code       string
	EntryPoint string
}

// LintWGSL validates WGSL with the pure-Go naga front end.
func LintWGSL(code string) error {
	_, err := naga.Compile(code)
	return err
}

// MeshComputePipeline owns the bind group layout and the lazily created
// compute pipeline. Compilation is queued at construction and resolved by Get
// on the GPU domain once the background lint has finished.
type MeshComputePipeline struct {
	Layout BindGroupLayout
	Source ShaderSource

	device Device
	logger Logger

	status   atomic.Int32
	linted   chan struct{}
	lintErr  error
	mu       sync.Mutex
	pipeline ComputePipeline
	err      error
}

// NewMeshComputePipeline creates the layout and queues compilation. A nil
// lint skips validation.
func NewMeshComputePipeline(device Device, source ShaderSource, lint func(string) error, logger Logger) (*MeshComputePipeline, error) {
	if source.EntryPoint == "" {
		source.EntryPoint = shaders.MarchingCubesEntry
	}
	layout, err := device.CreateBindGroupLayout("MeshCompute BGL", LayoutEntries())
	if err != nil {
		return nil, err
	}

	p := &MeshComputePipeline{
		Layout: layout,
		Source: source,
		device: device,
		logger: logger,
		linted: make(chan struct{}),
	}
	go func() {
		if lint != nil {
			p.lintErr = lint(source.Code)
		}
		p.status.CompareAndSwap(int32(PipelineQueued), int32(PipelineLinted))
		close(p.linted)
	}()
	return p, nil
}

func (p *MeshComputePipeline) Status() PipelineStatus {
	return PipelineStatus(p.status.Load())
}

// Get returns the compiled pipeline, or ok=false while compilation is still
// queued. A device compile failure is returned once and then sticks.
func (p *MeshComputePipeline) Get() (ComputePipeline, bool, error) {
	select {
	case <-p.linted:
	default:
		return nil, false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipeline != nil {
		return p.pipeline, true, nil
	}
	if p.err != nil {
		return nil, false, p.err
	}

	if p.lintErr != nil {
		// The device compiler is authoritative; naga may lag behind it.
		p.logger.Warnf("shader %s: lint: %v", p.Source.Path, p.lintErr)
	}
	pipeline, err := p.device.CreateComputePipeline(ComputePipelineDescriptor{
		Label:      "MeshCompute",
		Layout:     p.Layout,
		Source:     p.Source.Code,
		EntryPoint: p.Source.EntryPoint,
	})
	if err != nil {
		p.err = fmt.Errorf("gpu: compile %s: %w", p.Source.Path, err)
		p.status.Store(int32(PipelineFailed))
		return nil, false, p.err
	}
	p.pipeline = pipeline
	p.status.Store(int32(PipelineReady))
	p.logger.Infof("shader %s ready (entry %s)", p.Source.Path, p.Source.EntryPoint)
	return pipeline, true, nil
}

// Wait blocks until the pipeline is ready or has failed.
func (p *MeshComputePipeline) Wait(ctx context.Context) error {
	select {
	case <-p.linted:
	case <-ctx.Done():
		return ctx.Err()
	}
	_, _, err := p.Get()
	return err
}

func (p *MeshComputePipeline) Release() {
	<-p.linted
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.Layout != nil {
		p.Layout.Release()
		p.Layout = nil
	}
}

// DispatchSize returns the workgroup grid covering a chunk: ceil(n/4) per
// axis for the shader's 4x4x4 local size.
func DispatchSize(chunkSize uint32) (x, y, z uint32) {
	g := (chunkSize + shaders.WorkgroupSize - 1) / shaders.WorkgroupSize
	return g, g, g
}
