package soft

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/voxmesh/meshrt/rt/gpu"
)

var errPassOpen = errors.New("soft: compute pass still open")

type encoder struct {
	label    string
	commands []command
	copyDsts []*Buffer
	open     bool
	err      error
	finished bool
}

type commandBuffer struct {
	commands []command
	// copyDsts must not be mapped or pending a map when submitted.
	copyDsts []*Buffer
}

func (c *commandBuffer) Release() {}

func (e *encoder) BeginComputePass(label string) gpu.ComputePass {
	if e.open && e.err == nil {
		e.err = errPassOpen
	}
	e.open = true
	return &computePass{encoder: e, label: label}
}

func (e *encoder) CopyBufferToBuffer(src gpu.Buffer, srcOffset uint64, dst gpu.Buffer, dstOffset uint64, size uint64) error {
	if e.open {
		return errPassOpen
	}
	s, ok := src.(*Buffer)
	if !ok {
		return fmt.Errorf("soft: foreign buffer %s", src.Label())
	}
	t, ok := dst.(*Buffer)
	if !ok {
		return fmt.Errorf("soft: foreign buffer %s", dst.Label())
	}
	if s.usage&wgpu.BufferUsageCopySrc == 0 {
		return fmt.Errorf("soft: copy from %s without CopySrc", s.label)
	}
	if t.usage&wgpu.BufferUsageCopyDst == 0 {
		return fmt.Errorf("soft: copy to %s without CopyDst", t.label)
	}
	if size%4 != 0 || srcOffset%4 != 0 || dstOffset%4 != 0 {
		return fmt.Errorf("soft: unaligned copy %s -> %s", s.label, t.label)
	}
	if srcOffset+size > uint64(len(s.data)) || dstOffset+size > uint64(len(t.data)) {
		return fmt.Errorf("soft: copy of %d bytes %s@%d -> %s@%d out of range", size, s.label, srcOffset, t.label, dstOffset)
	}

	e.copyDsts = append(e.copyDsts, t)
	e.commands = append(e.commands, func(st *Stats) error {
		if s.released || t.released {
			return fmt.Errorf("soft: copy %s -> %s touches a released buffer", s.label, t.label)
		}
		copy(t.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		st.Copies++
		return nil
	})
	return nil
}

func (e *encoder) Finish() (gpu.CommandBuffer, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.open {
		return nil, errPassOpen
	}
	if e.finished {
		return nil, fmt.Errorf("soft: encoder %s already finished", e.label)
	}
	e.finished = true
	return &commandBuffer{commands: e.commands, copyDsts: e.copyDsts}, nil
}

func (e *encoder) Release() {}

type computePass struct {
	encoder  *encoder
	label    string
	pipeline *ComputePipeline
	group    *BindGroup
	ended    bool
}

func (p *computePass) SetPipeline(pipeline gpu.ComputePipeline) {
	p.pipeline, _ = pipeline.(*ComputePipeline)
}

func (p *computePass) SetBindGroup(index uint32, group gpu.BindGroup) {
	if index != 0 {
		p.fail(fmt.Errorf("soft: pass %s binds group %d, only group 0 exists", p.label, index))
		return
	}
	p.group, _ = group.(*BindGroup)
}

func (p *computePass) DispatchWorkgroups(x, y, z uint32) {
	if p.pipeline == nil || p.group == nil {
		p.fail(fmt.Errorf("soft: pass %s dispatches without pipeline or bind group", p.label))
		return
	}
	kernel, group := p.pipeline.kernel, p.group
	groups := [3]uint32{x, y, z}
	p.encoder.commands = append(p.encoder.commands, func(st *Stats) error {
		slots := make(map[uint32][]byte, len(group.buffers))
		for slot, b := range group.buffers {
			if b.released {
				return fmt.Errorf("soft: dispatch reads released buffer %s", b.label)
			}
			slots[slot] = b.data
		}
		st.Dispatches++
		return kernel(groups, slots)
	})
}

func (p *computePass) End() error {
	if p.ended {
		return fmt.Errorf("soft: pass %s ended twice", p.label)
	}
	p.ended = true
	p.encoder.open = false
	return p.encoder.err
}

func (p *computePass) fail(err error) {
	if p.encoder.err == nil {
		p.encoder.err = err
	}
}
