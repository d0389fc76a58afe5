package gpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/gekko3d/voxmesh/meshrt/rt/readback"
	"github.com/gekko3d/voxmesh/meshrt/rt/volume"
)

type AtomicCounters = readback.Counters

var (
	ErrMapFailed  = errors.New("gpu: staging buffer mapping failed")
	ErrMapTimeout = errors.New("gpu: staging buffer mapping timed out")
	// ErrDevice wraps errors the device raised while executing work.
	ErrDevice = errors.New("gpu: device error")
)

// deviceErr wraps the device's recorded error, if any, in ErrDevice.
func deviceErr(device Device) error {
	err := device.Err()
	if err == nil || errors.Is(err, ErrDevice) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDevice, err)
}

// MessageSender is the producer half of the readback channel.
type MessageSender interface {
	Send(ctx context.Context, msg readback.Message) error
}

// DecodeCounters reads the staging header.
func DecodeCounters(header []byte) AtomicCounters {
	return AtomicCounters{
		VerticesHead: binary.LittleEndian.Uint32(header[0:]),
		IndicesHead:  binary.LittleEndian.Uint32(header[4:]),
	}
}

type mapFuture struct {
	id     volume.Id
	res    *DeviceVolumeResources
	status wgpu.BufferMapAsyncStatus
	err    error
	done   bool
}

// MapAndRead maps the staging buffer of every volume in StateCopying, waits
// for all mappings, and sends one tagged message per volume. It returns the
// number of messages sent. Every mapped buffer is unmapped and returned to
// StateIdle, even when an error is returned. Nothing is sent once the device
// reports an execution error, since the staging contents are then undefined.
func MapAndRead(ctx context.Context, device Device, resources map[volume.Id]*DeviceVolumeResources, round uint64, timeout time.Duration, out MessageSender) (int, error) {
	var (
		mu        sync.Mutex
		futures   []*mapFuture
		remaining int
	)
	for _, id := range SortedIds(resources) {
		res := resources[id]
		if res.State() != StateCopying {
			continue
		}
		f := &mapFuture{id: id, res: res}
		mu.Lock()
		futures = append(futures, f)
		remaining++
		mu.Unlock()

		size := res.StagingVertices.Size()
		err := device.MapAsync(res.StagingVertices, wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
			mu.Lock()
			defer mu.Unlock()
			f.status = status
			f.done = true
			remaining--
		})
		if err != nil {
			mu.Lock()
			f.done = true
			f.err = err
			remaining--
			mu.Unlock()
		}
	}
	if len(futures) == 0 {
		return 0, nil
	}

	err := joinMaps(ctx, device, timeout, func() int {
		mu.Lock()
		defer mu.Unlock()
		return remaining
	})
	if err == nil {
		err = deviceErr(device)
	}

	sent := 0
	for _, f := range futures {
		mu.Lock()
		done, status, mapErr := f.done, f.status, f.err
		mu.Unlock()

		if !done {
			// The mapping may still resolve later; the buffer stays owned by
			// the pending map until the device is torn down.
			continue
		}
		if mapErr != nil || status != wgpu.BufferMapAsyncStatusSuccess {
			f.res.setState(StateIdle)
			if err == nil && mapErr != nil {
				err = fmt.Errorf("%w: %s: %v", ErrMapFailed, f.id.Short(), mapErr)
			} else if err == nil {
				err = fmt.Errorf("%w: %s: status %v", ErrMapFailed, f.id.Short(), status)
			}
			continue
		}

		msg := readStaging(device, f.id, f.res, round)
		unmapErr := device.Unmap(f.res.StagingVertices)
		f.res.setState(StateIdle)
		if err == nil && unmapErr != nil {
			err = fmt.Errorf("%w: %s: %w", ErrMapFailed, f.id.Short(), unmapErr)
		}

		if err != nil {
			continue
		}
		if sendErr := out.Send(ctx, msg); sendErr != nil {
			err = fmt.Errorf("gpu: send readback %s: %w", f.id.Short(), sendErr)
			continue
		}
		sent++
	}
	return sent, err
}

// joinMaps polls the device until every future resolved or the device fails.
// Without a timeout it waits on the device; with one it polls without
// blocking so the deadline can be honoured.
func joinMaps(ctx context.Context, device Device, timeout time.Duration, remaining func() int) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for remaining() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if deadline.IsZero() {
			device.Poll(true)
		} else {
			if time.Now().After(deadline) {
				return fmt.Errorf("%w after %s (%d pending)", ErrMapTimeout, timeout, remaining())
			}
			device.Poll(false)
		}
		if err := deviceErr(device); err != nil {
			return err
		}
		if !deadline.IsZero() && remaining() > 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

func readStaging(device Device, id volume.Id, res *DeviceVolumeResources, round uint64) readback.Message {
	size := res.StagingVertices.Size()
	data := device.MappedRange(res.StagingVertices, 0, size)

	msg := readback.Message{
		Volume:   id,
		Round:    round,
		Counters: DecodeCounters(data[:StagingHeaderSize]),
	}
	body := data[StagingHeaderSize:]
	msg.Words = make([]uint32, len(body)/4)
	for i := range msg.Words {
		msg.Words[i] = binary.LittleEndian.Uint32(body[i*4:])
	}
	return msg
}
