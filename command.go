package voxmesh

import (
	"encoding/binary"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// LayoutLookup resolves a shader entry point to its cached bind group
// layout. Unknown names are a caller bug and panic.
type LayoutLookup func(entryPoint string) *wgpu.BindGroupLayout

// PipelineLookup resolves a shader entry point to its compiled compute
// pipeline. Unknown names are a caller bug and panic.
type PipelineLookup func(entryPoint string) *wgpu.ComputePipeline

// DoneFunc receives a command's completion, possibly on a device callback
// thread. A nil error means success.
type DoneFunc func(err error)

// MapError is a device-reported asynchronous buffer map failure.
type MapError struct {
	Status wgpu.BufferMapAsyncStatus
}

func (e *MapError) Error() string {
	return fmt.Sprintf("buffer map failed: status %d", e.Status)
}

// VoxelCommand is a unit of GPU work.
//
// Call the methods in order, each exactly once per run:
//   - Prepare creates buffers and the bind group. Commands with a kernel
//     expose their entry point and a bind group layout constructor; cache
//     the layouts at startup and pass the lookup in here.
//   - AddPass records the compute dispatch, if the command has one.
//   - AddCopy records device-to-host-visible copies, if any. The copy must
//     execute after the pass.
//   - AsyncFinish maps any copy destination and calls done once the map
//     settles. Only call it after the recorded work was submitted.
type VoxelCommand interface {
	Prepare(device *wgpu.Device, getLayout LayoutLookup)
	AddPass(encoder *wgpu.CommandEncoder, getPipeline PipelineLookup)
	AddCopy(encoder *wgpu.CommandEncoder)
	AsyncFinish(done DoneFunc)
}

// CreateGridCommand creates a voxel grid buffer of the given size. An
// existing destination grid of the same size is reused without clearing.
type CreateGridCommand struct {
	grid *SharedVoxelGrid
	size [3]uint32
}

func NewCreateGridCommand(grid *SharedVoxelGrid, size [3]uint32) *CreateGridCommand {
	return &CreateGridCommand{grid: grid, size: size}
}

func (c *CreateGridCommand) Prepare(device *wgpu.Device, _ LayoutLookup) {
	c.grid.Lock()
	defer c.grid.Unlock()
	if c.grid.Grid != nil {
		if c.grid.Grid.Size == c.size {
			return
		}
		c.grid.Grid.Release()
	}
	buffer, err := NewVoxelGridBuffer(device, c.size)
	if err != nil {
		panic(fmt.Sprintf("create voxel grid %v: %v", c.size, err))
	}
	c.grid.Grid = buffer
}

func (c *CreateGridCommand) AddPass(_ *wgpu.CommandEncoder, _ PipelineLookup) {}

func (c *CreateGridCommand) AddCopy(_ *wgpu.CommandEncoder) {}

func (c *CreateGridCommand) AsyncFinish(done DoneFunc) {
	done(nil)
}

// GetVoxelsCommand reads a grid back as packed voxel words. The callback
// runs on the thread the device delivers the map completion on. If the grid
// was never created the command completes without delivering a result.
type GetVoxelsCommand struct {
	grid     *SharedVoxelGrid
	callback func(VoxelGridVec)

	// Snapshot taken in Prepare.
	size       [3]uint32
	bufferSize uint64
	copyBuffer *wgpu.Buffer
}

func NewGetVoxelsCommand(grid *SharedVoxelGrid, callback func(VoxelGridVec)) *GetVoxelsCommand {
	return &GetVoxelsCommand{grid: grid, callback: callback}
}

func (c *GetVoxelsCommand) Prepare(device *wgpu.Device, _ LayoutLookup) {
	c.grid.Lock()
	defer c.grid.Unlock()
	if c.grid.Grid == nil {
		return
	}
	c.size = c.grid.Grid.Size
	c.bufferSize = c.grid.Grid.ByteSize()
	copyBuffer, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "GetVoxels Readback",
		Size:  c.bufferSize,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		panic(fmt.Sprintf("create voxel readback buffer: %v", err))
	}
	c.copyBuffer = copyBuffer
}

func (c *GetVoxelsCommand) AddPass(_ *wgpu.CommandEncoder, _ PipelineLookup) {}

func (c *GetVoxelsCommand) AddCopy(encoder *wgpu.CommandEncoder) {
	if c.copyBuffer == nil {
		return
	}
	c.grid.Lock()
	defer c.grid.Unlock()
	encoder.CopyBufferToBuffer(c.grid.Grid.Buffer, 0, c.copyBuffer, 0, c.bufferSize)
}

func (c *GetVoxelsCommand) AsyncFinish(done DoneFunc) {
	if c.copyBuffer == nil {
		done(nil)
		return
	}
	callback := c.callback
	size := c.size
	bufferSize := c.bufferSize
	copyBuffer := c.copyBuffer
	c.copyBuffer = nil
	copyBuffer.MapAsync(wgpu.MapModeRead, 0, bufferSize, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			copyBuffer.Release()
			done(&MapError{Status: status})
			return
		}
		raw := copyBuffer.GetMappedRange(0, uint(bufferSize))
		data := make([]uint32, len(raw)/4)
		for i := range data {
			data[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
		copyBuffer.Unmap()
		copyBuffer.Release()
		if callback != nil {
			callback(VoxelGridVec{Size: size, Data: data})
		}
		done(nil)
	})
}
