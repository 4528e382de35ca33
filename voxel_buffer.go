package voxmesh

import (
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// VoxelGridBuffer owns the device-resident form of a voxel grid. The buffer
// is always a compute read/write target and a copy source so any command can
// bind or read it back.
type VoxelGridBuffer struct {
	Size   [3]uint32
	Buffer *wgpu.Buffer
}

// NewVoxelGridBuffer allocates a zeroed grid buffer for the given size.
func NewVoxelGridBuffer(device *wgpu.Device, size [3]uint32) (*VoxelGridBuffer, error) {
	validateGridSize(size)
	buffer, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "VoxelGrid",
		Size:  uint64(GridByteSize(size)),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	return &VoxelGridBuffer{Size: size, Buffer: buffer}, nil
}

// NewVoxelGridBufferFromContent allocates a grid buffer pre-filled with CPU
// content via a mapped-at-creation upload.
func NewVoxelGridBufferFromContent(device *wgpu.Device, content *VoxelGridVec) (*VoxelGridBuffer, error) {
	validateGridSize(content.Size)
	byteSize := uint64(GridByteSize(content.Size))
	buffer, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            "VoxelGrid",
		Size:             byteSize,
		Usage:            wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		MappedAtCreation: true,
	})
	if err != nil {
		return nil, err
	}
	copy(buffer.GetMappedRange(0, uint(byteSize)), wgpu.ToBytes(content.Data))
	buffer.Unmap()
	return &VoxelGridBuffer{Size: content.Size, Buffer: buffer}, nil
}

// ByteSize returns the padded grid size in bytes.
func (b *VoxelGridBuffer) ByteSize() uint64 {
	return uint64(GridByteSize(b.Size))
}

// Release frees the device buffer.
func (b *VoxelGridBuffer) Release() {
	if b.Buffer != nil {
		b.Buffer.Release()
		b.Buffer = nil
	}
}

// SharedVoxelGrid is a handle to a grid buffer that may not exist yet.
// Multiple commands and command lists may hold the same handle; all access
// to Grid goes through the embedded mutex.
//
// Lock order: SharedVoxelGridData before SharedVoxelGrid.
type SharedVoxelGrid struct {
	sync.Mutex
	Grid *VoxelGridBuffer
}

// NewSharedVoxelGrid returns a handle with no grid created yet.
func NewSharedVoxelGrid() *SharedVoxelGrid {
	return &SharedVoxelGrid{}
}

// SharedVoxelGridData is a handle to optional CPU-side grid content, shared
// the same way SharedVoxelGrid is.
type SharedVoxelGridData struct {
	sync.Mutex
	Data *VoxelGridVec
}

// NewSharedVoxelGridData returns a handle holding the given content.
func NewSharedVoxelGridData(content *VoxelGridVec) *SharedVoxelGridData {
	return &SharedVoxelGridData{Data: content}
}

// UploadGridData creates the grid buffer from CPU content once, and reports
// whether a matching buffer exists afterwards. Grids materialize
// asynchronously relative to their dependents, so a missing side or a size
// mismatch with an already-created buffer is "not ready yet", never an
// error.
func UploadGridData(device *wgpu.Device, data *SharedVoxelGridData, grid *SharedVoxelGrid) (bool, error) {
	data.Lock()
	defer data.Unlock()
	grid.Lock()
	defer grid.Unlock()

	if data.Data == nil {
		return false, nil
	}
	if grid.Grid != nil {
		return grid.Grid.Size == data.Data.Size, nil
	}
	buffer, err := NewVoxelGridBufferFromContent(device, data.Data)
	if err != nil {
		return false, err
	}
	grid.Grid = buffer
	return true, nil
}
