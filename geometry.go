package voxmesh

import (
	"encoding/binary"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// Geometry paste flags.
const (
	// PasteMaterial writes the command's material argument into covered
	// voxels. PasteMaterialArg acts the same; both bits are kept because
	// the kernel interface defines both.
	PasteMaterial    uint32 = 1 << 0
	PasteMaterialArg uint32 = 1 << 1

	// PasteVertexes computes corner offset data for covered voxels. When
	// unset, edits leave offsets at the kernel default of zero.
	PasteVertexes uint32 = 1 << 2

	// Paste is the usual combination for solid edits.
	Paste = PasteMaterial | PasteVertexes
)

const (
	PasteCubeEntryPoint   = "paste_cube"
	PasteSphereEntryPoint = "paste_sphere"
)

// Geometry kernels run one thread per voxel of the shape's bounding region
// plus a one voxel border, in 4x4x4 workgroups.
const geometryWorkgroupDim = 4

// geometryParams is the kernel parameter block. The layout is fixed; the
// pad word keeps the struct at a 16-byte multiple as WGSL requires.
type geometryParams struct {
	GridSize  [3]uint32
	Flags     uint32
	Offset    [3]int32
	Material  uint32
	ShapeSize [3]uint32
	Pad0      uint32
}

const geometryParamsByteSize = 48

func (p *geometryParams) bytes() []byte {
	buf := make([]byte, geometryParamsByteSize)
	le := binary.LittleEndian
	for i, v := range p.GridSize {
		le.PutUint32(buf[i*4:], v)
	}
	le.PutUint32(buf[12:], p.Flags)
	for i, v := range p.Offset {
		le.PutUint32(buf[16+i*4:], uint32(v))
	}
	le.PutUint32(buf[28:], p.Material)
	for i, v := range p.ShapeSize {
		le.PutUint32(buf[32+i*4:], v)
	}
	le.PutUint32(buf[44:], p.Pad0)
	return buf
}

// GeometryBindGroupLayout is shared by all geometry operations: the
// parameter block and the destination grid.
func GeometryBindGroupLayout(device *wgpu.Device) (*wgpu.BindGroupLayout, error) {
	return device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "GeometryBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: geometryParamsByteSize,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type: wgpu.BufferBindingTypeStorage,
				},
			},
		},
	})
}

// GeometryCommand pastes a cube or a sphere into a grid.
type GeometryCommand struct {
	grid     *SharedVoxelGrid
	shape    string // entry point name
	size     [3]uint32
	offset   [3]int32
	flags    uint32
	material uint32

	paramsBuffer *wgpu.Buffer
	bindGroup    *wgpu.BindGroup
}

// NewPasteCubeCommand pastes an axis-aligned cube of the given size at
// offset (grid coordinates, may be negative).
func NewPasteCubeCommand(grid *SharedVoxelGrid, size [3]uint32, offset [3]int32, flags uint32, material uint32) *GeometryCommand {
	return &GeometryCommand{
		grid:     grid,
		shape:    PasteCubeEntryPoint,
		size:     size,
		offset:   offset,
		flags:    flags,
		material: material,
	}
}

// NewPasteSphereCommand pastes a sphere of the given diameter whose bounding
// cube starts at offset.
func NewPasteSphereCommand(grid *SharedVoxelGrid, diameter uint32, offset [3]int32, flags uint32, material uint32) *GeometryCommand {
	return &GeometryCommand{
		grid:     grid,
		shape:    PasteSphereEntryPoint,
		size:     [3]uint32{diameter, diameter, diameter},
		offset:   offset,
		flags:    flags,
		material: material,
	}
}

// EntryPoint returns the kernel entry point this command dispatches.
func (c *GeometryCommand) EntryPoint() string {
	return c.shape
}

func (c *GeometryCommand) Prepare(device *wgpu.Device, getLayout LayoutLookup) {
	c.grid.Lock()
	defer c.grid.Unlock()
	grid := c.grid.Grid
	if grid == nil {
		panic("missing grid in GeometryCommand")
	}

	params := geometryParams{
		GridSize:  grid.Size,
		Flags:     c.flags,
		Offset:    c.offset,
		Material:  c.material,
		ShapeSize: c.size,
	}
	paramsBuffer, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            "GeometryParams",
		Size:             geometryParamsByteSize,
		Usage:            wgpu.BufferUsageUniform,
		MappedAtCreation: true,
	})
	if err != nil {
		panic(fmt.Sprintf("create geometry params buffer: %v", err))
	}
	copy(paramsBuffer.GetMappedRange(0, geometryParamsByteSize), params.bytes())
	paramsBuffer.Unmap()

	bindGroup, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "GeometryBindGroup",
		Layout: getLayout(c.shape),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: paramsBuffer, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: grid.Buffer, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("create geometry bind group: %v", err))
	}
	c.paramsBuffer = paramsBuffer
	c.bindGroup = bindGroup
}

func (c *GeometryCommand) AddPass(encoder *wgpu.CommandEncoder, getPipeline PipelineLookup) {
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(getPipeline(c.shape))
	pass.SetBindGroup(0, c.bindGroup, nil)
	// One thread per voxel of the shape region plus a one voxel border, so
	// corner offsets on the leading/trailing edges get written too.
	wx := (c.size[0] + 2 + geometryWorkgroupDim - 1) / geometryWorkgroupDim
	wy := (c.size[1] + 2 + geometryWorkgroupDim - 1) / geometryWorkgroupDim
	wz := (c.size[2] + 2 + geometryWorkgroupDim - 1) / geometryWorkgroupDim
	pass.DispatchWorkgroups(wx, wy, wz)
	pass.End()
}

func (c *GeometryCommand) AddCopy(_ *wgpu.CommandEncoder) {}

func (c *GeometryCommand) AsyncFinish(done DoneFunc) {
	if c.paramsBuffer != nil {
		c.paramsBuffer.Release()
		c.paramsBuffer = nil
	}
	if c.bindGroup != nil {
		c.bindGroup.Release()
		c.bindGroup = nil
	}
	done(nil)
}
