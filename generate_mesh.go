package voxmesh

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

const GenerateMeshEntryPoint = "generate_mesh"

const (
	meshVertexBinding     = 0
	meshNormalBinding     = 1
	meshFaceFilledBinding = 2
	meshGridSizeBinding   = 3
	meshGridBinding       = 4
)

// Storage buffer offsets must be 256-byte aligned to bind as sub-ranges.
const meshRegionAlign = 256

// meshBufferLayout describes the scratch buffer the mesh kernel writes:
// dense vertex positions, dense normals, then the face-filled bitmask.
// Every voxel contributes 6 faces x 6 vertexes whether or not the face is
// present; the bitmask says which faces are real.
type meshBufferLayout struct {
	numVoxels        int
	normalOffset     uint64
	faceFilledOffset uint64
	faceFilledSize   uint64
	bufferSize       uint64
}

func newMeshBufferLayout(size [3]uint32) meshBufferLayout {
	numVoxels := NumVoxels(size)
	vertexBytes := uint64(numVoxels) * wgslFacesStride
	numFaces := numVoxels * FacesPerVoxel
	maskWords := uint64((numFaces + faceFilledNumBits - 1) / faceFilledNumBits)

	normalOffset := alignUp(vertexBytes, meshRegionAlign)
	faceFilledOffset := alignUp(normalOffset+vertexBytes, meshRegionAlign)
	return meshBufferLayout{
		numVoxels:        numVoxels,
		normalOffset:     normalOffset,
		faceFilledOffset: faceFilledOffset,
		faceFilledSize:   maskWords * 4,
		bufferSize:       faceFilledOffset + maskWords*4,
	}
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}

// GenerateMeshBindGroupLayout declares the mesh kernel's buffers: the three
// scratch regions, the grid size, and the source grid.
func GenerateMeshBindGroupLayout(device *wgpu.Device) (*wgpu.BindGroupLayout, error) {
	storage := func(binding uint32, readOnly bool) wgpu.BindGroupLayoutEntry {
		t := wgpu.BufferBindingTypeStorage
		if readOnly {
			t = wgpu.BufferBindingTypeReadOnlyStorage
		}
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: t},
		}
	}
	return device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "GenerateMeshBGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			storage(meshVertexBinding, false),
			storage(meshNormalBinding, false),
			storage(meshFaceFilledBinding, false),
			{
				Binding:    meshGridSizeBinding,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
			},
			storage(meshGridBinding, true),
		},
	})
}

// GenerateMeshCommand turns a voxel grid into a triangle mesh. The kernel
// emits a dense vertex/normal superset plus a presence bitmask (it has no
// stream compaction); the host compacts once after read-back and delivers
// (vertexes, normals) to the callback on the map-completion thread.
type GenerateMeshCommand struct {
	grid          *SharedVoxelGrid
	receiveResult func(vertexes, normals []mgl32.Vec3)

	layout        meshBufferLayout
	storageBuffer *wgpu.Buffer
	copyBuffer    *wgpu.Buffer
	uniformBuffer *wgpu.Buffer
	bindGroup     *wgpu.BindGroup
}

func NewGenerateMeshCommand(grid *SharedVoxelGrid, receiveResult func(vertexes, normals []mgl32.Vec3)) *GenerateMeshCommand {
	return &GenerateMeshCommand{grid: grid, receiveResult: receiveResult}
}

func (c *GenerateMeshCommand) Prepare(device *wgpu.Device, getLayout LayoutLookup) {
	c.grid.Lock()
	defer c.grid.Unlock()
	grid := c.grid.Grid
	if grid == nil {
		panic("missing grid in GenerateMeshCommand")
	}
	c.layout = newMeshBufferLayout(grid.Size)

	var err error
	c.storageBuffer, err = device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "GenerateMesh Scratch",
		Size:  c.layout.bufferSize,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		panic(fmt.Sprintf("create mesh scratch buffer: %v", err))
	}
	c.copyBuffer, err = device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "GenerateMesh Readback",
		Size:  c.layout.bufferSize,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		panic(fmt.Sprintf("create mesh readback buffer: %v", err))
	}
	c.uniformBuffer, err = device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            "GenerateMesh GridSize",
		Size:             16,
		Usage:            wgpu.BufferUsageUniform,
		MappedAtCreation: true,
	})
	if err != nil {
		panic(fmt.Sprintf("create mesh uniform buffer: %v", err))
	}
	sizeBytes := c.uniformBuffer.GetMappedRange(0, 16)
	for i, v := range grid.Size {
		binary.LittleEndian.PutUint32(sizeBytes[i*4:], v)
	}
	c.uniformBuffer.Unmap()

	vertexBytes := uint64(c.layout.numVoxels) * wgslFacesStride
	c.bindGroup, err = device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "GenerateMeshBindGroup",
		Layout: getLayout(GenerateMeshEntryPoint),
		Entries: []wgpu.BindGroupEntry{
			{Binding: meshVertexBinding, Buffer: c.storageBuffer, Offset: 0, Size: vertexBytes},
			{Binding: meshNormalBinding, Buffer: c.storageBuffer, Offset: c.layout.normalOffset, Size: vertexBytes},
			{Binding: meshFaceFilledBinding, Buffer: c.storageBuffer, Offset: c.layout.faceFilledOffset, Size: c.layout.faceFilledSize},
			{Binding: meshGridSizeBinding, Buffer: c.uniformBuffer, Size: wgpu.WholeSize},
			{Binding: meshGridBinding, Buffer: grid.Buffer, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("create mesh bind group: %v", err))
	}
}

func (c *GenerateMeshCommand) AddPass(encoder *wgpu.CommandEncoder, getPipeline PipelineLookup) {
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(getPipeline(GenerateMeshEntryPoint))
	pass.SetBindGroup(0, c.bindGroup, nil)
	// Each invocation meshes 5 voxels so it owns one whole 30-bit mask word.
	voxelsPerWorkgroup := generateMeshWorkgroupSize * generateMeshVoxelsPerInvocation
	workgroups := (c.layout.numVoxels + voxelsPerWorkgroup - 1) / voxelsPerWorkgroup
	pass.DispatchWorkgroups(uint32(workgroups), 1, 1)
	pass.End()
}

func (c *GenerateMeshCommand) AddCopy(encoder *wgpu.CommandEncoder) {
	encoder.CopyBufferToBuffer(c.storageBuffer, 0, c.copyBuffer, 0, c.layout.bufferSize)
}

func (c *GenerateMeshCommand) AsyncFinish(done DoneFunc) {
	receiveResult := c.receiveResult
	layout := c.layout
	storageBuffer := c.storageBuffer
	uniformBuffer := c.uniformBuffer
	copyBuffer := c.copyBuffer
	bindGroup := c.bindGroup
	c.storageBuffer, c.uniformBuffer, c.copyBuffer, c.bindGroup = nil, nil, nil, nil
	copyBuffer.MapAsync(wgpu.MapModeRead, 0, layout.bufferSize, func(status wgpu.BufferMapAsyncStatus) {
		storageBuffer.Release()
		uniformBuffer.Release()
		bindGroup.Release()
		if status != wgpu.BufferMapAsyncStatusSuccess {
			copyBuffer.Release()
			done(&MapError{Status: status})
			return
		}
		raw := copyBuffer.GetMappedRange(0, uint(layout.bufferSize))
		vertexes, normals := extractMesh(raw, layout)
		copyBuffer.Unmap()
		copyBuffer.Release()
		if receiveResult != nil {
			receiveResult(vertexes, normals)
		}
		done(nil)
	})
}

// extractMesh compacts the kernel's dense output. One pass over the bitmask
// counts the present faces, then one pass over the face indexes copies each
// present face's 6 vertexes and normals in order. Output order is
// voxel-major, then face-within-voxel, for present faces only.
func extractMesh(raw []byte, layout meshBufferLayout) (vertexes, normals []mgl32.Vec3) {
	faceFilled := raw[layout.faceFilledOffset : layout.faceFilledOffset+layout.faceFilledSize]
	numWords := len(faceFilled) / 4
	const usableMask = 1<<faceFilledNumBits - 1

	numFaces := 0
	for w := 0; w < numWords; w++ {
		word := binary.LittleEndian.Uint32(faceFilled[w*4:])
		numFaces += bits.OnesCount32(word & usableMask)
	}

	vertexes = make([]mgl32.Vec3, numFaces*VertexesPerFace)
	normals = make([]mgl32.Vec3, numFaces*VertexesPerFace)

	readVec3 := func(region []byte, face, j int) mgl32.Vec3 {
		base := face*wgslFaceStride + j*wgslVec3Stride
		return mgl32.Vec3{
			math.Float32frombits(binary.LittleEndian.Uint32(region[base:])),
			math.Float32frombits(binary.LittleEndian.Uint32(region[base+4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(region[base+8:])),
		}
	}
	vertexBytes := layout.numVoxels * wgslFacesStride
	srcVertexes := raw[:vertexBytes]
	srcNormals := raw[layout.normalOffset : layout.normalOffset+uint64(vertexBytes)]

	filled := 0
	for i := 0; i < layout.numVoxels*FacesPerVoxel; i++ {
		word := binary.LittleEndian.Uint32(faceFilled[i/faceFilledNumBits*4:])
		if word&(1<<(i%faceFilledNumBits)) == 0 {
			continue
		}
		for j := 0; j < VertexesPerFace; j++ {
			vertexes[filled*VertexesPerFace+j] = readVec3(srcVertexes, i, j)
			normals[filled*VertexesPerFace+j] = readVec3(srcNormals, i, j)
		}
		filled++
	}
	if filled != numFaces {
		panic(fmt.Sprintf("mesh extraction copied %d faces, bitmask counted %d", filled, numFaces))
	}
	return vertexes, normals
}
