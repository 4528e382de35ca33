package voxmesh

import (
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGpu(t *testing.T) *GpuState {
	t.Helper()
	gpu, err := NewHeadlessGpuState()
	if err != nil {
		t.Skipf("no GPU adapter available: %v", err)
	}
	return gpu
}

// runList drives one command list through a full cycle and blocks until its
// asynchronous completions have fired.
func runList(t *testing.T, gpu *GpuState, p *CommandPipeline, list CommandList) {
	t.Helper()
	p.PrepareCommandLists(list)
	require.Equal(t, CommandListBusy, list.State())

	encoder, err := gpu.Device.CreateCommandEncoder(nil)
	require.NoError(t, err)
	defer encoder.Release()
	p.EncodeCommandLists(encoder)

	cmdBuffer, err := encoder.Finish(nil)
	require.NoError(t, err)
	defer cmdBuffer.Release()
	gpu.Queue.Submit(cmdBuffer)

	p.FinishCommandLists()
	for i := 0; list.State() != CommandListDone; i++ {
		if i > 10000 {
			t.Fatalf("command list stuck in state %s", list.State())
		}
		gpu.Device.Poll(true, nil)
	}
}

func TestPipeline_CubeEndToEnd(t *testing.T) {
	gpu := requireGpu(t)
	p, err := NewCommandPipeline(gpu.Device, NewNopLogger())
	require.NoError(t, err)

	grid := NewSharedVoxelGrid()

	var mu sync.Mutex
	var voxels VoxelGridVec
	var vertexes, normals []mgl32.Vec3

	paste := NewPasteCubeCommand(grid, [3]uint32{2, 2, 2}, [3]int32{1, 1, 1}, Paste, 7)
	mesh := NewGenerateMeshCommand(grid, func(v, n []mgl32.Vec3) {
		mu.Lock()
		vertexes, normals = v, n
		mu.Unlock()
	})
	list := NewCommandList(
		NewCreateGridCommand(grid, [3]uint32{4, 4, 4}),
		paste,
		NewGetVoxelsCommand(grid, func(g VoxelGridVec) {
			mu.Lock()
			voxels = g
			mu.Unlock()
		}),
		mesh,
	)
	runList(t, gpu, p, list)

	// Scratch state from Prepare must be consumed by the completed run, so
	// re-armed lists do not accumulate device handles.
	assert.Nil(t, paste.paramsBuffer)
	assert.Nil(t, paste.bindGroup)
	assert.Nil(t, mesh.storageBuffer)
	assert.Nil(t, mesh.uniformBuffer)
	assert.Nil(t, mesh.copyBuffer)
	assert.Nil(t, mesh.bindGroup)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, [3]uint32{4, 4, 4}, voxels.Size)
	solid := 0
	for z := 0; z < 4; z++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				mat := Material(voxels.Data[VoxelIndex(voxels.Size, x, y, z)])
				inCube := x >= 1 && x <= 2 && y >= 1 && y <= 2 && z >= 1 && z <= 2
				if inCube {
					assert.Equal(t, byte(7), mat, "voxel (%d, %d, %d)", x, y, z)
					solid++
				} else {
					assert.Equal(t, byte(0), mat, "voxel (%d, %d, %d)", x, y, z)
				}
			}
		}
	}
	assert.Equal(t, 8, solid)

	// A solid 2x2x2 cube shows 4 voxel faces per side, 6 vertexes each.
	require.Len(t, vertexes, 6*4*VertexesPerFace)
	require.Len(t, normals, len(vertexes))
	for i, v := range vertexes {
		for axis := 0; axis < 3; axis++ {
			c := v[axis]
			assert.True(t, c == 1 || c == 2 || c == 3,
				"vertex %d component %d is %v, want a lattice coordinate in [1, 3]", i, axis, c)
		}
	}
	for i, n := range normals {
		assert.InDelta(t, 1.0, float64(n.Len()), 1e-6, "normal %d must be unit length", i)
	}
}

func TestPipeline_EmptyGridMeshesToNothing(t *testing.T) {
	gpu := requireGpu(t)
	p, err := NewCommandPipeline(gpu.Device, NewNopLogger())
	require.NoError(t, err)

	grid := NewSharedVoxelGrid()
	var vertexes []mgl32.Vec3
	delivered := false
	list := NewCommandList(
		NewCreateGridCommand(grid, [3]uint32{3, 3, 3}),
		NewGenerateMeshCommand(grid, func(v, _ []mgl32.Vec3) {
			vertexes = v
			delivered = true
		}),
	)
	runList(t, gpu, p, list)

	assert.True(t, delivered)
	assert.Empty(t, vertexes)
}

func TestPipeline_SphereCarvesCube(t *testing.T) {
	gpu := requireGpu(t)
	p, err := NewCommandPipeline(gpu.Device, NewNopLogger())
	require.NoError(t, err)

	grid := NewSharedVoxelGrid()
	countSolid := func(g VoxelGridVec) int {
		solid := 0
		for _, word := range g.Data {
			if Material(word) != 0 {
				solid++
			}
		}
		return solid
	}

	var before, after int
	list := NewCommandList(
		NewCreateGridCommand(grid, [3]uint32{8, 8, 8}),
		NewPasteCubeCommand(grid, [3]uint32{8, 8, 8}, [3]int32{0, 0, 0}, Paste, 1),
		NewGetVoxelsCommand(grid, func(g VoxelGridVec) { before = countSolid(g) }),
		NewPasteSphereCommand(grid, 6, [3]int32{1, 1, 1}, Paste, 0),
		NewGetVoxelsCommand(grid, func(g VoxelGridVec) { after = countSolid(g) }),
	)
	runList(t, gpu, p, list)

	assert.Equal(t, 8*8*8, before)
	assert.Less(t, after, before, "carving a sphere must remove voxels")
	assert.Greater(t, after, 0, "the sphere must not empty the whole grid")
}

func TestUploadGridData_OnDevice(t *testing.T) {
	gpu := requireGpu(t)
	p, err := NewCommandPipeline(gpu.Device, NewNopLogger())
	require.NoError(t, err)

	content := NewVoxelGridVec([3]uint32{2, 2, 2}, 3)
	data := NewSharedVoxelGridData(&content)
	grid := NewSharedVoxelGrid()

	ready, err := UploadGridData(gpu.Device, data, grid)
	require.NoError(t, err)
	require.True(t, ready)

	// Second call reuses the existing buffer.
	ready, err = UploadGridData(gpu.Device, data, grid)
	require.NoError(t, err)
	require.True(t, ready)

	var voxels VoxelGridVec
	list := NewCommandList(NewGetVoxelsCommand(grid, func(g VoxelGridVec) { voxels = g }))
	runList(t, gpu, p, list)

	require.Equal(t, content.Size, voxels.Size)
	assert.Equal(t, content.Data, voxels.Data)
}

func TestPipeline_PasteIsIdempotent(t *testing.T) {
	gpu := requireGpu(t)
	p, err := NewCommandPipeline(gpu.Device, NewNopLogger())
	require.NoError(t, err)

	grid := NewSharedVoxelGrid()
	paste := func() VoxelCommand {
		return NewPasteCubeCommand(grid, [3]uint32{4, 4, 4}, [3]int32{0, 0, 0}, Paste, 1)
	}

	var once, twice VoxelGridVec
	var vertexes []mgl32.Vec3
	list := NewCommandList(
		NewCreateGridCommand(grid, [3]uint32{4, 4, 4}),
		paste(),
		NewGetVoxelsCommand(grid, func(g VoxelGridVec) { once = g }),
		paste(),
		NewGetVoxelsCommand(grid, func(g VoxelGridVec) { twice = g }),
		NewGenerateMeshCommand(grid, func(v, _ []mgl32.Vec3) { vertexes = v }),
	)
	runList(t, gpu, p, list)

	require.NotEmpty(t, once.Data)
	assert.Equal(t, once.Data, twice.Data, "an identical repeated paste must not change the grid")

	// A full 4x4x4 cube shows only its boundary: 16 faces per side.
	require.NotEmpty(t, vertexes)
	assert.Zero(t, len(vertexes)%VertexesPerFace)
	assert.Equal(t, 6*16*VertexesPerFace, len(vertexes),
		"interior faces between filled voxels must not be emitted")
}

func TestUploadGridData_MissingContentIsNotReady(t *testing.T) {
	ready, err := UploadGridData(nil, NewSharedVoxelGridData(nil), NewSharedVoxelGrid())
	require.NoError(t, err)
	assert.False(t, ready)
}
