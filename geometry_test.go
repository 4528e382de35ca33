package voxmesh

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryParamsBytes(t *testing.T) {
	params := geometryParams{
		GridSize:  [3]uint32{10, 20, 30},
		Flags:     Paste,
		Offset:    [3]int32{-3, 0, 7},
		Material:  42,
		ShapeSize: [3]uint32{4, 5, 6},
	}
	raw := params.bytes()
	require.Len(t, raw, geometryParamsByteSize)

	le := binary.LittleEndian
	assert.Equal(t, uint32(10), le.Uint32(raw[0:]))
	assert.Equal(t, uint32(20), le.Uint32(raw[4:]))
	assert.Equal(t, uint32(30), le.Uint32(raw[8:]))
	assert.Equal(t, Paste, le.Uint32(raw[12:]))
	assert.Equal(t, int32(-3), int32(le.Uint32(raw[16:])))
	assert.Equal(t, int32(0), int32(le.Uint32(raw[20:])))
	assert.Equal(t, int32(7), int32(le.Uint32(raw[24:])))
	assert.Equal(t, uint32(42), le.Uint32(raw[28:]))
	assert.Equal(t, uint32(4), le.Uint32(raw[32:]))
	assert.Equal(t, uint32(5), le.Uint32(raw[36:]))
	assert.Equal(t, uint32(6), le.Uint32(raw[40:]))
	assert.Equal(t, uint32(0), le.Uint32(raw[44:]))
}

func TestPasteFlags(t *testing.T) {
	assert.Equal(t, uint32(1), PasteMaterial)
	assert.Equal(t, uint32(2), PasteMaterialArg)
	assert.Equal(t, uint32(4), PasteVertexes)
	assert.Equal(t, PasteMaterial|PasteVertexes, Paste)
}

func TestGeometryCommand_EntryPoints(t *testing.T) {
	grid := NewSharedVoxelGrid()
	cube := NewPasteCubeCommand(grid, [3]uint32{2, 2, 2}, [3]int32{0, 0, 0}, Paste, 1)
	assert.Equal(t, PasteCubeEntryPoint, cube.EntryPoint())

	sphere := NewPasteSphereCommand(grid, 6, [3]int32{1, 2, 3}, Paste, 1)
	assert.Equal(t, PasteSphereEntryPoint, sphere.EntryPoint())
	assert.Equal(t, [3]uint32{6, 6, 6}, sphere.size)
}

func TestGeometryCommand_MissingGridPanics(t *testing.T) {
	cmd := NewPasteCubeCommand(NewSharedVoxelGrid(), [3]uint32{2, 2, 2}, [3]int32{0, 0, 0}, Paste, 1)
	require.PanicsWithValue(t, "missing grid in GeometryCommand", func() {
		cmd.Prepare(nil, nil)
	})
}

func TestGenerateMeshCommand_MissingGridPanics(t *testing.T) {
	cmd := NewGenerateMeshCommand(NewSharedVoxelGrid(), nil)
	require.PanicsWithValue(t, "missing grid in GenerateMeshCommand", func() {
		cmd.Prepare(nil, nil)
	})
}

func TestGetVoxelsCommand_MissingGridCompletesSilently(t *testing.T) {
	called := false
	cmd := NewGetVoxelsCommand(NewSharedVoxelGrid(), func(VoxelGridVec) {
		called = true
	})
	cmd.Prepare(nil, nil)
	cmd.AddCopy(nil)

	var doneErr error
	doneCalled := false
	cmd.AsyncFinish(func(err error) {
		doneCalled = true
		doneErr = err
	})
	assert.True(t, doneCalled, "command must still report completion")
	assert.NoError(t, doneErr)
	assert.False(t, called, "no result must be delivered for a missing grid")
}

func TestCreateGridCommand_IsPassive(t *testing.T) {
	cmd := NewCreateGridCommand(NewSharedVoxelGrid(), [3]uint32{4, 4, 4})
	cmd.AddPass(nil, nil)
	cmd.AddCopy(nil)

	doneCalled := false
	cmd.AsyncFinish(func(err error) {
		doneCalled = true
		assert.NoError(t, err)
	})
	assert.True(t, doneCalled)
}

func TestMapError(t *testing.T) {
	err := &MapError{Status: 3}
	assert.Contains(t, err.Error(), "buffer map failed")
}
