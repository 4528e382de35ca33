package voxmesh

import (
	"fmt"
	"math"
)

// A voxel is a packed 32-bit word:
//
//	byte 0..2  signed corner offsets (x, y, z) in 1/64 voxel units
//	byte 3     material id, 0 means no solid geometry
//
// The grid carries one layer of padding voxels on every axis. Padding
// participates in face visibility at the boundary; its offsets only matter
// on the trailing edge, where they close off the boundary faces.
const (
	FacesPerVoxel   = 6
	VertexesPerFace = 6

	// OffsetUnit is the corner offset step as a fraction of voxel spacing.
	OffsetUnit = 1.0 / 64.0

	// MaxGridDim keeps the padded word count of a cubic grid within int32,
	// which the kernels' i32 index arithmetic requires.
	MaxGridDim = 1024

	// WGSL pads vec3 storage to 16 bytes.
	wgslVec3Stride  = 16
	wgslFaceStride  = wgslVec3Stride * VertexesPerFace
	wgslFacesStride = wgslFaceStride * FacesPerVoxel

	// A face-filled mask word holds 30 usable bits; the top 2 are reserved
	// so one mesh invocation (5 voxels x 6 faces) owns exactly one word.
	faceFilledNumBits = 30

	generateMeshWorkgroupSize       = 64
	generateMeshVoxelsPerInvocation = 5
)

// VoxelGridVec is the CPU form of a voxel grid: a size excluding padding and
// a flat array of (sx+2)(sy+2)(sz+2) packed voxel words.
type VoxelGridVec struct {
	Size [3]uint32
	Data []uint32
}

// NewVoxelGridVec creates a zeroed grid, then stamps material into every
// unpadded voxel. Padding stays empty.
func NewVoxelGridVec(size [3]uint32, material byte) VoxelGridVec {
	validateGridSize(size)
	data := make([]uint32, GridWordCount(size))
	if material != 0 {
		for z := 0; z < int(size[2]); z++ {
			for y := 0; y < int(size[1]); y++ {
				for x := 0; x < int(size[0]); x++ {
					data[VoxelIndex(size, x, y, z)] = uint32(material) << 24
				}
			}
		}
	}
	return VoxelGridVec{Size: size, Data: data}
}

func validateGridSize(size [3]uint32) {
	for axis, dim := range size {
		if dim > MaxGridDim {
			panic(fmt.Sprintf("voxel grid axis %d is %d, limit is %d", axis, dim, MaxGridDim))
		}
	}
}

// GridWordCount returns the number of 32-bit words in a padded grid.
func GridWordCount(size [3]uint32) int {
	return int(size[0]+2) * int(size[1]+2) * int(size[2]+2)
}

// GridByteSize returns the byte size of a padded grid on the GPU.
func GridByteSize(size [3]uint32) int {
	return GridWordCount(size) * 4
}

// NumVoxels returns the unpadded voxel count.
func NumVoxels(size [3]uint32) int {
	return int(size[0]) * int(size[1]) * int(size[2])
}

// VoxelIndex maps unpadded coordinates to a word index. Coordinates from -1
// to the axis dimension inclusive address the padding layers.
func VoxelIndex(size [3]uint32, x, y, z int) int {
	sx := int(size[0]) + 2
	sy := int(size[1]) + 2
	return (x + 1) + (y+1)*sx + (z+1)*sx*sy
}

// PackVoxel packs corner offsets (1/64 voxel units) and a material id into a
// voxel word. Offsets clamp to [-127, 127]; -128 is never encoded so the
// offset range stays symmetric.
func PackVoxel(offX, offY, offZ int, material byte) uint32 {
	return uint32(clampOffset(offX)) |
		uint32(clampOffset(offY))<<8 |
		uint32(clampOffset(offZ))<<16 |
		uint32(material)<<24
}

func clampOffset(v int) byte {
	if v < -127 {
		v = -127
	} else if v > 127 {
		v = 127
	}
	return byte(int8(v))
}

// UnpackVoxel splits a voxel word into corner offsets and material. A -128
// offset is not produced by PackVoxel but decodes as -128 if a kernel emits
// one.
func UnpackVoxel(word uint32) (offX, offY, offZ int8, material byte) {
	offX = int8(word)
	offY = int8(word >> 8)
	offZ = int8(word >> 16)
	material = byte(word >> 24)
	return
}

// Material returns the material byte of a voxel word.
func Material(word uint32) byte {
	return byte(word >> 24)
}

// SphereGrid builds a cubic grid holding a sphere of the given size, with
// corner offsets smoothing the stair-stepped surface radially in the x/y
// plane. CPU twin of the paste_sphere kernel.
func SphereGrid(size uint32, material byte) VoxelGridVec {
	grid := NewVoxelGridVec([3]uint32{size, size, size}, 0)
	dim := int(size)
	halfSize := float64(size) / 2.0

	distSquared := func(x, y, z int) float64 {
		dx := float64(x) - halfSize
		dy := float64(y) - halfSize
		dz := float64(z) - halfSize
		return dx*dx + dy*dy + dz*dz
	}
	inside := func(x, y, z int) bool {
		return distSquared(x, y, z) < halfSize*halfSize
	}

	for z := -1; z <= dim; z++ {
		dz := float64(z) - halfSize
		radius2d := math.Sqrt(halfSize*halfSize - dz*dz)
		for y := -1; y <= dim; y++ {
			for x := -1; x <= dim; x++ {
				word := uint32(0)
				if inside(x, y, z) {
					word = uint32(material) << 24
				}

				count := 0
				for _, d := range [8][3]int{
					{-1, -1, -1}, {-1, -1, 0}, {-1, 0, -1}, {-1, 0, 0},
					{0, -1, -1}, {0, -1, 0}, {0, 0, -1}, {0, 0, 0},
				} {
					if inside(x+d[0], y+d[1], z+d[2]) {
						count++
					}
				}
				// Corners with both solid and empty neighbors get pulled
				// onto the sphere surface.
				dx := float64(x) - halfSize
				dy := float64(y) - halfSize
				dist2d := math.Sqrt(dx*dx + dy*dy)
				if count != 0 && count != 8 && dist2d > 0 && radius2d > 0 {
					factor := radius2d / dist2d
					delta := func(p int) byte {
						fp := float64(p)
						d := math.Round(((fp-halfSize)*factor + halfSize - fp) * 64.0)
						return clampOffset(int(d))
					}
					word |= uint32(delta(x)) | uint32(delta(y))<<8
				}
				grid.Data[VoxelIndex(grid.Size, x, y, z)] = word
			}
		}
	}
	return grid
}
