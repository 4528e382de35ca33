package voxmesh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// MagicaVoxel .vox import. Only the chunks needed to fill a voxel grid are
// parsed: SIZE, XYZI, RGBA and PACK. The color index of each voxel becomes
// the material byte of the grid word, so index 0 stays "empty".

const voxMagicNumber = "VOX "

type VoxVoxel struct {
	X, Y, Z, ColorIndex byte
}

type VoxModel struct {
	SizeX, SizeY, SizeZ uint32
	Voxels              []VoxVoxel
}

type VoxPalette [256][4]byte // RGBA

type VoxFile struct {
	Version int
	Models  []VoxModel
	Palette VoxPalette
}

func LoadVoxFile(filename string) (*VoxFile, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadVoxFile(file)
}

func ReadVoxFile(r io.Reader) (*VoxFile, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if string(magic[:]) != voxMagicNumber {
		return nil, errors.New("not a valid VOX file")
	}

	var version int32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}

	voxFile := &VoxFile{
		Version: int(version),
		Palette: defaultVoxPalette(),
	}

	for {
		var chunkID [4]byte
		if _, err := io.ReadFull(r, chunkID[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		var chunkSize, childrenSize int32
		if err := binary.Read(r, binary.LittleEndian, &chunkSize); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &childrenSize); err != nil {
			return nil, err
		}

		chunkData := make([]byte, chunkSize)
		if _, err := io.ReadFull(r, chunkData); err != nil {
			return nil, err
		}

		switch string(chunkID[:]) {
		case "MAIN":
			// MAIN is only a container for the chunks below.
			continue
		case "SIZE":
			if len(chunkData) < 12 {
				return nil, errors.New("SIZE chunk too small")
			}
			if len(voxFile.Models) == 0 {
				voxFile.Models = append(voxFile.Models, VoxModel{})
			}
			model := &voxFile.Models[len(voxFile.Models)-1]
			model.SizeX = binary.LittleEndian.Uint32(chunkData[0:4])
			model.SizeY = binary.LittleEndian.Uint32(chunkData[4:8])
			model.SizeZ = binary.LittleEndian.Uint32(chunkData[8:12])
		case "XYZI":
			if len(voxFile.Models) == 0 {
				return nil, errors.New("XYZI chunk before SIZE chunk")
			}
			if len(chunkData) < 4 {
				return nil, errors.New("XYZI chunk too small")
			}
			model := &voxFile.Models[len(voxFile.Models)-1]
			numVoxels := binary.LittleEndian.Uint32(chunkData[:4])
			model.Voxels = make([]VoxVoxel, numVoxels)
			for i := 0; i < int(numVoxels); i++ {
				offset := 4 + i*4
				if offset+3 >= len(chunkData) {
					return nil, errors.New("XYZI chunk data overflow")
				}
				model.Voxels[i] = VoxVoxel{
					X:          chunkData[offset],
					Y:          chunkData[offset+1],
					Z:          chunkData[offset+2],
					ColorIndex: chunkData[offset+3],
				}
			}
		case "RGBA":
			for i := 0; i < 255; i++ {
				offset := i * 4
				if offset+3 >= len(chunkData) {
					break
				}
				voxFile.Palette[i+1][0] = chunkData[offset]
				voxFile.Palette[i+1][1] = chunkData[offset+1]
				voxFile.Palette[i+1][2] = chunkData[offset+2]
				voxFile.Palette[i+1][3] = chunkData[offset+3]
			}
		case "PACK":
			if len(chunkData) < 4 {
				return nil, errors.New("PACK chunk too small")
			}
			numModels := binary.LittleEndian.Uint32(chunkData[:4])
			if numModels > 0 {
				voxFile.Models = make([]VoxModel, 0, numModels)
			}
		}
	}

	if len(voxFile.Models) == 0 {
		return nil, errors.New("VOX file contains no models")
	}
	return voxFile, nil
}

// ToVoxelGrid converts one model of the file into a voxel grid. The model's
// color index is written as the material byte; corner offsets stay zero so
// the imported model meshes as plain cubes.
func (f *VoxFile) ToVoxelGrid(modelIndex int) (VoxelGridVec, error) {
	if modelIndex < 0 || modelIndex >= len(f.Models) {
		return VoxelGridVec{}, fmt.Errorf("model index %d out of range, file has %d models", modelIndex, len(f.Models))
	}
	model := &f.Models[modelIndex]
	if model.SizeX == 0 || model.SizeY == 0 || model.SizeZ == 0 {
		return VoxelGridVec{}, fmt.Errorf("model %d has zero size", modelIndex)
	}

	grid := NewVoxelGridVec([3]uint32{model.SizeX, model.SizeY, model.SizeZ}, 0)
	for _, v := range model.Voxels {
		x, y, z := uint32(v.X), uint32(v.Y), uint32(v.Z)
		if x >= model.SizeX || y >= model.SizeY || z >= model.SizeZ {
			return VoxelGridVec{}, fmt.Errorf("model %d voxel (%d, %d, %d) outside size (%d, %d, %d)",
				modelIndex, x, y, z, model.SizeX, model.SizeY, model.SizeZ)
		}
		idx := VoxelIndex(grid.Size, int(x), int(y), int(z))
		grid.Data[idx] = PackVoxel(0, 0, 0, v.ColorIndex)
	}
	return grid, nil
}

func defaultVoxPalette() VoxPalette {
	var palette VoxPalette
	for i := range palette {
		palette[i] = [4]byte{255, 255, 255, 255} // white as fallback
	}
	return palette
}
