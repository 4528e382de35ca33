package shaders

import (
	_ "embed"
)

//go:embed vox.wgsl
var VoxWGSL string
