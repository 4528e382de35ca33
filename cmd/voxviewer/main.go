package main

import (
	_ "embed"
	"flag"
	"math"
	"sync"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/voxmesh"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

//go:embed render.wgsl
var renderWGSL string

type meshVertex struct {
	Position [3]float32 `voxmesh:"layout" location:"0" format:"float3"`
	Normal   [3]float32 `voxmesh:"layout" location:"1" format:"float3"`
}

// sphere is one bouncing carving sphere, in grid units.
type sphere struct {
	pos [3]float64
	vel [3]float64
}

type viewer struct {
	cfg Config
	log voxmesh.Logger

	window   *voxmesh.WindowState
	gpu      *voxmesh.GpuState
	pipeline *voxmesh.CommandPipeline

	grid        *voxmesh.SharedVoxelGrid
	list        voxmesh.CommandList
	spheres     []sphere
	staticModel bool // grid imported from a .vox file, never rebuilt

	renderPipeline *wgpu.RenderPipeline
	cameraBuffer   *wgpu.Buffer
	cameraGroup    *wgpu.BindGroup

	meshMu      sync.Mutex
	pendingMesh []meshVertex // set by the map-completion thread

	vertexBuffer *wgpu.Buffer
	vertexCount  uint32

	lastFrame time.Time
	startTime time.Time
}

func main() {
	configPath := flag.String("config", "", "path to YAML config, defaults apply when empty")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	log := voxmesh.NewDefaultLogger("voxviewer", cfg.Debug)

	v := newViewer(cfg, log)
	for !v.window.Window().ShouldClose() {
		glfw.PollEvents()
		v.update()
		v.render()
	}
}

func newViewer(cfg Config, log voxmesh.Logger) *viewer {
	window := voxmesh.NewWindowState(cfg.WindowWidth, cfg.WindowHeight, cfg.WindowTitle)
	window.Window().SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if key == glfw.KeyEscape && action == glfw.Press {
			w.SetShouldClose(true)
		}
	})

	gpu := voxmesh.NewGpuState(window)
	pipeline, err := voxmesh.NewCommandPipeline(gpu.Device, log)
	if err != nil {
		panic(err)
	}

	v := &viewer{
		cfg:       cfg,
		log:       log,
		window:    window,
		gpu:       gpu,
		pipeline:  pipeline,
		grid:      voxmesh.NewSharedVoxelGrid(),
		lastFrame: time.Now(),
		startTime: time.Now(),
	}
	if cfg.VoxFile != "" {
		v.importVoxFile(cfg.VoxFile)
	} else {
		v.spheres = spawnSpheres(cfg)
	}
	v.list = voxmesh.NewCommandList(v.buildCommands()...)

	v.renderPipeline = voxmesh.NewRenderPipeline("viewer", renderWGSL, meshVertex{}, gpu)
	v.cameraBuffer = voxmesh.CreateBuffer("Camera", make([]byte, 64), gpu,
		wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
	cameraGroup, err := gpu.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "CameraBindGroup",
		Layout: v.renderPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: v.cameraBuffer, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		panic(err)
	}
	v.cameraGroup = cameraGroup
	return v
}

func spawnSpheres(cfg Config) []sphere {
	spheres := make([]sphere, cfg.SphereCount)
	for i := range spheres {
		// Deterministic spread, no two spheres share a start or heading.
		phase := float64(i) * 2.39996
		spheres[i] = sphere{
			pos: [3]float64{
				float64(cfg.GridSize[0]) * (0.25 + 0.5*frac(phase*0.37)),
				float64(cfg.GridSize[1]) * (0.25 + 0.5*frac(phase*0.61)),
				float64(cfg.GridSize[2]) * 0.5,
			},
			vel: [3]float64{
				cfg.SphereSpeed * math.Cos(phase),
				cfg.SphereSpeed * math.Sin(phase),
				cfg.SphereSpeed * 0.3 * math.Cos(phase*1.7),
			},
		}
	}
	return spheres
}

func frac(v float64) float64 {
	return v - math.Floor(v)
}

// importVoxFile stamps a MagicaVoxel model into the shared grid before the
// first frame. The viewer then only meshes it, once.
func (v *viewer) importVoxFile(path string) {
	file, err := voxmesh.LoadVoxFile(path)
	if err != nil {
		panic(err)
	}
	content, err := file.ToVoxelGrid(0)
	if err != nil {
		panic(err)
	}
	data := voxmesh.NewSharedVoxelGridData(&content)
	ready, err := voxmesh.UploadGridData(v.gpu.Device, data, v.grid)
	if err != nil {
		panic(err)
	}
	if !ready {
		panic("vox model upload produced no grid")
	}
	v.cfg.GridSize = content.Size
	v.staticModel = true
	v.log.Infof("imported %s: %dx%dx%d, %d voxels",
		path, content.Size[0], content.Size[1], content.Size[2], len(file.Models[0].Voxels))
}

// buildCommands assembles one full rebuild of the stage: recreate the grid,
// clear it, fill the solid stage slab, carve every sphere, then mesh it. An
// imported model skips the rebuild and only gets meshed.
func (v *viewer) buildCommands() []voxmesh.VoxelCommand {
	if v.staticModel {
		return []voxmesh.VoxelCommand{voxmesh.NewGenerateMeshCommand(v.grid, v.receiveMesh)}
	}
	size := v.cfg.GridSize
	commands := []voxmesh.VoxelCommand{
		voxmesh.NewCreateGridCommand(v.grid, size),
		// The grid buffer is reused across runs; the full-size paste resets
		// material and offsets before the spheres carve.
		voxmesh.NewPasteCubeCommand(v.grid, size, [3]int32{0, 0, 0}, voxmesh.Paste, 1),
	}
	diameter := v.cfg.SphereDiameter
	for _, s := range v.spheres {
		half := int32(diameter) / 2
		offset := [3]int32{
			int32(math.Round(s.pos[0])) - half,
			int32(math.Round(s.pos[1])) - half,
			int32(math.Round(s.pos[2])) - half,
		}
		commands = append(commands,
			voxmesh.NewPasteSphereCommand(v.grid, diameter, offset, voxmesh.Paste, 0))
	}
	if v.cfg.Debug {
		commands = append(commands, voxmesh.NewGetVoxelsCommand(v.grid, v.logSolidCount))
	}
	commands = append(commands, voxmesh.NewGenerateMeshCommand(v.grid, v.receiveMesh))
	return commands
}

// logSolidCount runs on the map-completion thread.
func (v *viewer) logSolidCount(grid voxmesh.VoxelGridVec) {
	solid := 0
	for _, word := range grid.Data {
		if voxmesh.Material(word) != 0 {
			solid++
		}
	}
	v.log.Debugf("grid %dx%dx%d: %d solid voxels",
		grid.Size[0], grid.Size[1], grid.Size[2], solid)
}

// receiveMesh runs on the map-completion thread; it only stages data.
func (v *viewer) receiveMesh(vertexes, normals []mgl32.Vec3) {
	mesh := make([]meshVertex, len(vertexes))
	for i := range vertexes {
		mesh[i] = meshVertex{Position: [3]float32(vertexes[i]), Normal: [3]float32(normals[i])}
	}
	v.meshMu.Lock()
	v.pendingMesh = mesh
	v.meshMu.Unlock()
}

func (v *viewer) update() {
	now := time.Now()
	dt := now.Sub(v.lastFrame).Seconds()
	v.lastFrame = now
	if dt > 0.1 {
		dt = 0.1
	}

	if v.staticModel {
		return
	}
	v.stepSpheres(dt)

	// Resubmit once the previous run has fully completed.
	if v.list.State() == voxmesh.CommandListDone {
		ok := v.list.Edit(func(commands *[]voxmesh.VoxelCommand) {
			*commands = v.buildCommands()
		})
		if ok && !v.list.RunAgain() {
			v.log.Warnf("command list %s: rerun refused in state %s", v.list.Id(), v.list.State())
		}
	}
}

func (v *viewer) stepSpheres(dt float64) {
	radius := float64(v.cfg.SphereDiameter) / 2
	for i := range v.spheres {
		s := &v.spheres[i]
		for axis := 0; axis < 3; axis++ {
			s.pos[axis] += s.vel[axis] * dt
			limit := float64(v.cfg.GridSize[axis]) - radius
			if s.pos[axis] < radius {
				s.pos[axis] = radius
				s.vel[axis] = -s.vel[axis]
			} else if s.pos[axis] > limit {
				s.pos[axis] = limit
				s.vel[axis] = -s.vel[axis]
			}
		}
	}
}

func (v *viewer) render() {
	v.pipeline.PrepareCommandLists(v.list)

	v.takePendingMesh()
	v.writeCamera()

	encoder, err := v.gpu.Device.CreateCommandEncoder(nil)
	if err != nil {
		panic(err)
	}
	defer encoder.Release()

	v.pipeline.EncodeCommandLists(encoder)

	view, err := v.gpu.CurrentTexture()
	if err != nil {
		panic(err)
	}
	defer view.Release()

	renderPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: wgpu.Color{R: 0.08, G: 0.09, B: 0.12, A: 1.0},
			},
		},
	})
	renderPass.SetPipeline(v.renderPipeline)
	renderPass.SetBindGroup(0, v.cameraGroup, nil)
	if v.vertexBuffer != nil && v.vertexCount > 0 {
		renderPass.SetVertexBuffer(0, v.vertexBuffer, 0, wgpu.WholeSize)
		renderPass.Draw(v.vertexCount, 1, 0, 0)
	}
	if err := renderPass.End(); err != nil {
		panic(err)
	}
	renderPass.Release()

	cmdBuffer, err := encoder.Finish(nil)
	if err != nil {
		panic(err)
	}
	defer cmdBuffer.Release()
	v.gpu.Queue.Submit(cmdBuffer)
	v.gpu.Present()

	// Submitted; start the asynchronous completions and let callbacks fire.
	v.pipeline.FinishCommandLists()
	v.gpu.Device.Poll(false, nil)
}

func (v *viewer) takePendingMesh() {
	v.meshMu.Lock()
	mesh := v.pendingMesh
	v.pendingMesh = nil
	v.meshMu.Unlock()
	if mesh == nil {
		return
	}
	if v.vertexBuffer != nil {
		v.vertexBuffer.Release()
		v.vertexBuffer = nil
	}
	v.vertexCount = uint32(len(mesh))
	if v.vertexCount == 0 {
		return
	}
	v.vertexBuffer = voxmesh.CreateBuffer("MeshVertexes", wgpu.ToBytes(mesh), v.gpu,
		wgpu.BufferUsageVertex)
	v.log.Debugf("mesh updated: %d vertexes", v.vertexCount)
}

func (v *viewer) writeCamera() {
	size := v.cfg.GridSize
	center := mgl32.Vec3{float32(size[0]) / 2, float32(size[1]) / 2, float32(size[2]) / 2}
	orbit := float32(time.Since(v.startTime).Seconds() * 0.3)
	radius := float32(size[0]+size[1]) * 0.9
	eye := center.Add(mgl32.Vec3{
		radius * float32(math.Cos(float64(orbit))),
		radius * float32(math.Sin(float64(orbit))),
		float32(size[2]) * 1.5,
	})

	aspect := float32(v.cfg.WindowWidth) / float32(v.cfg.WindowHeight)
	proj := mgl32.Perspective(mgl32.DegToRad(45), aspect, 0.1, 4*radius)
	viewMat := mgl32.LookAtV(eye, center, mgl32.Vec3{0, 0, 1})
	viewProj := proj.Mul4(viewMat)

	if err := v.gpu.Queue.WriteBuffer(v.cameraBuffer, 0, wgpu.ToBytes(viewProj[:])); err != nil {
		panic(err)
	}
}
