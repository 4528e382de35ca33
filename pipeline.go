package voxmesh

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/voxmesh/shaders"
)

type layoutAndPipeline struct {
	layout   *wgpu.BindGroupLayout
	pipeline *wgpu.ComputePipeline
}

// CommandPipeline compiles the voxel kernels once at startup and drives
// command lists through their run. A single thread calls the three phases;
// between Encode and Finish the host must submit the encoder to the queue,
// and it polls the device so map completions can fire.
type CommandPipeline struct {
	log     Logger
	device  *wgpu.Device
	entries map[string]layoutAndPipeline

	mu       sync.Mutex
	inFlight []*commandListData
}

// NewCommandPipeline compiles the embedded WGSL and caches entry point to
// (bind group layout, compute pipeline) for every command kernel.
func NewCommandPipeline(device *wgpu.Device, log Logger) (*CommandPipeline, error) {
	if log == nil {
		log = NewNopLogger()
	}
	p := &CommandPipeline{
		log:     log,
		device:  device,
		entries: map[string]layoutAndPipeline{},
	}

	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "vox",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.VoxWGSL},
	})
	if err != nil {
		return nil, err
	}
	defer module.Release()

	register := func(entryPoint string, layout *wgpu.BindGroupLayout, err error) error {
		if err != nil {
			return fmt.Errorf("bind group layout for %s: %w", entryPoint, err)
		}
		pipelineLayout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
			BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
		})
		if err != nil {
			return fmt.Errorf("pipeline layout for %s: %w", entryPoint, err)
		}
		pipeline, err := device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:  entryPoint + "_pipeline",
			Layout: pipelineLayout,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     module,
				EntryPoint: entryPoint,
			},
		})
		if err != nil {
			return fmt.Errorf("compute pipeline for %s: %w", entryPoint, err)
		}
		p.entries[entryPoint] = layoutAndPipeline{layout: layout, pipeline: pipeline}
		return nil
	}

	cubeLayout, cubeErr := GeometryBindGroupLayout(device)
	if err := register(PasteCubeEntryPoint, cubeLayout, cubeErr); err != nil {
		return nil, err
	}
	sphereLayout, sphereErr := GeometryBindGroupLayout(device)
	if err := register(PasteSphereEntryPoint, sphereLayout, sphereErr); err != nil {
		return nil, err
	}
	meshLayout, meshErr := GenerateMeshBindGroupLayout(device)
	if err := register(GenerateMeshEntryPoint, meshLayout, meshErr); err != nil {
		return nil, err
	}
	return p, nil
}

// Layout resolves an entry point to its cached bind group layout. Unknown
// names are a caller bug.
func (p *CommandPipeline) Layout(entryPoint string) *wgpu.BindGroupLayout {
	entry, ok := p.entries[entryPoint]
	if !ok {
		panic("unknown bind group layout in commands: " + entryPoint)
	}
	return entry.layout
}

// Pipeline resolves an entry point to its compiled compute pipeline.
// Unknown names are a caller bug.
func (p *CommandPipeline) Pipeline(entryPoint string) *wgpu.ComputePipeline {
	entry, ok := p.entries[entryPoint]
	if !ok {
		panic("unknown pipeline in commands: " + entryPoint)
	}
	return entry.pipeline
}

// PrepareCommandLists runs Prepare on every command of every Init list, in
// list order, and flips those lists to Busy. Lists in any other state are
// skipped this cycle.
func (p *CommandPipeline) PrepareCommandLists(lists ...CommandList) {
	for _, list := range lists {
		d := list.data
		d.commandsMu.Lock()
		d.stateMu.Lock()
		if d.state != CommandListInit {
			d.stateMu.Unlock()
			d.commandsMu.Unlock()
			continue
		}
		p.log.Debugf("command list %s: preparing %d commands", d.id, len(d.commands))
		for _, command := range d.commands {
			command.Prepare(p.device, p.Layout)
		}
		d.state = CommandListBusy
		d.stateMu.Unlock()
		d.commandsMu.Unlock()

		p.mu.Lock()
		p.inFlight = append(p.inFlight, d)
		p.mu.Unlock()
	}
}

// EncodeCommandLists records every Busy list's compute passes and copies
// into the encoder, in list order. The host must submit the encoder before
// calling FinishCommandLists.
func (p *CommandPipeline) EncodeCommandLists(encoder *wgpu.CommandEncoder) {
	p.mu.Lock()
	inFlight := append([]*commandListData(nil), p.inFlight...)
	p.mu.Unlock()

	for _, d := range inFlight {
		d.commandsMu.Lock()
		d.stateMu.Lock()
		if d.state != CommandListBusy {
			d.stateMu.Unlock()
			d.commandsMu.Unlock()
			continue
		}
		d.stateMu.Unlock()
		for _, command := range d.commands {
			command.AddPass(encoder, p.Pipeline)
			command.AddCopy(encoder)
		}
		d.commandsMu.Unlock()
	}
}

// FinishCommandLists flips each in-flight Busy list to Mapping and starts
// its commands' asynchronous completions. Lists leave the in-flight set
// here; they reach Done from the device's callbacks.
func (p *CommandPipeline) FinishCommandLists() {
	p.mu.Lock()
	inFlight := p.inFlight
	p.inFlight = nil
	p.mu.Unlock()

	for _, d := range inFlight {
		d.finish(p.log)
	}
}
