package voxmesh

import (
	"errors"
	"reflect"
	"runtime"
	"strconv"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

type WindowState struct {
	windowGlfw   *glfw.Window
	WindowWidth  int
	WindowHeight int
	windowTitle  string
}

// Window exposes the underlying glfw window for event polling.
func (s *WindowState) Window() *glfw.Window {
	return s.windowGlfw
}

type GpuState struct {
	surface       *wgpu.Surface
	adapter       *wgpu.Adapter
	Device        *wgpu.Device
	Queue         *wgpu.Queue
	surfaceConfig *wgpu.SurfaceConfiguration
}

// SurfaceFormat returns the configured swapchain format. Only valid for a
// windowed GpuState.
func (s *GpuState) SurfaceFormat() wgpu.TextureFormat {
	return s.surfaceConfig.Format
}

// CurrentTexture acquires the next swapchain texture.
func (s *GpuState) CurrentTexture() (*wgpu.TextureView, error) {
	texture, err := s.surface.GetCurrentTexture()
	if err != nil {
		return nil, err
	}
	return texture.CreateView(nil)
}

// Present presents the last acquired swapchain texture.
func (s *GpuState) Present() {
	s.surface.Present()
}

func NewWindowState(windowWidth int, windowHeight int, windowTitle string) *WindowState {
	runtime.LockOSThread()
	if err := glfw.Init(); err != nil {
		panic(err)
	}

	// No GL context; the surface comes from wgpu.
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	win, err := glfw.CreateWindow(windowWidth, windowHeight, windowTitle, nil, nil)
	if err != nil {
		panic(err)
	}

	return &WindowState{
		windowGlfw:   win,
		WindowWidth:  windowWidth,
		WindowHeight: windowHeight,
		windowTitle:  windowTitle,
	}
}

func NewGpuState(s *WindowState) *GpuState {
	instance := wgpu.CreateInstance(nil)
	defer instance.Release()
	surface := instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(s.windowGlfw))
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		panic(err)
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:            "Main Device",
		RequiredFeatures: nil,
		RequiredLimits:   nil,
	})
	if err != nil {
		panic(err)
	}
	queue := device.GetQueue()

	caps := surface.GetCapabilities(adapter)
	surfaceConfig := wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(s.WindowWidth),
		Height:      uint32(s.WindowHeight),
		PresentMode: wgpu.PresentModeFifo, // vsync
		AlphaMode:   caps.AlphaModes[0],
	}

	surface.Configure(adapter, device, &surfaceConfig)

	return &GpuState{
		surface:       surface,
		adapter:       adapter,
		Device:        device,
		Queue:         queue,
		surfaceConfig: &surfaceConfig,
	}
}

// NewHeadlessGpuState acquires a device with no surface, for compute-only
// use. Unlike the windowed path this returns an error instead of panicking,
// so callers (and tests) can fall back or skip when no adapter exists.
func NewHeadlessGpuState() (*GpuState, error) {
	instance := wgpu.CreateInstance(nil)
	defer instance.Release()
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, errors.New("no compatible GPU adapter")
	}
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Compute Device",
	})
	if err != nil {
		return nil, err
	}
	return &GpuState{
		adapter: adapter,
		Device:  device,
		Queue:   device.GetQueue(),
	}, nil
}

// NewRenderPipeline builds a render pipeline whose vertex layout is read
// from struct tags on vertexType, e.g.
//
//	type vertex struct {
//	    pos    [3]float32 `voxmesh:"layout" location:"0" format:"float3"`
//	    normal [3]float32 `voxmesh:"layout" location:"1" format:"float3"`
//	}
func NewRenderPipeline(name string, shaderCode string, vertexType any, gpuState *GpuState) *wgpu.RenderPipeline {
	shader, err := gpuState.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaderCode},
	})
	if err != nil {
		panic(err)
	}
	defer shader.Release()

	vertexBufferLayout := vertexBufferLayoutOf(vertexType)

	pipeline, err := gpuState.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Vertex: wgpu.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
			Buffers:    []wgpu.VertexBufferLayout{vertexBufferLayout},
		},
		Fragment: &wgpu.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    gpuState.surfaceConfig.Format,
					Blend:     nil,
					WriteMask: wgpu.ColorWriteMaskAll,
				},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		DepthStencil: nil,
		Multisample: wgpu.MultisampleState{
			Count:                  1,
			Mask:                   0xFFFFFFFF,
			AlphaToCoverageEnabled: false,
		},
	})
	if err != nil {
		panic(err)
	}
	return pipeline
}

func vertexBufferLayoutOf(vertexType any) wgpu.VertexBufferLayout {
	t := reflect.TypeOf(vertexType)
	if t.Kind() != reflect.Struct {
		panic("Vertex must be a struct")
	}

	var attributes []wgpu.VertexAttribute
	var offset uint64 = 0

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		if "layout" == field.Tag.Get("voxmesh") {
			format := parseVertexFormat(field.Tag.Get("format"))
			location, err := strconv.Atoi(field.Tag.Get("location"))
			if nil != err {
				panic(err)
			}

			attributes = append(attributes, wgpu.VertexAttribute{
				ShaderLocation: uint32(location),
				Offset:         offset,
				Format:         format,
			})
		}

		offset += uint64(field.Type.Size())
	}

	return wgpu.VertexBufferLayout{
		ArrayStride: offset,
		StepMode:    wgpu.VertexStepModeVertex,
		Attributes:  attributes,
	}
}

func parseVertexFormat(name string) wgpu.VertexFormat {
	switch name {
	case "float2":
		return wgpu.VertexFormatFloat32x2
	case "float3":
		return wgpu.VertexFormatFloat32x3
	case "float4":
		return wgpu.VertexFormatFloat32x4
	default:
		panic("unsupported vertex layout format: " + name)
	}
}

// CreateBuffer uploads data as a buffer with the given usage.
func CreateBuffer(name string, data []byte, gpuState *GpuState, usage wgpu.BufferUsage) *wgpu.Buffer {
	buffer, err := gpuState.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    name,
		Contents: data,
		Usage:    usage,
	})
	if err != nil {
		panic(err)
	}
	return buffer
}
