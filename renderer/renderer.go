package renderer

import (
	"github.com/cardinalgfx/cardinal/config"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// Window reports the size of the area the swapchain presents to, in pixels
type Window interface {
	DrawableSize() (width, height int)
}

// ShaderLoader reads SPIR-V bytecode by name
type ShaderLoader interface {
	Load(names ...string) ([][]uint32, error)
}

// Renderer draws a single triangle into the window surface of an Instance.
// It is not safe for concurrent use.
type Renderer struct {
	instance Instance
	window   Window
	shaders  ShaderLoader
	cfg      config.Renderer
	log      log.FieldLogger

	candidate Candidate
	device    Device

	// deviceStack owns the device and everything that survives a rebuild,
	// swapchainStack everything that doesn't
	deviceStack    teardown
	swapchainStack teardown

	state       SwapchainState
	format      khr_surface.SurfaceFormat
	images      []Image
	views       []ImageView
	layout      PipelineLayout
	target      Target
	shaderCode  [][]uint32
	frames      *FrameExecutor
	initialized bool
}

func New(instance Instance, window Window, shaders ShaderLoader, cfg config.Renderer, logger log.FieldLogger) *Renderer {
	return &Renderer{
		instance: instance,
		window:   window,
		shaders:  shaders,
		cfg:      cfg,
		log:      logger.WithField("renderer", uuid.New().String()),
		state:    SwapchainStale,
	}
}

// Init picks a device and builds everything needed to draw. Errors are
// marked ErrFatal; call Destroy to release what was built before the
// failure.
func (r *Renderer) Init() error {
	if r.initialized {
		return errors.New("renderer is already initialized")
	}

	selector := &Selector{Instance: r.instance, Log: r.log}
	candidate, err := selector.PickPhysicalDevice()
	if err != nil {
		return fatal(err, "picking physical device")
	}
	r.candidate = candidate

	device, err := CreateLogicalDevice(r.instance, candidate, r.cfg.Validation.EnabledLayers())
	if err != nil {
		return fatal(err, "creating logical device")
	}
	r.device = device
	r.deviceStack.push(device.Destroy)
	r.log.WithField("device", candidate.Name).Info("logical device created")

	r.shaderCode, err = r.shaders.Load(r.cfg.VertexShader, r.cfg.FragmentShader)
	if err != nil {
		return fatal(err, "loading shaders")
	}
	r.log.WithFields(log.Fields{
		"vertex":   r.cfg.VertexShader,
		"fragment": r.cfg.FragmentShader,
	}).Debug("shaders loaded")

	if err := r.rebuild(); err != nil {
		return err
	}

	r.frames, err = NewFrameExecutor(device, candidate.Indices, FrameConfig{
		FramesInFlight: r.cfg.FramesInFlight,
		ClearColor:     r.cfg.ClearColor,
		FenceTimeout:   r.cfg.FenceTimeout,
		AcquireTimeout: r.cfg.AcquireTimeout,
	}, &r.deviceStack, r.log)
	if err != nil {
		return fatal(err, "creating frame executor")
	}
	r.log.WithField("frames_in_flight", r.cfg.FramesInFlight).Info("command pool and sync objects created")
	if err := r.frames.Retarget(len(r.images), &r.swapchainStack); err != nil {
		return fatal(err, "creating per image semaphores")
	}
	r.initialized = true

	r.log.WithFields(log.Fields{
		"device":           candidate.Name,
		"frames_in_flight": r.cfg.FramesInFlight,
		"state":            r.state,
	}).Info("renderer initialized")
	return nil
}

func (r *Renderer) State() SwapchainState {
	return r.state
}

// MarkStale schedules a rebuild, for instance after the window was resized
func (r *Renderer) MarkStale() {
	if r.state == SwapchainReady {
		r.state = SwapchainStale
	}
}

func (r *Renderer) Stats() Stats {
	if r.frames == nil {
		return Stats{}
	}
	return r.frames.Stats()
}

// DrawFrame draws and presents one frame. Errors marked ErrFrameAborted
// leave the renderer usable; when they are also marked ErrSwapchainStale
// call Rebuild before drawing again.
func (r *Renderer) DrawFrame() error {
	if !r.initialized {
		return ErrNotInitialized
	}
	if r.state != SwapchainReady {
		return errors.Mark(errors.Mark(errors.Newf("swapchain is %s", r.state), ErrSwapchainStale), ErrFrameAborted)
	}

	suboptimal, err := r.frames.DrawFrame(&r.target)
	if errors.Is(err, ErrSwapchainStale) || suboptimal {
		r.state = SwapchainStale
	}
	return err
}

// Rebuild re-creates the swapchain and everything built from it. A window
// with no area leaves the swapchain stale without an error.
func (r *Renderer) Rebuild() error {
	if !r.initialized {
		return ErrNotInitialized
	}
	return r.rebuild()
}

func (r *Renderer) rebuild() error {
	width, height := r.window.DrawableSize()
	if width <= 0 || height <= 0 {
		r.log.Debug("window has no area, postponing swapchain rebuild")
		r.state = SwapchainStale
		return nil
	}

	support, err := querySwapchainSupport(r.instance, r.candidate.Device)
	if err != nil {
		return fatal(err, "querying swapchain support")
	}
	info := swapchainCreateInfo(support, r.candidate.Indices, width, height)
	if info.Extent.Width <= 0 || info.Extent.Height <= 0 {
		r.log.Debug("surface has no area, postponing swapchain rebuild")
		r.state = SwapchainStale
		return nil
	}

	r.state = SwapchainRebuilding
	if err := r.device.WaitIdle(); err != nil {
		r.state = SwapchainStale
		return fatal(err, "waiting for device idle")
	}
	r.swapchainStack.release()

	if err := r.buildSwapchain(info); err != nil {
		r.state = SwapchainStale
		return fatal(err, "rebuilding swapchain")
	}

	if r.frames != nil {
		if err := r.frames.Retarget(len(r.images), &r.swapchainStack); err != nil {
			r.state = SwapchainStale
			return fatal(err, "creating per image semaphores")
		}
	}
	r.state = SwapchainReady
	r.log.WithFields(log.Fields{
		"images": len(r.images),
		"width":  info.Extent.Width,
		"height": info.Extent.Height,
	}).Debug("swapchain built")
	return nil
}

func (r *Renderer) buildSwapchain(info SwapchainCreateInfo) error {
	stages := []struct {
		build func() error
		done  string
	}{
		{func() error { return r.CreateSwapchain(info) }, "swapchain created"},
		{r.CreateImageViews, "image views created"},
		{r.CreateRenderPass, "render pass created"},
		{r.CreateGraphicsPipeline, "graphics pipeline created"},
		{r.CreateFramebuffers, "framebuffers created"},
	}
	for _, stage := range stages {
		if err := stage.build(); err != nil {
			return err
		}
		r.log.Debug(stage.done)
	}
	return nil
}

func (r *Renderer) CreateSwapchain(info SwapchainCreateInfo) error {
	swapchain, err := r.device.CreateSwapchain(info)
	if err != nil {
		return errors.Wrap(err, "creating swapchain")
	}
	r.swapchainStack.push(func() { r.device.DestroySwapchain(swapchain) })

	r.images, err = r.device.GetSwapchainImages(swapchain)
	if err != nil {
		return errors.Wrap(err, "retrieving swapchain images")
	}

	r.target.Swapchain = swapchain
	r.target.Extent = info.Extent
	r.format = info.Format
	return nil
}

func (r *Renderer) CreateImageViews() error {
	r.views = make([]ImageView, 0, len(r.images))
	for _, image := range r.images {
		view, err := r.device.CreateImageView(imageViewCreateInfo(image, r.format.Format))
		if err != nil {
			return errors.Wrap(err, "creating image view")
		}
		r.swapchainStack.push(func() { r.device.DestroyImageView(view) })
		r.views = append(r.views, view)
	}
	return nil
}

func (r *Renderer) CreateRenderPass() error {
	renderPass, err := r.device.CreateRenderPass(RenderPassInfo(r.format.Format))
	if err != nil {
		return errors.Wrap(err, "creating render pass")
	}
	r.swapchainStack.push(func() { r.device.DestroyRenderPass(renderPass) })
	r.target.RenderPass = renderPass
	return nil
}

// CreateGraphicsPipeline builds the pipeline from the loaded bytecode. The
// shader modules only live until the pipeline exists.
func (r *Renderer) CreateGraphicsPipeline() error {
	if len(r.shaderCode) != 2 {
		return errors.Newf("want vertex and fragment bytecode, have %d stages", len(r.shaderCode))
	}

	vertShader, err := r.device.CreateShaderModule(r.shaderCode[0])
	if err != nil {
		return errors.Wrap(err, "creating vertex shader module")
	}
	defer r.device.DestroyShaderModule(vertShader)

	fragShader, err := r.device.CreateShaderModule(r.shaderCode[1])
	if err != nil {
		return errors.Wrap(err, "creating fragment shader module")
	}
	defer r.device.DestroyShaderModule(fragShader)

	layout, err := r.device.CreatePipelineLayout()
	if err != nil {
		return errors.Wrap(err, "creating pipeline layout")
	}
	r.swapchainStack.push(func() { r.device.DestroyPipelineLayout(layout) })
	r.layout = layout

	pipeline, err := r.device.CreateGraphicsPipeline(GraphicsPipelineDesc(vertShader, fragShader, layout, r.target.RenderPass, r.target.Extent))
	if err != nil {
		return errors.Wrap(err, "creating graphics pipeline")
	}
	r.swapchainStack.push(func() { r.device.DestroyPipeline(pipeline) })
	r.target.Pipeline = pipeline
	return nil
}

func (r *Renderer) CreateFramebuffers() error {
	r.target.Framebuffers = make([]Framebuffer, 0, len(r.views))
	for _, view := range r.views {
		framebuffer, err := r.device.CreateFramebuffer(FramebufferCreateInfo{
			RenderPass:  r.target.RenderPass,
			Attachments: []ImageView{view},
			Width:       r.target.Extent.Width,
			Height:      r.target.Extent.Height,
			Layers:      1,
		})
		if err != nil {
			return errors.Wrap(err, "creating framebuffer")
		}
		r.swapchainStack.push(func() { r.device.DestroyFramebuffer(framebuffer) })
		r.target.Framebuffers = append(r.target.Framebuffers, framebuffer)
	}
	return nil
}

func (r *Renderer) WaitIdle() error {
	if r.device == nil {
		return nil
	}
	return errors.Wrap(r.device.WaitIdle(), "waiting for device idle")
}

// Destroy releases every object the renderer created, newest first. It
// is safe to call after a failed Init and more than once.
func (r *Renderer) Destroy() {
	if r.device != nil && !r.deviceStack.empty() {
		if err := r.device.WaitIdle(); err != nil {
			r.log.WithError(err).Warn("waiting for device idle before teardown")
		}
	}

	r.swapchainStack.release()
	r.deviceStack.release()

	r.device = nil
	r.frames = nil
	r.initialized = false
	r.state = SwapchainStale
}
