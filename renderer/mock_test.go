package renderer

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// mockPhysicalDevice is one GPU the mock instance reports
type mockPhysicalDevice struct {
	name         string
	families     []QueueFamily
	extensions   []string
	capabilities *khr_surface.SurfaceCapabilities
	formats      []khr_surface.SurfaceFormat
	presentModes []khr_surface.PresentMode
}

func goodPhysicalDevice(name string) mockPhysicalDevice {
	return mockPhysicalDevice{
		name:       name,
		families:   []QueueFamily{{Graphics: true, Present: true}},
		extensions: []string{khr_swapchain.ExtensionName},
		capabilities: &khr_surface.SurfaceCapabilities{
			MinImageCount:  2,
			MaxImageCount:  8,
			CurrentExtent:  core1_0.Extent2D{Width: 1280, Height: 720},
			MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
			MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
		},
		formats: []khr_surface.SurfaceFormat{
			{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
		},
		presentModes: []khr_surface.PresentMode{khr_surface.PresentModeMailbox},
	}
}

type mockInstance struct {
	devices      []mockPhysicalDevice
	enumerateErr error
	createErr    error

	device     *mockDevice
	createInfo DeviceCreateInfo
	createdOn  PhysicalDevice
}

func newMockInstance(devices ...mockPhysicalDevice) *mockInstance {
	return &mockInstance{devices: devices, device: newMockDevice()}
}

func (m *mockInstance) lookup(device PhysicalDevice) (*mockPhysicalDevice, error) {
	idx := int(device) - 1
	if idx < 0 || idx >= len(m.devices) {
		return nil, errors.Newf("unknown physical device %d", device)
	}
	return &m.devices[idx], nil
}

func (m *mockInstance) EnumeratePhysicalDevices() ([]PhysicalDevice, error) {
	if m.enumerateErr != nil {
		return nil, m.enumerateErr
	}
	devices := make([]PhysicalDevice, len(m.devices))
	for i := range m.devices {
		devices[i] = PhysicalDevice(i + 1)
	}
	return devices, nil
}

func (m *mockInstance) DeviceName(device PhysicalDevice) (string, error) {
	d, err := m.lookup(device)
	if err != nil {
		return "", err
	}
	return d.name, nil
}

func (m *mockInstance) QueueFamilies(device PhysicalDevice) ([]QueueFamily, error) {
	d, err := m.lookup(device)
	if err != nil {
		return nil, err
	}
	return d.families, nil
}

func (m *mockInstance) DeviceExtensions(device PhysicalDevice) (map[string]struct{}, error) {
	d, err := m.lookup(device)
	if err != nil {
		return nil, err
	}
	extensions := make(map[string]struct{})
	for _, name := range d.extensions {
		extensions[name] = struct{}{}
	}
	return extensions, nil
}

func (m *mockInstance) SurfaceCapabilities(device PhysicalDevice) (*khr_surface.SurfaceCapabilities, error) {
	d, err := m.lookup(device)
	if err != nil {
		return nil, err
	}
	return d.capabilities, nil
}

func (m *mockInstance) SurfaceFormats(device PhysicalDevice) ([]khr_surface.SurfaceFormat, error) {
	d, err := m.lookup(device)
	if err != nil {
		return nil, err
	}
	return d.formats, nil
}

func (m *mockInstance) SurfacePresentModes(device PhysicalDevice) ([]khr_surface.PresentMode, error) {
	d, err := m.lookup(device)
	if err != nil {
		return nil, err
	}
	return d.presentModes, nil
}

func (m *mockInstance) CreateDevice(device PhysicalDevice, info DeviceCreateInfo) (Device, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.createdOn = device
	m.createInfo = info
	m.device.create("device", 0)
	return m.device, nil
}

type mockFence struct {
	signaled bool
	// pending is set while a submission will signal the fence
	pending bool
}

// mockDevice records every call and simulates the GPU timeline: a
// submission completes when its fence is waited on or the device idles.
// Misuse that would hang or be invalid on a real device is collected in
// violations.
type mockDevice struct {
	trace      []string
	created    []string
	destroyed  []string
	violations []string
	nextHandle Handle

	fences     map[Fence]*mockFence
	semaphores map[Semaphore]bool

	// presenting maps an image to the semaphore its present still waits
	// on. The wait is only known to be done once the image is acquired
	// again or the device idles.
	presenting map[int]Semaphore

	// outstanding holds command buffers that were recorded and whose
	// submission was not yet seen to complete, mapped to their fence
	outstanding    map[CommandBuffer]Fence
	maxOutstanding int

	swapchainInfos   []SwapchainCreateInfo
	renderPassInfos  []core1_0.RenderPassCreateInfo
	pipelineInfos    []GraphicsPipelineCreateInfo
	framebufferInfos []FramebufferCreateInfo
	submits          []SubmitInfo
	imageCounts      map[Swapchain]int
	nextImage        int

	// Injected failures, consumed one per call. A nil entry succeeds.
	acquireErrs  []error
	submitErrs   []error
	presentErrs  []error
	beginErrs    []error
	waitIdleErrs []error
	pipelineErr  error

	acquireSuboptimal bool
	presentSuboptimal bool
}

func newMockDevice() *mockDevice {
	return &mockDevice{
		fences:      make(map[Fence]*mockFence),
		semaphores:  make(map[Semaphore]bool),
		presenting:  make(map[int]Semaphore),
		outstanding: make(map[CommandBuffer]Fence),
		imageCounts: make(map[Swapchain]int),
	}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (m *mockDevice) call(format string, args ...interface{}) {
	m.trace = append(m.trace, fmt.Sprintf(format, args...))
}

func (m *mockDevice) violate(format string, args ...interface{}) {
	m.violations = append(m.violations, fmt.Sprintf(format, args...))
}

func (m *mockDevice) handle() Handle {
	m.nextHandle++
	return m.nextHandle
}

func (m *mockDevice) create(kind string, h Handle) {
	m.created = append(m.created, fmt.Sprintf("%s:%d", kind, h))
}

func (m *mockDevice) destroy(kind string, h Handle) {
	m.destroyed = append(m.destroyed, fmt.Sprintf("%s:%d", kind, h))
	m.call("Destroy %s %d", kind, h)
}

// calls returns the trace entries starting with one of the prefixes
func (m *mockDevice) calls(prefixes ...string) []string {
	var filtered []string
	for _, entry := range m.trace {
		for _, prefix := range prefixes {
			if strings.HasPrefix(entry, prefix) {
				filtered = append(filtered, entry)
				break
			}
		}
	}
	return filtered
}

func (m *mockDevice) complete(fence Fence) {
	f := m.fences[fence]
	if f == nil || !f.pending {
		return
	}
	f.pending = false
	f.signaled = true
	for buffer, bufferFence := range m.outstanding {
		if bufferFence == fence {
			delete(m.outstanding, buffer)
		}
	}
}

// consumePresent finishes the present wait of image, if any
func (m *mockDevice) consumePresent(image int) {
	semaphore, ok := m.presenting[image]
	if !ok {
		return
	}
	delete(m.presenting, image)
	if _, exists := m.semaphores[semaphore]; exists {
		m.semaphores[semaphore] = false
	}
}

func (m *mockDevice) GetQueue(family int) Queue {
	m.call("GetQueue %d", family)
	return Queue(100 + family)
}

func (m *mockDevice) WaitIdle() error {
	m.call("WaitIdle")
	if err := pop(&m.waitIdleErrs); err != nil {
		return err
	}
	for fence := range m.fences {
		m.complete(fence)
	}
	for image := range m.presenting {
		m.consumePresent(image)
	}
	return nil
}

func (m *mockDevice) Destroy() {
	m.destroy("device", 0)
}

func (m *mockDevice) CreateSwapchain(info SwapchainCreateInfo) (Swapchain, error) {
	h := Swapchain(m.handle())
	m.call("CreateSwapchain %d", h)
	m.create("swapchain", Handle(h))
	m.swapchainInfos = append(m.swapchainInfos, info)
	m.imageCounts[h] = info.MinImageCount
	m.nextImage = 0
	m.presenting = make(map[int]Semaphore)
	return h, nil
}

func (m *mockDevice) GetSwapchainImages(swapchain Swapchain) ([]Image, error) {
	images := make([]Image, m.imageCounts[swapchain])
	for i := range images {
		images[i] = Image(m.handle())
	}
	return images, nil
}

func (m *mockDevice) DestroySwapchain(swapchain Swapchain) {
	m.destroy("swapchain", Handle(swapchain))
}

func (m *mockDevice) CreateImageView(info ImageViewCreateInfo) (ImageView, error) {
	h := ImageView(m.handle())
	m.create("view", Handle(h))
	return h, nil
}

func (m *mockDevice) DestroyImageView(view ImageView) {
	m.destroy("view", Handle(view))
}

func (m *mockDevice) CreateRenderPass(info core1_0.RenderPassCreateInfo) (RenderPass, error) {
	h := RenderPass(m.handle())
	m.create("renderpass", Handle(h))
	m.renderPassInfos = append(m.renderPassInfos, info)
	return h, nil
}

func (m *mockDevice) DestroyRenderPass(renderPass RenderPass) {
	m.destroy("renderpass", Handle(renderPass))
}

func (m *mockDevice) CreateShaderModule(code []uint32) (ShaderModule, error) {
	h := ShaderModule(m.handle())
	m.call("CreateShaderModule %d", h)
	return h, nil
}

func (m *mockDevice) DestroyShaderModule(module ShaderModule) {
	m.call("DestroyShaderModule %d", module)
}

func (m *mockDevice) CreatePipelineLayout() (PipelineLayout, error) {
	h := PipelineLayout(m.handle())
	m.create("layout", Handle(h))
	return h, nil
}

func (m *mockDevice) DestroyPipelineLayout(layout PipelineLayout) {
	m.destroy("layout", Handle(layout))
}

func (m *mockDevice) CreateGraphicsPipeline(info GraphicsPipelineCreateInfo) (Pipeline, error) {
	if m.pipelineErr != nil {
		return 0, m.pipelineErr
	}
	h := Pipeline(m.handle())
	m.call("CreateGraphicsPipeline %d", h)
	m.create("pipeline", Handle(h))
	m.pipelineInfos = append(m.pipelineInfos, info)
	return h, nil
}

func (m *mockDevice) DestroyPipeline(pipeline Pipeline) {
	m.destroy("pipeline", Handle(pipeline))
}

func (m *mockDevice) CreateFramebuffer(info FramebufferCreateInfo) (Framebuffer, error) {
	h := Framebuffer(m.handle())
	m.create("framebuffer", Handle(h))
	m.framebufferInfos = append(m.framebufferInfos, info)
	return h, nil
}

func (m *mockDevice) DestroyFramebuffer(framebuffer Framebuffer) {
	m.destroy("framebuffer", Handle(framebuffer))
}

func (m *mockDevice) CreateCommandPool(queueFamily int) (CommandPool, error) {
	h := CommandPool(m.handle())
	m.create("pool", Handle(h))
	return h, nil
}

func (m *mockDevice) DestroyCommandPool(pool CommandPool) {
	m.destroy("pool", Handle(pool))
}

func (m *mockDevice) AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, error) {
	buffers := make([]CommandBuffer, count)
	for i := range buffers {
		buffers[i] = CommandBuffer(m.handle())
	}
	return buffers, nil
}

func (m *mockDevice) ResetCommandBuffer(buffer CommandBuffer) error {
	m.call("ResetCommandBuffer %d", buffer)
	if fence, ok := m.outstanding[buffer]; ok {
		if f := m.fences[fence]; f != nil && f.pending {
			m.violate("reset command buffer %d while it is executing", buffer)
		}
		delete(m.outstanding, buffer)
	}
	return nil
}

func (m *mockDevice) BeginCommandBuffer(buffer CommandBuffer) error {
	m.call("BeginCommandBuffer %d", buffer)
	if err := pop(&m.beginErrs); err != nil {
		return err
	}
	m.outstanding[buffer] = 0
	if len(m.outstanding) > m.maxOutstanding {
		m.maxOutstanding = len(m.outstanding)
	}
	return nil
}

func (m *mockDevice) EndCommandBuffer(buffer CommandBuffer) error {
	m.call("EndCommandBuffer %d", buffer)
	return nil
}

func (m *mockDevice) CmdBeginRenderPass(buffer CommandBuffer, info RenderPassBeginInfo) error {
	m.call("CmdBeginRenderPass framebuffer=%d", info.Framebuffer)
	return nil
}

func (m *mockDevice) CmdBindPipeline(buffer CommandBuffer, pipeline Pipeline) {
	m.call("CmdBindPipeline %d", pipeline)
}

func (m *mockDevice) CmdSetViewport(buffer CommandBuffer, viewport core1_0.Viewport) {
	m.call("CmdSetViewport %vx%v", viewport.Width, viewport.Height)
}

func (m *mockDevice) CmdSetScissor(buffer CommandBuffer, scissor core1_0.Rect2D) {
	m.call("CmdSetScissor %dx%d", scissor.Extent.Width, scissor.Extent.Height)
}

func (m *mockDevice) CmdDraw(buffer CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance int) {
	m.call("CmdDraw %d %d %d %d", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (m *mockDevice) CmdEndRenderPass(buffer CommandBuffer) {
	m.call("CmdEndRenderPass")
}

func (m *mockDevice) CreateSemaphore() (Semaphore, error) {
	h := Semaphore(m.handle())
	m.create("semaphore", Handle(h))
	m.semaphores[h] = false
	return h, nil
}

func (m *mockDevice) DestroySemaphore(semaphore Semaphore) {
	delete(m.semaphores, semaphore)
	m.destroy("semaphore", Handle(semaphore))
}

func (m *mockDevice) CreateFence(signaled bool) (Fence, error) {
	h := Fence(m.handle())
	m.create("fence", Handle(h))
	m.fences[h] = &mockFence{signaled: signaled}
	return h, nil
}

func (m *mockDevice) DestroyFence(fence Fence) {
	delete(m.fences, fence)
	m.destroy("fence", Handle(fence))
}

func (m *mockDevice) WaitForFence(fence Fence, timeout time.Duration) error {
	m.call("WaitForFence %d", fence)
	f := m.fences[fence]
	if f == nil {
		m.violate("wait on unknown fence %d", fence)
		return errors.Newf("unknown fence %d", fence)
	}
	if f.signaled {
		return nil
	}
	if f.pending {
		m.complete(fence)
		return nil
	}
	m.violate("wait on fence %d that nothing will signal", fence)
	return errors.Mark(errors.Newf("fence %d never signals", fence), ErrTimeout)
}

func (m *mockDevice) ResetFence(fence Fence) error {
	m.call("ResetFence %d", fence)
	f := m.fences[fence]
	if f == nil {
		return errors.Newf("unknown fence %d", fence)
	}
	if f.pending {
		m.violate("reset fence %d with a pending submission", fence)
	}
	f.signaled = false
	return nil
}

func (m *mockDevice) AcquireNextImage(swapchain Swapchain, timeout time.Duration, signal Semaphore) (int, bool, error) {
	if err := pop(&m.acquireErrs); err != nil {
		m.call("AcquireNextImage failed")
		return 0, false, err
	}

	if m.semaphores[signal] {
		m.violate("acquire signals semaphore %d that is already signaled", signal)
	}
	m.semaphores[signal] = true

	index := m.nextImage
	m.nextImage = (m.nextImage + 1) % m.imageCounts[swapchain]
	m.consumePresent(index)
	m.call("AcquireNextImage %d", index)
	return index, m.acquireSuboptimal, nil
}

func (m *mockDevice) QueueSubmit(queue Queue, info SubmitInfo, fence Fence) error {
	m.call("QueueSubmit %d", info.CommandBuffer)
	if err := pop(&m.submitErrs); err != nil {
		return err
	}

	m.submits = append(m.submits, info)

	if !m.semaphores[info.WaitSemaphore] {
		m.violate("submit waits on unsignaled semaphore %d", info.WaitSemaphore)
	}
	if m.semaphores[info.SignalSemaphore] {
		m.violate("submit signals semaphore %d that a present may still wait on", info.SignalSemaphore)
	}
	m.semaphores[info.WaitSemaphore] = false
	m.semaphores[info.SignalSemaphore] = true

	f := m.fences[fence]
	if f.signaled || f.pending {
		m.violate("submit with fence %d that is not reset", fence)
	}
	f.pending = true
	m.outstanding[info.CommandBuffer] = fence
	return nil
}

func (m *mockDevice) QueuePresent(queue Queue, info PresentInfo) (bool, error) {
	m.call("QueuePresent %d", info.ImageIndex)
	if !m.semaphores[info.WaitSemaphore] {
		m.violate("present waits on unsignaled semaphore %d", info.WaitSemaphore)
	}
	m.presenting[info.ImageIndex] = info.WaitSemaphore

	if err := pop(&m.presentErrs); err != nil {
		return false, err
	}
	return m.presentSuboptimal, nil
}

type fakeWindow struct {
	width, height int
}

func (w *fakeWindow) DrawableSize() (int, int) {
	return w.width, w.height
}

type fakeShaders struct {
	names []string
	err   error
}

func (s *fakeShaders) Load(names ...string) ([][]uint32, error) {
	s.names = names
	if s.err != nil {
		return nil, s.err
	}
	code := make([][]uint32, len(names))
	for i := range code {
		code[i] = []uint32{0x07230203, uint32(i)}
	}
	return code, nil
}
