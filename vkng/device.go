package vkng

import (
	"time"

	"github.com/cardinalgfx/cardinal/renderer"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// Device implements renderer.Device on a vkngwrapper device driver
type Device struct {
	deviceDriver       core1_0.CoreDeviceDriver
	swapchainExtension khr_swapchain.ExtensionDriver
	surface            khr_surface.Surface

	queues         *registry[renderer.Queue, core1_0.Queue]
	queueFamilies  map[int]renderer.Queue
	swapchains     *registry[renderer.Swapchain, khr_swapchain.Swapchain]
	images         *registry[renderer.Image, core1_0.Image]
	imageViews     *registry[renderer.ImageView, core1_0.ImageView]
	renderPasses   *registry[renderer.RenderPass, core1_0.RenderPass]
	shaderModules  *registry[renderer.ShaderModule, core1_0.ShaderModule]
	layouts        *registry[renderer.PipelineLayout, core1_0.PipelineLayout]
	pipelines      *registry[renderer.Pipeline, core1_0.Pipeline]
	framebuffers   *registry[renderer.Framebuffer, core1_0.Framebuffer]
	commandPools   *registry[renderer.CommandPool, core1_0.CommandPool]
	commandBuffers *registry[renderer.CommandBuffer, core1_0.CommandBuffer]
	semaphores     *registry[renderer.Semaphore, core1_0.Semaphore]
	fences         *registry[renderer.Fence, core1_0.Fence]

	// swapchainImages remembers which image handles belong to a swapchain
	swapchainImages map[renderer.Swapchain][]renderer.Image
	poolBuffers     map[renderer.CommandPool][]renderer.CommandBuffer
}

var _ renderer.Device = (*Device)(nil)

func newDevice(deviceDriver core1_0.CoreDeviceDriver, surface khr_surface.Surface) *Device {
	return &Device{
		deviceDriver:       deviceDriver,
		swapchainExtension: khr_swapchain.CreateExtensionDriverFromCoreDriver(deviceDriver),
		surface:            surface,

		queues:         newRegistry[renderer.Queue, core1_0.Queue](),
		queueFamilies:  make(map[int]renderer.Queue),
		swapchains:     newRegistry[renderer.Swapchain, khr_swapchain.Swapchain](),
		images:         newRegistry[renderer.Image, core1_0.Image](),
		imageViews:     newRegistry[renderer.ImageView, core1_0.ImageView](),
		renderPasses:   newRegistry[renderer.RenderPass, core1_0.RenderPass](),
		shaderModules:  newRegistry[renderer.ShaderModule, core1_0.ShaderModule](),
		layouts:        newRegistry[renderer.PipelineLayout, core1_0.PipelineLayout](),
		pipelines:      newRegistry[renderer.Pipeline, core1_0.Pipeline](),
		framebuffers:   newRegistry[renderer.Framebuffer, core1_0.Framebuffer](),
		commandPools:   newRegistry[renderer.CommandPool, core1_0.CommandPool](),
		commandBuffers: newRegistry[renderer.CommandBuffer, core1_0.CommandBuffer](),
		semaphores:     newRegistry[renderer.Semaphore, core1_0.Semaphore](),
		fences:         newRegistry[renderer.Fence, core1_0.Fence](),

		swapchainImages: make(map[renderer.Swapchain][]renderer.Image),
		poolBuffers:     make(map[renderer.CommandPool][]renderer.CommandBuffer),
	}
}

func (d *Device) GetQueue(family int) renderer.Queue {
	if queue, ok := d.queueFamilies[family]; ok {
		return queue
	}
	queue := d.queues.add(d.deviceDriver.GetQueue(family, 0))
	d.queueFamilies[family] = queue
	return queue
}

func (d *Device) WaitIdle() error {
	_, err := d.deviceDriver.DeviceWaitIdle()
	return err
}

func (d *Device) Destroy() {
	d.deviceDriver.DestroyDevice(nil)
}

func (d *Device) CreateSwapchain(info renderer.SwapchainCreateInfo) (renderer.Swapchain, error) {
	swapchain, _, err := d.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: d.surface,

		MinImageCount:    info.MinImageCount,
		ImageFormat:      info.Format.Format,
		ImageColorSpace:  info.Format.ColorSpace,
		ImageExtent:      info.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   info.SharingMode,
		QueueFamilyIndices: info.QueueFamilyIndices,

		PreTransform:   info.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    info.PresentMode,
		Clipped:        true,
	})
	if err != nil {
		return 0, err
	}

	return d.swapchains.add(swapchain), nil
}

func (d *Device) GetSwapchainImages(handle renderer.Swapchain) ([]renderer.Image, error) {
	swapchain, ok := d.swapchains.get(handle)
	if !ok {
		return nil, errors.Newf("unknown swapchain %d", handle)
	}

	images, _, err := d.swapchainExtension.GetSwapchainImages(swapchain)
	if err != nil {
		return nil, err
	}

	for _, image := range d.swapchainImages[handle] {
		d.images.remove(image)
	}
	handles := make([]renderer.Image, len(images))
	for i, image := range images {
		handles[i] = d.images.add(image)
	}
	d.swapchainImages[handle] = handles
	return handles, nil
}

// DestroySwapchain also forgets its images, which the swapchain owns
func (d *Device) DestroySwapchain(handle renderer.Swapchain) {
	swapchain, ok := d.swapchains.remove(handle)
	if !ok {
		return
	}
	for _, image := range d.swapchainImages[handle] {
		d.images.remove(image)
	}
	delete(d.swapchainImages, handle)
	d.swapchainExtension.DestroySwapchain(swapchain, nil)
}

func (d *Device) CreateImageView(info renderer.ImageViewCreateInfo) (renderer.ImageView, error) {
	image, ok := d.images.get(info.Image)
	if !ok {
		return 0, errors.Newf("unknown image %d", info.Image)
	}

	imageView, _, err := d.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:            image,
		ViewType:         info.ViewType,
		Format:           info.Format,
		SubresourceRange: info.SubresourceRange,
	})
	if err != nil {
		return 0, err
	}
	return d.imageViews.add(imageView), nil
}

func (d *Device) DestroyImageView(handle renderer.ImageView) {
	if imageView, ok := d.imageViews.remove(handle); ok {
		d.deviceDriver.DestroyImageView(imageView, nil)
	}
}

func (d *Device) CreateRenderPass(info core1_0.RenderPassCreateInfo) (renderer.RenderPass, error) {
	renderPass, _, err := d.deviceDriver.CreateRenderPass(nil, info)
	if err != nil {
		return 0, err
	}
	return d.renderPasses.add(renderPass), nil
}

func (d *Device) DestroyRenderPass(handle renderer.RenderPass) {
	if renderPass, ok := d.renderPasses.remove(handle); ok {
		d.deviceDriver.DestroyRenderPass(renderPass, nil)
	}
}

func (d *Device) CreateShaderModule(code []uint32) (renderer.ShaderModule, error) {
	shaderModule, _, err := d.deviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return 0, err
	}
	return d.shaderModules.add(shaderModule), nil
}

func (d *Device) DestroyShaderModule(handle renderer.ShaderModule) {
	if shaderModule, ok := d.shaderModules.remove(handle); ok {
		d.deviceDriver.DestroyShaderModule(shaderModule, nil)
	}
}

func (d *Device) CreatePipelineLayout() (renderer.PipelineLayout, error) {
	layout, _, err := d.deviceDriver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{})
	if err != nil {
		return 0, err
	}
	return d.layouts.add(layout), nil
}

func (d *Device) DestroyPipelineLayout(handle renderer.PipelineLayout) {
	if layout, ok := d.layouts.remove(handle); ok {
		d.deviceDriver.DestroyPipelineLayout(layout, nil)
	}
}

func (d *Device) CreateGraphicsPipeline(info renderer.GraphicsPipelineCreateInfo) (renderer.Pipeline, error) {
	layout, ok := d.layouts.get(info.Layout)
	if !ok {
		return 0, errors.Newf("unknown pipeline layout %d", info.Layout)
	}
	renderPass, ok := d.renderPasses.get(info.RenderPass)
	if !ok {
		return 0, errors.Newf("unknown render pass %d", info.RenderPass)
	}

	stages := make([]core1_0.PipelineShaderStageCreateInfo, 0, len(info.Stages))
	for _, stage := range info.Stages {
		module, ok := d.shaderModules.get(stage.Module)
		if !ok {
			return 0, errors.Newf("unknown shader module %d", stage.Module)
		}
		stages = append(stages, core1_0.PipelineShaderStageCreateInfo{
			Stage:  stage.Stage,
			Module: module,
			Name:   stage.Name,
		})
	}

	pipelines, _, err := d.deviceDriver.CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages:             stages,
			VertexInputState:   info.VertexInputState,
			InputAssemblyState: info.InputAssemblyState,
			ViewportState:      info.ViewportState,
			RasterizationState: info.RasterizationState,
			MultisampleState:   info.MultisampleState,
			ColorBlendState:    info.ColorBlendState,
			DynamicState:       info.DynamicState,
			Layout:             layout,
			RenderPass:         renderPass,
			Subpass:            info.Subpass,
			BasePipelineIndex:  -1,
		},
	)
	if err != nil {
		return 0, err
	}
	return d.pipelines.add(pipelines[0]), nil
}

func (d *Device) DestroyPipeline(handle renderer.Pipeline) {
	if pipeline, ok := d.pipelines.remove(handle); ok {
		d.deviceDriver.DestroyPipeline(pipeline, nil)
	}
}

func (d *Device) CreateFramebuffer(info renderer.FramebufferCreateInfo) (renderer.Framebuffer, error) {
	renderPass, ok := d.renderPasses.get(info.RenderPass)
	if !ok {
		return 0, errors.Newf("unknown render pass %d", info.RenderPass)
	}

	attachments := make([]core1_0.ImageView, 0, len(info.Attachments))
	for _, handle := range info.Attachments {
		imageView, ok := d.imageViews.get(handle)
		if !ok {
			return 0, errors.Newf("unknown image view %d", handle)
		}
		attachments = append(attachments, imageView)
	}

	framebuffer, _, err := d.deviceDriver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  renderPass,
		Layers:      info.Layers,
		Attachments: attachments,
		Width:       info.Width,
		Height:      info.Height,
	})
	if err != nil {
		return 0, err
	}
	return d.framebuffers.add(framebuffer), nil
}

func (d *Device) DestroyFramebuffer(handle renderer.Framebuffer) {
	if framebuffer, ok := d.framebuffers.remove(handle); ok {
		d.deviceDriver.DestroyFramebuffer(framebuffer, nil)
	}
}

func (d *Device) CreateCommandPool(queueFamily int) (renderer.CommandPool, error) {
	pool, _, err := d.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: queueFamily,
	})
	if err != nil {
		return 0, err
	}
	return d.commandPools.add(pool), nil
}

// DestroyCommandPool frees the pool's buffers with it
func (d *Device) DestroyCommandPool(handle renderer.CommandPool) {
	pool, ok := d.commandPools.remove(handle)
	if !ok {
		return
	}
	for _, buffer := range d.poolBuffers[handle] {
		d.commandBuffers.remove(buffer)
	}
	delete(d.poolBuffers, handle)
	d.deviceDriver.DestroyCommandPool(pool, nil)
}

func (d *Device) AllocateCommandBuffers(handle renderer.CommandPool, count int) ([]renderer.CommandBuffer, error) {
	pool, ok := d.commandPools.get(handle)
	if !ok {
		return nil, errors.Newf("unknown command pool %d", handle)
	}

	buffers, _, err := d.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, err
	}

	handles := make([]renderer.CommandBuffer, len(buffers))
	for i, buffer := range buffers {
		handles[i] = d.commandBuffers.add(buffer)
	}
	d.poolBuffers[handle] = append(d.poolBuffers[handle], handles...)
	return handles, nil
}

func (d *Device) commandBuffer(handle renderer.CommandBuffer) (core1_0.CommandBuffer, error) {
	buffer, ok := d.commandBuffers.get(handle)
	if !ok {
		return buffer, errors.Newf("unknown command buffer %d", handle)
	}
	return buffer, nil
}

func (d *Device) ResetCommandBuffer(handle renderer.CommandBuffer) error {
	buffer, err := d.commandBuffer(handle)
	if err != nil {
		return err
	}
	_, err = d.deviceDriver.ResetCommandBuffer(buffer, 0)
	return err
}

func (d *Device) BeginCommandBuffer(handle renderer.CommandBuffer) error {
	buffer, err := d.commandBuffer(handle)
	if err != nil {
		return err
	}
	_, err = d.deviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{})
	return err
}

func (d *Device) EndCommandBuffer(handle renderer.CommandBuffer) error {
	buffer, err := d.commandBuffer(handle)
	if err != nil {
		return err
	}
	_, err = d.deviceDriver.EndCommandBuffer(buffer)
	return err
}

func (d *Device) CmdBeginRenderPass(handle renderer.CommandBuffer, info renderer.RenderPassBeginInfo) error {
	buffer, err := d.commandBuffer(handle)
	if err != nil {
		return err
	}
	renderPass, ok := d.renderPasses.get(info.RenderPass)
	if !ok {
		return errors.Newf("unknown render pass %d", info.RenderPass)
	}
	framebuffer, ok := d.framebuffers.get(info.Framebuffer)
	if !ok {
		return errors.Newf("unknown framebuffer %d", info.Framebuffer)
	}

	return d.deviceDriver.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  renderPass,
			Framebuffer: framebuffer,
			RenderArea:  info.RenderArea,
			ClearValues: info.ClearValues,
		})
}

// The recording commands below have no result. Unknown handles were
// already rejected by BeginCommandBuffer.

func (d *Device) CmdBindPipeline(handle renderer.CommandBuffer, pipeline renderer.Pipeline) {
	buffer, _ := d.commandBuffers.get(handle)
	graphicsPipeline, _ := d.pipelines.get(pipeline)
	d.deviceDriver.CmdBindPipeline(buffer, core1_0.PipelineBindPointGraphics, graphicsPipeline)
}

func (d *Device) CmdSetViewport(handle renderer.CommandBuffer, viewport core1_0.Viewport) {
	buffer, _ := d.commandBuffers.get(handle)
	d.deviceDriver.CmdSetViewport(buffer, viewport)
}

func (d *Device) CmdSetScissor(handle renderer.CommandBuffer, scissor core1_0.Rect2D) {
	buffer, _ := d.commandBuffers.get(handle)
	d.deviceDriver.CmdSetScissor(buffer, scissor)
}

func (d *Device) CmdDraw(handle renderer.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance int) {
	buffer, _ := d.commandBuffers.get(handle)
	d.deviceDriver.CmdDraw(buffer, vertexCount, instanceCount, uint32(firstVertex), uint32(firstInstance))
}

func (d *Device) CmdEndRenderPass(handle renderer.CommandBuffer) {
	buffer, _ := d.commandBuffers.get(handle)
	d.deviceDriver.CmdEndRenderPass(buffer)
}

func (d *Device) CreateSemaphore() (renderer.Semaphore, error) {
	semaphore, _, err := d.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return 0, err
	}
	return d.semaphores.add(semaphore), nil
}

func (d *Device) DestroySemaphore(handle renderer.Semaphore) {
	if semaphore, ok := d.semaphores.remove(handle); ok {
		d.deviceDriver.DestroySemaphore(semaphore, nil)
	}
}

func (d *Device) CreateFence(signaled bool) (renderer.Fence, error) {
	var info core1_0.FenceCreateInfo
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}

	fence, _, err := d.deviceDriver.CreateFence(nil, info)
	if err != nil {
		return 0, err
	}
	return d.fences.add(fence), nil
}

func (d *Device) DestroyFence(handle renderer.Fence) {
	if fence, ok := d.fences.remove(handle); ok {
		d.deviceDriver.DestroyFence(fence, nil)
	}
}

func (d *Device) WaitForFence(handle renderer.Fence, wait time.Duration) error {
	fence, ok := d.fences.get(handle)
	if !ok {
		return errors.Newf("unknown fence %d", handle)
	}
	res, err := d.deviceDriver.WaitForFences(true, timeout(wait), fence)
	return check("waiting for fence", res, err)
}

func (d *Device) ResetFence(handle renderer.Fence) error {
	fence, ok := d.fences.get(handle)
	if !ok {
		return errors.Newf("unknown fence %d", handle)
	}
	_, err := d.deviceDriver.ResetFences(fence)
	return err
}

func (d *Device) AcquireNextImage(handle renderer.Swapchain, wait time.Duration, signal renderer.Semaphore) (int, bool, error) {
	swapchain, ok := d.swapchains.get(handle)
	if !ok {
		return 0, false, errors.Newf("unknown swapchain %d", handle)
	}
	semaphore, ok := d.semaphores.get(signal)
	if !ok {
		return 0, false, errors.Newf("unknown semaphore %d", signal)
	}

	imageIndex, res, err := d.swapchainExtension.AcquireNextImage(swapchain, timeout(wait), &semaphore, nil)
	if err := check("acquiring next image", res, err); err != nil {
		return 0, false, err
	}
	return imageIndex, res == khr_swapchain.VKSuboptimal, nil
}

func (d *Device) QueueSubmit(handle renderer.Queue, info renderer.SubmitInfo, fence renderer.Fence) error {
	queue, ok := d.queues.get(handle)
	if !ok {
		return errors.Newf("unknown queue %d", handle)
	}
	waitSemaphore, ok := d.semaphores.get(info.WaitSemaphore)
	if !ok {
		return errors.Newf("unknown semaphore %d", info.WaitSemaphore)
	}
	signalSemaphore, ok := d.semaphores.get(info.SignalSemaphore)
	if !ok {
		return errors.Newf("unknown semaphore %d", info.SignalSemaphore)
	}
	buffer, err := d.commandBuffer(info.CommandBuffer)
	if err != nil {
		return err
	}
	inFlight, ok := d.fences.get(fence)
	if !ok {
		return errors.Newf("unknown fence %d", fence)
	}

	_, err = d.deviceDriver.QueueSubmit(queue, &inFlight,
		core1_0.SubmitInfo{
			WaitSemaphores:   []core1_0.Semaphore{waitSemaphore},
			WaitDstStageMask: []core1_0.PipelineStageFlags{info.WaitDstStage},
			CommandBuffers:   []core1_0.CommandBuffer{buffer},
			SignalSemaphores: []core1_0.Semaphore{signalSemaphore},
		},
	)
	return err
}

func (d *Device) QueuePresent(handle renderer.Queue, info renderer.PresentInfo) (bool, error) {
	queue, ok := d.queues.get(handle)
	if !ok {
		return false, errors.Newf("unknown queue %d", handle)
	}
	waitSemaphore, ok := d.semaphores.get(info.WaitSemaphore)
	if !ok {
		return false, errors.Newf("unknown semaphore %d", info.WaitSemaphore)
	}
	swapchain, ok := d.swapchains.get(info.Swapchain)
	if !ok {
		return false, errors.Newf("unknown swapchain %d", info.Swapchain)
	}

	res, err := d.swapchainExtension.QueuePresent(queue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{waitSemaphore},
		Swapchains:     []khr_swapchain.Swapchain{swapchain},
		ImageIndices:   []int{info.ImageIndex},
	})
	if err := check("presenting", res, err); err != nil {
		return false, err
	}
	return res == khr_swapchain.VKSuboptimal, nil
}
