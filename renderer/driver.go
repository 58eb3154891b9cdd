package renderer

import (
	"time"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// Handle identifies an object created through an Instance or a Device.
// The zero Handle is the null handle.
type Handle uint64

// Handles of the objects the renderer creates. Each is only meaningful to
// the Instance or Device that returned it.
type (
	PhysicalDevice Handle
	Queue          Handle
	Swapchain      Handle
	Image          Handle
	ImageView      Handle
	RenderPass     Handle
	ShaderModule   Handle
	PipelineLayout Handle
	Pipeline       Handle
	Framebuffer    Handle
	CommandPool    Handle
	CommandBuffer  Handle
	Semaphore      Handle
	Fence          Handle
)

// QueueFamily describes what one queue family of a physical device can do
// for the instance's surface
type QueueFamily struct {
	Graphics bool
	Present  bool
}

// Instance is the process-wide graphics API context bound to one
// presentation surface
type Instance interface {
	EnumeratePhysicalDevices() ([]PhysicalDevice, error)
	DeviceName(device PhysicalDevice) (string, error)
	QueueFamilies(device PhysicalDevice) ([]QueueFamily, error)
	DeviceExtensions(device PhysicalDevice) (map[string]struct{}, error)

	SurfaceCapabilities(device PhysicalDevice) (*khr_surface.SurfaceCapabilities, error)
	SurfaceFormats(device PhysicalDevice) ([]khr_surface.SurfaceFormat, error)
	SurfacePresentModes(device PhysicalDevice) ([]khr_surface.PresentMode, error)

	CreateDevice(device PhysicalDevice, info DeviceCreateInfo) (Device, error)
}

// DeviceCreateInfo describes a logical device: one queue per family
type DeviceCreateInfo struct {
	QueueFamilies []int
	QueuePriority float32
	Extensions    []string
	Layers        []string
}

// Device is a logical device. It is the allocation root of every object
// below.
type Device interface {
	SwapchainDevice
	PipelineDevice
	CommandDevice
	SyncDevice

	GetQueue(family int) Queue
	WaitIdle() error
	Destroy()
}

// SwapchainCreateInfo describes a swapchain for the instance's surface
type SwapchainCreateInfo struct {
	MinImageCount      int
	Format             khr_surface.SurfaceFormat
	Extent             core1_0.Extent2D
	SharingMode        core1_0.SharingMode
	QueueFamilyIndices []int
	PresentMode        khr_surface.PresentMode

	// Capabilities supplies the pre-transform
	Capabilities *khr_surface.SurfaceCapabilities
}

// ImageViewCreateInfo describes a view of a swapchain image
type ImageViewCreateInfo struct {
	Image            Image
	ViewType         core1_0.ImageViewType
	Format           core1_0.Format
	SubresourceRange core1_0.ImageSubresourceRange
}

// SwapchainDevice creates presentable images
type SwapchainDevice interface {
	CreateSwapchain(info SwapchainCreateInfo) (Swapchain, error)
	GetSwapchainImages(swapchain Swapchain) ([]Image, error)
	DestroySwapchain(swapchain Swapchain)

	CreateImageView(info ImageViewCreateInfo) (ImageView, error)
	DestroyImageView(view ImageView)
}

// ShaderStage is one programmable stage of a pipeline
type ShaderStage struct {
	Stage  core1_0.ShaderStageFlags
	Module ShaderModule
	Name   string
}

// GraphicsPipelineCreateInfo carries the fixed-function state of a
// graphics pipeline
type GraphicsPipelineCreateInfo struct {
	Stages []ShaderStage

	VertexInputState   *core1_0.PipelineVertexInputStateCreateInfo
	InputAssemblyState *core1_0.PipelineInputAssemblyStateCreateInfo
	ViewportState      *core1_0.PipelineViewportStateCreateInfo
	RasterizationState *core1_0.PipelineRasterizationStateCreateInfo
	MultisampleState   *core1_0.PipelineMultisampleStateCreateInfo
	ColorBlendState    *core1_0.PipelineColorBlendStateCreateInfo
	DynamicState       *core1_0.PipelineDynamicStateCreateInfo

	Layout     PipelineLayout
	RenderPass RenderPass
	Subpass    int
}

// FramebufferCreateInfo binds image views to a render pass
type FramebufferCreateInfo struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       int
	Height      int
	Layers      int
}

// PipelineDevice creates render passes, pipelines and framebuffers
type PipelineDevice interface {
	CreateRenderPass(info core1_0.RenderPassCreateInfo) (RenderPass, error)
	DestroyRenderPass(renderPass RenderPass)

	CreateShaderModule(code []uint32) (ShaderModule, error)
	DestroyShaderModule(module ShaderModule)

	CreatePipelineLayout() (PipelineLayout, error)
	DestroyPipelineLayout(layout PipelineLayout)

	CreateGraphicsPipeline(info GraphicsPipelineCreateInfo) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)

	CreateFramebuffer(info FramebufferCreateInfo) (Framebuffer, error)
	DestroyFramebuffer(framebuffer Framebuffer)
}

// RenderPassBeginInfo starts a render pass instance
type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	RenderArea  core1_0.Rect2D
	ClearValues []core1_0.ClearValue
}

// CommandDevice allocates and records command buffers
type CommandDevice interface {
	// CreateCommandPool creates a pool whose buffers can be reset
	// individually
	CreateCommandPool(queueFamily int) (CommandPool, error)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, error)

	ResetCommandBuffer(buffer CommandBuffer) error
	BeginCommandBuffer(buffer CommandBuffer) error
	EndCommandBuffer(buffer CommandBuffer) error

	CmdBeginRenderPass(buffer CommandBuffer, info RenderPassBeginInfo) error
	CmdBindPipeline(buffer CommandBuffer, pipeline Pipeline)
	CmdSetViewport(buffer CommandBuffer, viewport core1_0.Viewport)
	CmdSetScissor(buffer CommandBuffer, scissor core1_0.Rect2D)
	CmdDraw(buffer CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance int)
	CmdEndRenderPass(buffer CommandBuffer)
}

// SubmitInfo is a single-buffer graphics submission
type SubmitInfo struct {
	WaitSemaphore   Semaphore
	WaitDstStage    core1_0.PipelineStageFlags
	CommandBuffer   CommandBuffer
	SignalSemaphore Semaphore
}

// PresentInfo presents one swapchain image
type PresentInfo struct {
	WaitSemaphore Semaphore
	Swapchain     Swapchain
	ImageIndex    int
}

// SyncDevice owns synchronization primitives and queue operations.
//
// A timeout of zero or less waits without limit. Waits that run out of
// time return an error marked with ErrTimeout. Acquire and present errors
// caused by a surface that no longer matches the swapchain are marked with
// ErrOutOfDate.
type SyncDevice interface {
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	WaitForFence(fence Fence, timeout time.Duration) error
	ResetFence(fence Fence) error

	AcquireNextImage(swapchain Swapchain, timeout time.Duration, signal Semaphore) (index int, suboptimal bool, err error)
	QueueSubmit(queue Queue, info SubmitInfo, fence Fence) error
	QueuePresent(queue Queue, info PresentInfo) (suboptimal bool, err error)
}
