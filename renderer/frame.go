package renderer

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	log "github.com/sirupsen/logrus"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// FrameState is the step a frame has reached in DrawFrame
type FrameState int

const (
	FrameIdle FrameState = iota
	FrameAcquiring
	FrameRecording
	FrameSubmitted
	FramePresenting
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FrameAcquiring:
		return "acquiring"
	case FrameRecording:
		return "recording"
	case FrameSubmitted:
		return "submitted"
	case FramePresenting:
		return "presenting"
	}
	return "unknown"
}

// Stats counts frames since the executor was created
type Stats struct {
	Presented uint64
	Aborted   uint64
	LastFrame time.Duration
}

// Target is everything a frame draws into. It changes on every rebuild.
type Target struct {
	Swapchain    Swapchain
	RenderPass   RenderPass
	Pipeline     Pipeline
	Framebuffers []Framebuffer
	Extent       core1_0.Extent2D
}

type frameSlot struct {
	commandBuffer  CommandBuffer
	imageAvailable Semaphore
	inFlight       Fence

	// fenceReset is set when the fence was reset and nothing was submitted
	// to signal it again. Waiting on it would never return.
	fenceReset bool
}

// FrameExecutor records and submits frames, keeping at most one frame per
// slot in flight
type FrameExecutor struct {
	device        Device
	graphicsQueue Queue
	presentQueue  Queue
	log           log.FieldLogger

	clearColor     mgl32.Vec4
	fenceTimeout   time.Duration
	acquireTimeout time.Duration

	commandPool CommandPool
	slots       []frameSlot
	current     int

	// imageOwners holds the slot that last submitted work for each
	// swapchain image, or -1
	imageOwners []int

	// renderFinished is signaled by the submission for an image and waited
	// on by its present. The in flight fence does not cover the present, so
	// a semaphore is only free again once its image was acquired again.
	renderFinished []Semaphore

	state FrameState
	stats Stats
}

// FrameConfig sizes and tunes a FrameExecutor
type FrameConfig struct {
	FramesInFlight int
	ClearColor     mgl32.Vec4
	FenceTimeout   time.Duration
	AcquireTimeout time.Duration
}

// NewFrameExecutor creates the command pool, one command buffer per frame
// in flight and the synchronization objects. Everything it creates is
// registered on stack.
func NewFrameExecutor(device Device, indices QueueFamilyIndices, cfg FrameConfig, stack *teardown, logger log.FieldLogger) (*FrameExecutor, error) {
	if cfg.FramesInFlight < 1 {
		return nil, errors.Newf("frames in flight %d must be positive", cfg.FramesInFlight)
	}

	f := &FrameExecutor{
		device:         device,
		graphicsQueue:  device.GetQueue(*indices.GraphicsFamily),
		presentQueue:   device.GetQueue(*indices.PresentFamily),
		log:            logger,
		clearColor:     cfg.ClearColor,
		fenceTimeout:   cfg.FenceTimeout,
		acquireTimeout: cfg.AcquireTimeout,
		slots:          make([]frameSlot, cfg.FramesInFlight),
	}

	if err := f.createCommandPool(*indices.GraphicsFamily, stack); err != nil {
		return nil, err
	}
	if err := f.createCommandBuffers(); err != nil {
		return nil, err
	}
	if err := f.createSyncObjects(stack); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *FrameExecutor) createCommandPool(family int, stack *teardown) error {
	pool, err := f.device.CreateCommandPool(family)
	if err != nil {
		return errors.Wrap(err, "creating command pool")
	}
	f.commandPool = pool
	stack.push(func() { f.device.DestroyCommandPool(pool) })
	return nil
}

// Buffers are freed with their pool
func (f *FrameExecutor) createCommandBuffers() error {
	buffers, err := f.device.AllocateCommandBuffers(f.commandPool, len(f.slots))
	if err != nil {
		return errors.Wrap(err, "allocating command buffers")
	}
	if len(buffers) != len(f.slots) {
		return errors.Newf("allocated %d command buffers, wanted %d", len(buffers), len(f.slots))
	}

	for i := range f.slots {
		f.slots[i].commandBuffer = buffers[i]
	}
	return nil
}

func (f *FrameExecutor) createSyncObjects(stack *teardown) error {
	for i := range f.slots {
		slot := &f.slots[i]

		var err error
		slot.imageAvailable, err = f.device.CreateSemaphore()
		if err != nil {
			return errors.Wrap(err, "creating image available semaphore")
		}
		stack.push(func() { f.device.DestroySemaphore(slot.imageAvailable) })

		slot.inFlight, err = f.device.CreateFence(true)
		if err != nil {
			return errors.Wrap(err, "creating in flight fence")
		}
		stack.push(func() { f.device.DestroyFence(slot.inFlight) })
	}

	return nil
}

// Retarget forgets image ownership after the swapchain was rebuilt and
// creates one render finished semaphore per image, registered on stack.
// All work must be finished.
func (f *FrameExecutor) Retarget(imageCount int, stack *teardown) error {
	f.imageOwners = make([]int, imageCount)
	for i := range f.imageOwners {
		f.imageOwners[i] = -1
	}

	f.renderFinished = make([]Semaphore, 0, imageCount)
	for i := 0; i < imageCount; i++ {
		semaphore, err := f.device.CreateSemaphore()
		if err != nil {
			return errors.Wrap(err, "creating render finished semaphore")
		}
		stack.push(func() { f.device.DestroySemaphore(semaphore) })
		f.renderFinished = append(f.renderFinished, semaphore)
	}
	return nil
}

func (f *FrameExecutor) State() FrameState {
	return f.state
}

func (f *FrameExecutor) Stats() Stats {
	return f.stats
}

// DrawFrame renders and presents one frame into target. suboptimal is set
// when the frame was presented but the swapchain no longer matches the
// surface exactly.
func (f *FrameExecutor) DrawFrame(target *Target) (suboptimal bool, err error) {
	start := hrtime.Now()
	defer func() {
		f.state = FrameIdle
		f.stats.LastFrame = hrtime.Since(start)
		if err != nil {
			f.stats.Aborted++
		}
	}()

	slot := &f.slots[f.current]
	f.state = FrameAcquiring

	if !slot.fenceReset {
		if err := f.device.WaitForFence(slot.inFlight, f.fenceTimeout); err != nil {
			return false, abortFrame(err, "waiting for in flight fence")
		}
	}

	if err := f.device.ResetFence(slot.inFlight); err != nil {
		return false, abortFrame(err, "resetting in flight fence")
	}
	slot.fenceReset = true

	if err := f.device.ResetCommandBuffer(slot.commandBuffer); err != nil {
		return false, abortFrame(err, "resetting command buffer")
	}

	imageIndex, acquireSuboptimal, err := f.device.AcquireNextImage(target.Swapchain, f.acquireTimeout, slot.imageAvailable)
	if err != nil {
		return false, abortFrame(err, "acquiring swapchain image")
	}
	if imageIndex < 0 || imageIndex >= len(target.Framebuffers) || imageIndex >= len(f.renderFinished) {
		return false, f.abandonAcquired(slot, errors.Newf("acquired image %d out of range", imageIndex), "acquiring swapchain image")
	}

	if owner := f.imageOwners[imageIndex]; owner >= 0 && owner != f.current && !f.slots[owner].fenceReset {
		if err := f.device.WaitForFence(f.slots[owner].inFlight, f.fenceTimeout); err != nil {
			return false, f.abandonAcquired(slot, err, "waiting for image owner")
		}
	}

	f.state = FrameRecording
	if err := f.RecordCommandBuffer(slot.commandBuffer, target, imageIndex); err != nil {
		return false, f.abandonAcquired(slot, err, "recording command buffer")
	}

	err = f.device.QueueSubmit(f.graphicsQueue, SubmitInfo{
		WaitSemaphore:   slot.imageAvailable,
		WaitDstStage:    core1_0.PipelineStageColorAttachmentOutput,
		CommandBuffer:   slot.commandBuffer,
		SignalSemaphore: f.renderFinished[imageIndex],
	}, slot.inFlight)
	if err != nil {
		return false, f.abandonAcquired(slot, err, "submitting draw command buffer")
	}
	slot.fenceReset = false
	f.imageOwners[imageIndex] = f.current
	f.state = FrameSubmitted

	// The submission is queued whatever present does, so the slot moves on
	f.current = (f.current + 1) % len(f.slots)

	f.state = FramePresenting
	presentSuboptimal, err := f.device.QueuePresent(f.presentQueue, PresentInfo{
		WaitSemaphore: f.renderFinished[imageIndex],
		Swapchain:     target.Swapchain,
		ImageIndex:    imageIndex,
	})
	if err != nil {
		// Whether present still waits on renderFinished is unknown, so the
		// semaphores are replaced by a rebuild before the image is used again
		return false, errors.Mark(abortFrame(err, "presenting swapchain image"), ErrSwapchainStale)
	}

	f.stats.Presented++
	f.log.WithField("image", imageIndex).Trace("drawing frame")
	return acquireSuboptimal || presentSuboptimal, nil
}

// abandonAcquired gives up on a frame whose image was acquired but never
// submitted. The image available semaphore has a signal nothing will wait
// on, so it is replaced. The image stays acquired until the swapchain is
// rebuilt.
func (f *FrameExecutor) abandonAcquired(slot *frameSlot, cause error, op string) error {
	err := errors.Mark(abortFrame(cause, op), ErrSwapchainStale)

	if waitErr := f.device.WaitIdle(); waitErr != nil {
		return errors.CombineErrors(err, errors.Wrap(waitErr, "waiting for device idle"))
	}

	semaphore, createErr := f.device.CreateSemaphore()
	if createErr != nil {
		return errors.CombineErrors(err, errors.Wrap(createErr, "replacing image available semaphore"))
	}
	f.device.DestroySemaphore(slot.imageAvailable)
	slot.imageAvailable = semaphore

	return err
}

// RecordCommandBuffer records the triangle draw into buffer for the
// framebuffer of the given swapchain image
func (f *FrameExecutor) RecordCommandBuffer(buffer CommandBuffer, target *Target, imageIndex int) error {
	if err := f.device.BeginCommandBuffer(buffer); err != nil {
		return errors.Wrap(err, "beginning command buffer")
	}

	err := f.device.CmdBeginRenderPass(buffer, RenderPassBeginInfo{
		RenderPass:  target.RenderPass,
		Framebuffer: target.Framebuffers[imageIndex],
		RenderArea:  fullScissor(target.Extent),
		ClearValues: []core1_0.ClearValue{
			core1_0.ClearValueFloat{f.clearColor.X(), f.clearColor.Y(), f.clearColor.Z(), f.clearColor.W()},
		},
	})
	if err != nil {
		return errors.Wrap(err, "beginning render pass")
	}

	f.device.CmdBindPipeline(buffer, target.Pipeline)
	f.device.CmdSetViewport(buffer, fullViewport(target.Extent))
	f.device.CmdSetScissor(buffer, fullScissor(target.Extent))
	f.device.CmdDraw(buffer, 3, 1, 0, 0)
	f.device.CmdEndRenderPass(buffer)

	if err := f.device.EndCommandBuffer(buffer); err != nil {
		return errors.Wrap(err, "ending command buffer")
	}
	return nil
}
