package renderer

import "github.com/cockroachdb/errors"

// Error classes. Errors returned by the renderer are marked with one or
// more of these; test for them with errors.Is.
var (
	// ErrFatal marks failures while building GPU objects. The renderer
	// can't be used after Init or Rebuild returns one.
	ErrFatal = errors.New("fatal renderer error")

	// ErrFrameAborted marks a DrawFrame call that gave up before its image
	// was presented. The next call starts a new frame.
	ErrFrameAborted = errors.New("frame aborted")

	// ErrSwapchainStale marks a frame that could not run because the
	// swapchain no longer matches the surface. Call Rebuild.
	ErrSwapchainStale = errors.New("swapchain is stale")

	// ErrOutOfDate is the mark a Device puts on acquire and present errors
	// caused by a surface change.
	ErrOutOfDate = errors.New("surface out of date")

	// ErrTimeout is the mark a Device puts on waits that ran out of time.
	ErrTimeout = errors.New("timed out")

	ErrNoDevices        = errors.New("failed to find any GPUs with Vulkan support")
	ErrNoSuitableDevice = errors.New("failed to find a suitable GPU")
	ErrNotInitialized   = errors.New("renderer is not initialized")
)

func fatal(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrFatal)
}

func abortFrame(err error, op string) error {
	err = errors.Mark(errors.Wrap(err, op), ErrFrameAborted)
	if errors.Is(err, ErrOutOfDate) {
		err = errors.Mark(err, ErrSwapchainStale)
	}
	return err
}
