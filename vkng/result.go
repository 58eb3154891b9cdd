package vkng

import (
	"time"

	"github.com/cardinalgfx/cardinal/renderer"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// check turns a driver result into an error carrying the renderer's marks.
// Timeouts are success codes for the driver, so they become errors here.
func check(op string, res common.VkResult, err error) error {
	var mark error
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		mark = renderer.ErrOutOfDate
	case core1_0.VKTimeout, core1_0.VKNotReady:
		mark = renderer.ErrTimeout
	}

	if err == nil && mark == nil {
		return nil
	}
	if err == nil {
		err = errors.Newf("%s", res)
	}

	err = errors.Wrap(err, op)
	if mark != nil {
		err = errors.Mark(err, mark)
	}
	return err
}

// timeout maps the renderer's "zero or less waits forever" to the driver's
func timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return common.NoTimeout
	}
	return d
}
