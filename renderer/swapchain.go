package renderer

import (
	"math"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// SwapchainState tracks whether the swapchain still matches its surface
type SwapchainState int

const (
	SwapchainReady SwapchainState = iota
	SwapchainStale
	SwapchainRebuilding
)

func (s SwapchainState) String() string {
	switch s {
	case SwapchainReady:
		return "ready"
	case SwapchainStale:
		return "stale"
	case SwapchainRebuilding:
		return "rebuilding"
	}
	return "unknown"
}

// isUndefinedExtent reports whether a surface leaves the extent to the
// swapchain. The bindings surface UINT32_MAX either sign-extended or not.
func isUndefinedExtent(width int) bool {
	return width == -1 || int64(width) == math.MaxUint32
}

func ChooseSwapSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	if len(availableFormats) == 0 {
		return khr_surface.SurfaceFormat{}
	}
	return availableFormats[0]
}

func ChooseSwapPresentMode(availablePresentModes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range availablePresentModes {
		if presentMode == khr_surface.PresentModeMailbox {
			return presentMode
		}
	}

	return khr_surface.PresentModeFIFO
}

// ChooseSwapExtent uses the surface's current extent, or the window's
// drawable size clamped to the surface limits when the surface leaves it
// undefined
func ChooseSwapExtent(capabilities *khr_surface.SurfaceCapabilities, width, height int) core1_0.Extent2D {
	if !isUndefinedExtent(capabilities.CurrentExtent.Width) {
		return capabilities.CurrentExtent
	}

	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}

// ChooseImageCount asks for one image more than the minimum so acquire
// rarely waits on the driver. A MaxImageCount of 0 means no maximum.
func ChooseImageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}

// swapchainCreateInfo resolves every swapchain parameter from the surface
// support details
func swapchainCreateInfo(support SwapchainSupportDetails, indices QueueFamilyIndices, width, height int) SwapchainCreateInfo {
	info := SwapchainCreateInfo{
		MinImageCount: ChooseImageCount(support.Capabilities),
		Format:        ChooseSwapSurfaceFormat(support.Formats),
		Extent:        ChooseSwapExtent(support.Capabilities, width, height),
		SharingMode:   core1_0.SharingModeExclusive,
		PresentMode:   ChooseSwapPresentMode(support.PresentModes),
		Capabilities:  support.Capabilities,
	}

	if *indices.GraphicsFamily != *indices.PresentFamily {
		info.SharingMode = core1_0.SharingModeConcurrent
		info.QueueFamilyIndices = []int{*indices.GraphicsFamily, *indices.PresentFamily}
	}

	return info
}

// imageViewCreateInfo describes a single-level 2D color view
func imageViewCreateInfo(image Image, format core1_0.Format) ImageViewCreateInfo {
	return ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
}
