package renderer

import (
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// DeviceExtensions are the device extensions every candidate must support
var DeviceExtensions = []string{khr_swapchain.ExtensionName}

type QueueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

// Unique returns the distinct family indices, graphics first. The indices
// must be complete.
func (i QueueFamilyIndices) Unique() []int {
	families := []int{*i.GraphicsFamily}
	if *i.PresentFamily != *i.GraphicsFamily {
		families = append(families, *i.PresentFamily)
	}
	return families
}

type SwapchainSupportDetails struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

// Adequate reports whether a swapchain can be built at all
func (d SwapchainSupportDetails) Adequate() bool {
	return len(d.Formats) > 0 && len(d.PresentModes) > 0
}

// Candidate is the physical device chosen by the Selector
type Candidate struct {
	Device  PhysicalDevice
	Name    string
	Indices QueueFamilyIndices

	// Extensions are the device extensions to enable: the required ones
	// plus the portability subset when the device has it.
	Extensions []string
}

// Selector picks the first physical device that can render to the
// instance's surface
type Selector struct {
	Instance   Instance
	Extensions []string
	Log        log.FieldLogger
}

func (s *Selector) requiredExtensions() []string {
	if s.Extensions == nil {
		return DeviceExtensions
	}
	return s.Extensions
}

func (s *Selector) PickPhysicalDevice() (Candidate, error) {
	devices, err := s.Instance.EnumeratePhysicalDevices()
	if err != nil {
		return Candidate{}, errors.Mark(errors.Wrap(err, "enumerating physical devices"), ErrNoDevices)
	}
	if len(devices) == 0 {
		return Candidate{}, ErrNoDevices
	}

	for _, device := range devices {
		if !s.IsDeviceSuitable(device) {
			continue
		}

		indices, err := s.FindQueueFamilies(device)
		if err != nil {
			return Candidate{}, err
		}

		name, err := s.Instance.DeviceName(device)
		if err != nil {
			return Candidate{}, errors.Wrap(err, "reading device properties")
		}

		extensions, err := s.enabledExtensions(device)
		if err != nil {
			return Candidate{}, err
		}

		s.Log.WithField("device", name).Info("found a suitable GPU")
		return Candidate{
			Device:     device,
			Name:       name,
			Indices:    indices,
			Extensions: extensions,
		}, nil
	}

	return Candidate{}, ErrNoSuitableDevice
}

func (s *Selector) IsDeviceSuitable(device PhysicalDevice) bool {
	indices, err := s.FindQueueFamilies(device)
	if err != nil {
		s.Log.WithError(err).Warn("querying queue families")
		return false
	}

	extensionsSupported := s.CheckDeviceExtensionSupport(device)

	var swapchainAdequate bool
	if extensionsSupported {
		support, err := s.QuerySwapchainSupport(device)
		if err != nil {
			s.Log.WithError(err).Warn("querying swapchain support")
			return false
		}
		swapchainAdequate = support.Adequate()
	}

	return indices.IsComplete() && extensionsSupported && swapchainAdequate
}

func (s *Selector) CheckDeviceExtensionSupport(device PhysicalDevice) bool {
	extensions, err := s.Instance.DeviceExtensions(device)
	if err != nil {
		s.Log.WithError(err).Warn("enumerating device extensions")
		return false
	}

	for _, extension := range s.requiredExtensions() {
		if _, ok := extensions[extension]; !ok {
			return false
		}
		s.Log.Debugf("%s supported", extension)
	}

	return true
}

func (s *Selector) FindQueueFamilies(device PhysicalDevice) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{}
	families, err := s.Instance.QueueFamilies(device)
	if err != nil {
		return indices, err
	}

	for familyIdx, family := range families {
		if family.Graphics {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = familyIdx
		}

		if family.Present {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = familyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func (s *Selector) QuerySwapchainSupport(device PhysicalDevice) (SwapchainSupportDetails, error) {
	return querySwapchainSupport(s.Instance, device)
}

func querySwapchainSupport(instance Instance, device PhysicalDevice) (SwapchainSupportDetails, error) {
	var details SwapchainSupportDetails
	var err error

	details.Capabilities, err = instance.SurfaceCapabilities(device)
	if err != nil {
		return details, errors.Wrap(err, "surface capabilities")
	}

	details.Formats, err = instance.SurfaceFormats(device)
	if err != nil {
		return details, errors.Wrap(err, "surface formats")
	}

	details.PresentModes, err = instance.SurfacePresentModes(device)
	return details, errors.Wrap(err, "surface present modes")
}

func (s *Selector) enabledExtensions(device PhysicalDevice) ([]string, error) {
	extensionNames := append([]string(nil), s.requiredExtensions()...)

	// Makes the renderer compatible with vulkan portability, necessary on mac
	available, err := s.Instance.DeviceExtensions(device)
	if err != nil {
		return nil, errors.Wrap(err, "enumerating device extensions")
	}
	if _, supported := available[khr_portability_subset.ExtensionName]; supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	return extensionNames, nil
}
