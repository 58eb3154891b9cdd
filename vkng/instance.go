// Package vkng drives the renderer through vkngwrapper.
package vkng

import (
	"github.com/cardinalgfx/cardinal/config"
	"github.com/cardinalgfx/cardinal/renderer"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
)

type Options struct {
	ApplicationName string
	Validation      config.Validation
	Window          *sdl.Window
	Log             log.FieldLogger
}

// Instance owns the Vulkan instance, its debug messenger and the window
// surface. It implements renderer.Instance.
type Instance struct {
	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver

	debug          *debugLogger
	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface

	physicalDevices *registry[renderer.PhysicalDevice, core1_0.PhysicalDevice]
	enumerated      []renderer.PhysicalDevice

	validation config.Validation
	log        log.FieldLogger
}

var _ renderer.Instance = (*Instance)(nil)

// NewInstance creates the instance and the surface for opts.Window. On
// error everything created so far is destroyed.
func NewInstance(opts Options) (*Instance, error) {
	i := &Instance{
		debug:           &debugLogger{log: opts.Log.WithField("source", "vulkan")},
		physicalDevices: newRegistry[renderer.PhysicalDevice, core1_0.PhysicalDevice](),
		validation:      opts.Validation,
		log:             opts.Log,
	}

	var err error
	i.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "loading vulkan")
	}

	err = i.createInstance(opts.ApplicationName, opts.Window.VulkanGetInstanceExtensions())
	if err != nil {
		i.Destroy()
		return nil, err
	}

	err = i.setupDebugMessenger()
	if err != nil {
		i.Destroy()
		return nil, err
	}

	err = i.createSurface(opts.Window)
	if err != nil {
		i.Destroy()
		return nil, err
	}

	return i, nil
}

func (i *Instance) createInstance(applicationName string, windowExtensions []string) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    applicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "Cardinal",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	available, _, err := i.globalDriver.AvailableExtensions()
	if err != nil {
		return errors.Wrap(err, "enumerating instance extensions")
	}

	extensions, portability, err := instanceExtensions(windowExtensions, available, i.validation.Enabled)
	if err != nil {
		return err
	}
	instanceOptions.EnabledExtensionNames = extensions
	if portability {
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}
	for _, extension := range extensions {
		i.log.Debugf("enabling instance extension %s", extension)
	}

	if i.validation.Enabled {
		layers, _, err := i.globalDriver.AvailableLayers()
		if err != nil {
			return errors.Wrap(err, "enumerating instance layers")
		}

		if missing := missingNames(i.validation.Layers, layers); len(missing) > 0 {
			return errors.Newf("validation layers requested, but not available: %v", missing)
		}
		instanceOptions.EnabledLayerNames = i.validation.Layers

		// Covers messages from instance creation and destruction
		instanceOptions.Next = i.debug.createInfo()
	}

	i.instanceDriver, _, err = i.globalDriver.CreateInstance(nil, instanceOptions)
	if err != nil {
		return errors.Wrap(err, "creating instance")
	}

	return nil
}

func (i *Instance) setupDebugMessenger() error {
	if !i.validation.Enabled {
		return nil
	}

	var err error
	i.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(i.instanceDriver)
	i.debugMessenger, _, err = i.debugDriver.CreateDebugUtilsMessenger(nil, i.debug.createInfo())
	if err != nil {
		return errors.Wrap(err, "setting up debug messenger")
	}

	return nil
}

func (i *Instance) createSurface(window *sdl.Window) error {
	i.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(i.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(i.instanceDriver.Instance(), i.surfaceExtension, window)
	if err != nil {
		return errors.Wrap(err, "creating window surface")
	}

	i.surface = surface
	return nil
}

// instanceExtensions lists the extensions to enable. portability is set
// when the portability enumeration extension is among them.
func instanceExtensions[V any](windowExtensions []string, available map[string]V, validation bool) (extensions []string, portability bool, err error) {
	if missing := missingNames(windowExtensions, available); len(missing) > 0 {
		return nil, false, errors.Newf("window requires unavailable instance extensions %v", missing)
	}
	extensions = append(extensions, windowExtensions...)

	if validation {
		extensions = append(extensions, ext_debug_utils.ExtensionName)
	}

	if _, portability = available[khr_portability_enumeration.ExtensionName]; portability {
		extensions = append(extensions, khr_portability_enumeration.ExtensionName)
	}

	return extensions, portability, nil
}

// missingNames returns the requested names absent from available
func missingNames[V any](requested []string, available map[string]V) []string {
	var missing []string
	for _, name := range requested {
		if _, ok := available[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func (i *Instance) physicalDevice(handle renderer.PhysicalDevice) (core1_0.PhysicalDevice, error) {
	device, ok := i.physicalDevices.get(handle)
	if !ok {
		return device, errors.Newf("unknown physical device %d", handle)
	}
	return device, nil
}

// EnumeratePhysicalDevices enumerates once; later calls return the same
// handles.
func (i *Instance) EnumeratePhysicalDevices() ([]renderer.PhysicalDevice, error) {
	if i.enumerated != nil {
		return i.enumerated, nil
	}

	physicalDevices, _, err := i.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return nil, err
	}

	i.enumerated = make([]renderer.PhysicalDevice, 0, len(physicalDevices))
	for _, device := range physicalDevices {
		i.enumerated = append(i.enumerated, i.physicalDevices.add(device))
	}
	return i.enumerated, nil
}

func (i *Instance) DeviceName(handle renderer.PhysicalDevice) (string, error) {
	device, err := i.physicalDevice(handle)
	if err != nil {
		return "", err
	}

	properties, err := i.instanceDriver.GetPhysicalDeviceProperties(device)
	if err != nil {
		return "", err
	}
	return properties.DeviceName, nil
}

func (i *Instance) QueueFamilies(handle renderer.PhysicalDevice) ([]renderer.QueueFamily, error) {
	device, err := i.physicalDevice(handle)
	if err != nil {
		return nil, err
	}

	queueFamilies := i.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)
	families := make([]renderer.QueueFamily, len(queueFamilies))
	for queueFamilyIdx, queueFamily := range queueFamilies {
		families[queueFamilyIdx].Graphics = (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0

		supported, _, err := i.surfaceExtension.GetPhysicalDeviceSurfaceSupport(i.surface, device, queueFamilyIdx)
		if err != nil {
			return nil, errors.Wrapf(err, "querying present support of queue family %d", queueFamilyIdx)
		}
		families[queueFamilyIdx].Present = supported
	}

	return families, nil
}

func (i *Instance) DeviceExtensions(handle renderer.PhysicalDevice) (map[string]struct{}, error) {
	device, err := i.physicalDevice(handle)
	if err != nil {
		return nil, err
	}

	properties, _, err := i.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return nil, err
	}

	extensions := make(map[string]struct{}, len(properties))
	for name := range properties {
		extensions[name] = struct{}{}
	}
	return extensions, nil
}

func (i *Instance) SurfaceCapabilities(handle renderer.PhysicalDevice) (*khr_surface.SurfaceCapabilities, error) {
	device, err := i.physicalDevice(handle)
	if err != nil {
		return nil, err
	}
	capabilities, _, err := i.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(i.surface, device)
	return capabilities, err
}

func (i *Instance) SurfaceFormats(handle renderer.PhysicalDevice) ([]khr_surface.SurfaceFormat, error) {
	device, err := i.physicalDevice(handle)
	if err != nil {
		return nil, err
	}
	formats, _, err := i.surfaceExtension.GetPhysicalDeviceSurfaceFormats(i.surface, device)
	return formats, err
}

func (i *Instance) SurfacePresentModes(handle renderer.PhysicalDevice) ([]khr_surface.PresentMode, error) {
	device, err := i.physicalDevice(handle)
	if err != nil {
		return nil, err
	}
	presentModes, _, err := i.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(i.surface, device)
	return presentModes, err
}

func (i *Instance) CreateDevice(handle renderer.PhysicalDevice, info renderer.DeviceCreateInfo) (renderer.Device, error) {
	physicalDevice, err := i.physicalDevice(handle)
	if err != nil {
		return nil, err
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	for _, queueFamily := range info.QueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{info.QueuePriority},
		})
	}

	deviceDriver, _, err := i.instanceDriver.CreateDevice(physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueFamilyOptions,
		EnabledExtensionNames: info.Extensions,
		EnabledLayerNames:     info.Layers,
	})
	if err != nil {
		return nil, err
	}

	return newDevice(deviceDriver, i.surface), nil
}

// Destroy releases the debug messenger, the surface and the instance. The
// device must be destroyed first.
func (i *Instance) Destroy() {
	if i.instanceDriver == nil {
		return
	}

	if i.debugMessenger.Initialized() {
		i.debugDriver.DestroyDebugUtilsMessenger(i.debugMessenger, nil)
	}

	if i.surface.Initialized() {
		i.surfaceExtension.DestroySurface(i.surface, nil)
	}

	i.instanceDriver.DestroyInstance(nil)
	i.instanceDriver = nil
}
