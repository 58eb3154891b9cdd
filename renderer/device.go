package renderer

import "github.com/cockroachdb/errors"

// CreateLogicalDevice opens one queue on each distinct family of the
// candidate's queue family indices
func CreateLogicalDevice(instance Instance, candidate Candidate, layers []string) (Device, error) {
	if !candidate.Indices.IsComplete() {
		return nil, errors.New("queue family indices are incomplete")
	}

	device, err := instance.CreateDevice(candidate.Device, DeviceCreateInfo{
		QueueFamilies: candidate.Indices.Unique(),
		QueuePriority: 1.0,
		Extensions:    candidate.Extensions,
		Layers:        layers,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating logical device on %s", candidate.Name)
	}

	return device, nil
}
