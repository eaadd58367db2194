package device

// A network group is one mutually-exclusive hardware configuration of the
// accelerator. The scheduler only ever talks to a group through the
// Activator capability and the static Descriptor; it never inspects
// transfer bytes or device registers.

type StreamDirection int

const (
	HostToDevice StreamDirection = iota // input stream, written by the host
	DeviceToHost                        // output stream, read by the host
)

func (d StreamDirection) String() string {
	if d == HostToDevice {
		return "input"
	}
	return "output"
}

// StreamInfo describes one directional data channel of a logical network.
type StreamInfo struct {
	Name      string
	Direction StreamDirection
}

// NetworkInfo describes one logical network hosted by a group.
type NetworkInfo struct {
	Name    string
	Streams []StreamInfo
}

// Descriptor is the static shape of a network group.
type Descriptor struct {
	Name     string
	Networks []NetworkInfo

	// MaxBatchSize caps the number of in-flight buffers per stream before a
	// mandatory check-in with the scheduler. Zero means 1.
	MaxBatchSize uint16

	// MultiContext groups require all of their networks to be activated
	// together; the scheduler validates registration covers complete sets.
	MultiContext bool
}

// InputStreams returns the names of all input streams across all networks.
func (d *Descriptor) InputStreams() []string {
	var names []string
	for _, network := range d.Networks {
		for _, stream := range network.Streams {
			if stream.Direction == HostToDevice {
				names = append(names, stream.Name)
			}
		}
	}
	return names
}

// OutputStreams returns the names of all output streams across all networks.
func (d *Descriptor) OutputStreams() []string {
	var names []string
	for _, network := range d.Networks {
		for _, stream := range network.Streams {
			if stream.Direction == DeviceToHost {
				names = append(names, stream.Name)
			}
		}
	}
	return names
}

// HasNetwork reports whether the group hosts a logical network by that name.
func (d *Descriptor) HasNetwork(name string) bool {
	for _, network := range d.Networks {
		if network.Name == name {
			return true
		}
	}
	return false
}

// ActivationToken is the opaque handle to a live, device-resident
// configuration. The scheduler owns its lifetime while the group is active
// and never looks inside it.
type ActivationToken interface{}

// Activator is the per-group activation capability the scheduler consumes.
// Activate makes the group's configuration resident on the device and
// returns a token; Deactivate tears it down. Implementations are expected
// to be called with at most one token live at a time.
type Activator interface {
	Describe() Descriptor
	Activate() (ActivationToken, error)
	Deactivate(token ActivationToken) error
}
