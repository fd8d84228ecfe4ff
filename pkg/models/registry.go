package models

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nzoschke/vak/pkg/check"
	"github.com/nzoschke/vak/pkg/labels"
)

// Device names.
const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// Definition describes a model family member: its defaults and how to build
// its network.
type Definition struct {
	Name      string
	Defaults  Config
	Devices   []string
	Trainable bool
	// NewNetwork builds the network for inputs with bins frequency bins.
	NewNetwork func(cfg Config, bins, classes int, device string) (Network, error)
}

// SupportsDevice reports whether the definition can run on device.
func (d Definition) SupportsDevice(device string) bool {
	for _, dev := range d.Devices {
		if dev == device {
			return true
		}
	}
	return false
}

// UnknownModelError is returned for names that were never registered.
type UnknownModelError struct {
	Name  string
	Known []string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q, registered models: %v", e.Name, e.Known)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Definition{}
)

// Register adds a definition. Registering a name twice is an error.
func Register(d Definition) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if d.Name == "" || d.NewNetwork == nil {
		return fmt.Errorf("model definition needs a name and a network constructor")
	}
	if _, ok := registry[d.Name]; ok {
		return fmt.Errorf("model %q already registered", d.Name)
	}
	registry[d.Name] = d
	return nil
}

// Get returns the definition registered under name.
func Get(name string) (Definition, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, ok := registry[name]
	if !ok {
		return Definition{}, &UnknownModelError{Name: name, Known: namesLocked()}
	}
	return d, nil
}

// Names returns registered model names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CheckDevice returns a ValueError unless the named model can run on device.
func CheckDevice(name, device string) error {
	d, err := Get(name)
	if err != nil {
		return err
	}
	if !d.SupportsDevice(device) {
		return check.Valuef("device", "model %s does not support device %q, supported: %v", name, device, d.Devices)
	}
	return nil
}

// New builds a model. cfg is merged over the definition's defaults.
func New(name string, cfg Config, lm labels.Map, bins int, device string) (*WindowedFrameClassificationModel, error) {
	d, err := Get(name)
	if err != nil {
		return nil, err
	}
	if device == "" {
		device = DeviceCPU
	}
	if !d.SupportsDevice(device) {
		return nil, check.Valuef("device", "model %s does not support device %q, supported: %v", name, device, d.Devices)
	}
	if err := lm.Validate(); err != nil {
		return nil, err
	}

	cfg = d.Defaults.Merge(cfg)
	net, err := d.NewNetwork(cfg, bins, lm.NumClasses(), device)
	if err != nil {
		return nil, fmt.Errorf("build %s network: %w", name, err)
	}
	return newWindowed(d, cfg, net, lm), nil
}

func init() {
	adam := OptimizerConfig{LR: 0.003, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}

	mlp := func(cfg Config, bins, classes int, _ string) (Network, error) {
		return NewMLP(bins, cfg.Network.Context, cfg.Network.HiddenSize, classes, cfg.Seed)
	}

	list := []Definition{
		{
			Name:       "FrameMLP",
			Defaults:   Config{Network: NetworkConfig{HiddenSize: 64, Context: 2}, Optimizer: adam},
			Devices:    []string{DeviceCPU},
			Trainable:  true,
			NewNetwork: mlp,
		},
		{
			Name:       "TeenyFrameMLP",
			Defaults:   Config{Network: NetworkConfig{HiddenSize: 8, Context: 1}, Optimizer: OptimizerConfig{LR: 0.01, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}},
			Devices:    []string{DeviceCPU},
			Trainable:  true,
			NewNetwork: mlp,
		},
		{
			Name:      "ONNXFrameNet",
			Defaults:  Config{Network: NetworkConfig{InputName: "input", OutputName: "output"}},
			Devices:   []string{DeviceCPU, DeviceCUDA},
			Trainable: false,
			NewNetwork: func(cfg Config, _, classes int, device string) (Network, error) {
				return NewONNXNetwork(cfg.Network.InputName, cfg.Network.OutputName, classes, device), nil
			},
		},
	}

	for _, d := range list {
		if err := Register(d); err != nil {
			panic(err.Error())
		}
	}
}
