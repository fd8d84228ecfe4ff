package models

// NetworkConfig holds network hyperparameters. Families use the fields that
// apply to them.
type NetworkConfig struct {
	HiddenSize int    `toml:"hidden_size"`
	Context    int    `toml:"context"`     // neighbouring frames on each side fed to a frame's classifier
	InputName  string `toml:"input_name"`  // ONNX input tensor
	OutputName string `toml:"output_name"` // ONNX output tensor
}

// OptimizerConfig holds Adam hyperparameters.
type OptimizerConfig struct {
	LR          float64 `toml:"lr"`
	Beta1       float64 `toml:"beta1"`
	Beta2       float64 `toml:"beta2"`
	Eps         float64 `toml:"eps"`
	WeightDecay float64 `toml:"weight_decay"`
}

// Config configures one model instance.
type Config struct {
	Network   NetworkConfig   `toml:"network"`
	Optimizer OptimizerConfig `toml:"optimizer"`
	Seed      int64           `toml:"seed"`
}

// Merge returns c with every non-zero field of over applied on top.
func (c Config) Merge(over Config) Config {
	if over.Network.HiddenSize != 0 {
		c.Network.HiddenSize = over.Network.HiddenSize
	}
	if over.Network.Context != 0 {
		c.Network.Context = over.Network.Context
	}
	if over.Network.InputName != "" {
		c.Network.InputName = over.Network.InputName
	}
	if over.Network.OutputName != "" {
		c.Network.OutputName = over.Network.OutputName
	}
	if over.Optimizer.LR != 0 {
		c.Optimizer.LR = over.Optimizer.LR
	}
	if over.Optimizer.Beta1 != 0 {
		c.Optimizer.Beta1 = over.Optimizer.Beta1
	}
	if over.Optimizer.Beta2 != 0 {
		c.Optimizer.Beta2 = over.Optimizer.Beta2
	}
	if over.Optimizer.Eps != 0 {
		c.Optimizer.Eps = over.Optimizer.Eps
	}
	if over.Optimizer.WeightDecay != 0 {
		c.Optimizer.WeightDecay = over.Optimizer.WeightDecay
	}
	if over.Seed != 0 {
		c.Seed = over.Seed
	}
	return c
}
