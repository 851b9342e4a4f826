package types

// BoardConfig selects where analog channels come from (published on config/board).
type BoardConfig struct {
	ADC       string `json:"adc" yaml:"adc" mapstructure:"adc"`                      // "sim" (default) or "iio"
	IIODevice string `json:"iio_device" yaml:"iio_device" mapstructure:"iio_device"` // e.g. "iio:device0"
	IIORoot   string `json:"iio_root,omitempty" yaml:"iio_root" mapstructure:"iio_root"`
	Bits      int    `json:"bits,omitempty" yaml:"bits" mapstructure:"bits"`
	SimPins   []int  `json:"sim_pins,omitempty" yaml:"sim_pins" mapstructure:"sim_pins"`
}
