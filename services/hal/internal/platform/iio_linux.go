//go:build linux

package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// DefaultIIORoot is where the kernel exposes industrial I/O devices.
const DefaultIIORoot = "/sys/bus/iio/devices"

// IIOADC exposes the voltage channels of one Linux IIO device
// (for example an ADS1015 or the SoC's own SAR ADC).
type IIOADC struct {
	dir  string
	bits int
}

// NewIIOADC opens root/device, e.g. NewIIOADC("", "iio:device0", 12).
func NewIIOADC(root, device string, bits int) (*IIOADC, error) {
	if root == "" {
		root = DefaultIIORoot
	}
	dir := filepath.Join(root, device)
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrapf(err, "iio device %s", device)
	}
	return &IIOADC{dir: dir, bits: bits}, nil
}

func (a *IIOADC) ByNumber(n int) (analog.PinADC, bool) {
	raw := filepath.Join(a.dir, fmt.Sprintf("in_voltage%d_raw", n))
	if _, err := os.Stat(raw); err != nil {
		return nil, false
	}
	return &iioPin{num: n, raw: raw, dir: a.dir, bits: a.bits}, true
}

type iioPin struct {
	num  int
	raw  string
	dir  string
	bits int
}

func (p *iioPin) String() string   { return fmt.Sprintf("IIO_%s_%d", filepath.Base(p.dir), p.num) }
func (p *iioPin) Name() string     { return p.String() }
func (p *iioPin) Number() int      { return p.num }
func (p *iioPin) Function() string { return "ADC" }
func (p *iioPin) Halt() error      { return nil }

func (p *iioPin) Range() (analog.Sample, analog.Sample) {
	hi := int32(1)<<p.bits - 1
	return analog.Sample{}, analog.Sample{V: p.volts(hi), Raw: hi}
}

func (p *iioPin) Read() (analog.Sample, error) {
	raw, err := readInt(p.raw)
	if err != nil {
		return analog.Sample{}, err
	}
	return analog.Sample{V: p.volts(int32(raw)), Raw: int32(raw)}, nil
}

// volts applies the channel scale (mV per count) when the driver exports one.
func (p *iioPin) volts(raw int32) physic.ElectricPotential {
	scale, err := readFloat(filepath.Join(p.dir, fmt.Sprintf("in_voltage%d_scale", p.num)))
	if err != nil {
		scale, err = readFloat(filepath.Join(p.dir, "in_voltage_scale"))
	}
	if err != nil {
		return 0
	}
	return physic.ElectricPotential(float64(raw) * scale * float64(physic.MilliVolt))
}

func readInt(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "iio read")
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
	return v, errors.Wrapf(err, "parsing %s", filepath.Base(path))
}

func readFloat(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
}
