package platform

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// SimADC is an in-memory bank of analog channels for hosts without ADC
// hardware and for tests.
type SimADC struct {
	mu   sync.Mutex
	pins map[int]*SimPin
}

// NewSimADC creates channels nums, each at 12 bits on a 3.3 V reference.
func NewSimADC(nums ...int) *SimADC {
	s := &SimADC{pins: make(map[int]*SimPin, len(nums))}
	for _, n := range nums {
		s.pins[n] = &SimPin{num: n, vref: 3300 * physic.MilliVolt, max: 4095}
	}
	return s
}

func (s *SimADC) ByNumber(n int) (analog.PinADC, bool) {
	p, ok := s.Pin(n)
	return p, ok
}

// Pin returns the concrete channel so tests can drive it.
func (s *SimADC) Pin(n int) (*SimPin, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[n]
	return p, ok
}

// SimPin is one simulated channel. Reads return the last Set value.
type SimPin struct {
	num  int
	vref physic.ElectricPotential
	max  int32

	mu    sync.Mutex
	raw   int32
	err   error
	stall chan struct{}
}

func (p *SimPin) String() string   { return fmt.Sprintf("SIM_ADC%d", p.num) }
func (p *SimPin) Name() string     { return p.String() }
func (p *SimPin) Number() int      { return p.num }
func (p *SimPin) Function() string { return "ADC" }
func (p *SimPin) Halt() error      { return nil }

func (p *SimPin) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{V: p.vref, Raw: p.max}
}

func (p *SimPin) Read() (analog.Sample, error) {
	p.mu.Lock()
	stall := p.stall
	p.mu.Unlock()
	if stall != nil {
		<-stall
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return analog.Sample{}, p.err
	}
	v := p.vref * physic.ElectricPotential(p.raw) / physic.ElectricPotential(p.max+1)
	return analog.Sample{V: v, Raw: p.raw}, nil
}

// Set changes the raw count returned by later reads.
func (p *SimPin) Set(raw int32) {
	p.mu.Lock()
	p.raw = raw
	p.mu.Unlock()
}

// SetVolts sets the count matching v on the channel reference.
func (p *SimPin) SetVolts(v float64) {
	raw := int32(v/(float64(p.vref)/float64(physic.Volt))*float64(p.max+1) + 0.5)
	p.Set(raw)
}

// Fail makes reads return err; nil restores normal reads.
func (p *SimPin) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Stall makes reads hang until Resume.
func (p *SimPin) Stall() {
	p.mu.Lock()
	if p.stall == nil {
		p.stall = make(chan struct{})
	}
	p.mu.Unlock()
}

func (p *SimPin) Resume() {
	p.mu.Lock()
	if p.stall != nil {
		close(p.stall)
		p.stall = nil
	}
	p.mu.Unlock()
}
