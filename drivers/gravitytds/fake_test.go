package gravitytds

import (
	"fmt"
	"math"
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"

	"tdsnode/errcode"
)

type fakePin struct {
	num int

	mu    sync.Mutex
	raw   int32
	err   error
	block chan struct{} // Read waits for close when non-nil
	reads int
}

func (p *fakePin) String() string   { return fmt.Sprintf("ADC%d", p.num) }
func (p *fakePin) Halt() error      { return nil }
func (p *fakePin) Name() string     { return p.String() }
func (p *fakePin) Number() int      { return p.num }
func (p *fakePin) Function() string { return "ADC" }

func (p *fakePin) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{V: 3300 * physic.MilliVolt, Raw: 4095}
}

func (p *fakePin) Read() (analog.Sample, error) {
	p.mu.Lock()
	p.reads++
	block := p.block
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return analog.Sample{Raw: p.raw}, p.err
}

func (p *fakePin) set(raw int32) {
	p.mu.Lock()
	p.raw = raw
	p.mu.Unlock()
}

func (p *fakePin) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

type fakeChannels struct {
	mu     sync.Mutex
	pins   map[int]*fakePin
	owners map[int]string
}

func newFakeChannels(nums ...int) *fakeChannels {
	c := &fakeChannels{pins: map[int]*fakePin{}, owners: map[int]string{}}
	for _, n := range nums {
		c.pins[n] = &fakePin{num: n}
	}
	return c
}

func (c *fakeChannels) ClaimADC(owner string, pin int) (analog.PinADC, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pins[pin]
	if !ok {
		return nil, errcode.UnknownPin
	}
	if _, taken := c.owners[pin]; taken {
		return nil, errcode.PinInUse
	}
	c.owners[pin] = owner
	return p, nil
}

func (c *fakeChannels) ReleaseADC(owner string, pin int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owners[pin] == owner {
		delete(c.owners, pin)
	}
}

// rawFor is the 12-bit count for v on a 3.3 V reference.
func rawFor(v float64) int32 { return int32(math.Round(v * 4096 / 3.3)) }

type memKStore struct {
	mu sync.Mutex
	k  map[string]float64
}

func (s *memKStore) LoadK(id string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.k[id]
	return k, ok, nil
}

func (s *memKStore) SaveK(id string, k float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.k == nil {
		s.k = map[string]float64{}
	}
	s.k[id] = k
	return nil
}
