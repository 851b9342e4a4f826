// Package resources hands out exclusive ownership of board pins.
package resources

import (
	"sort"
	"sync"

	"periph.io/x/conn/v3/analog"

	"tdsnode/errcode"
	"tdsnode/services/hal/internal/halcore"
)

// ADCRegistry tracks which device owns each analog channel.
type ADCRegistry struct {
	mu      sync.Mutex
	factory halcore.ADCFactory
	used    map[int]string // pin -> devID
}

var _ halcore.ADCChannels = (*ADCRegistry)(nil)

func NewADCRegistry(f halcore.ADCFactory) *ADCRegistry {
	return &ADCRegistry{factory: f, used: make(map[int]string)}
}

// ClaimADC returns the pin when it exists and nobody else holds it. A device
// re-claiming its own pin gets it back.
func (r *ADCRegistry) ClaimADC(devID string, n int) (analog.PinADC, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.factory.ByNumber(n)
	if !ok {
		return nil, errcode.UnknownPin
	}
	if owner, inUse := r.used[n]; inUse && owner != devID {
		return nil, errcode.PinInUse
	}
	r.used[n] = devID
	return p, nil
}

func (r *ADCRegistry) ReleaseADC(devID string, n int) {
	r.mu.Lock()
	if owner, ok := r.used[n]; ok && owner == devID {
		delete(r.used, n)
	}
	r.mu.Unlock()
}

// Claim is one held pin.
type Claim struct {
	Pin   int
	Owner string
}

// Claims lists held pins in pin order.
func (r *ADCRegistry) Claims() []Claim {
	r.mu.Lock()
	out := make([]Claim, 0, len(r.used))
	for pin, owner := range r.used {
		out = append(out, Claim{Pin: pin, Owner: owner})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Pin < out[j].Pin })
	return out
}
