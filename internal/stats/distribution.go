package stats

import (
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// RelativeAccuracy is the relative error bound of Distribution estimates.
const RelativeAccuracy = 0.01

// Distribution tracks every value a channel has seen since startup in
// bounded memory. Quantiles are estimates within RelativeAccuracy.
type Distribution struct {
	mu     sync.Mutex
	sketch *ddsketch.DDSketch
}

// NewDistribution returns an empty distribution.
func NewDistribution() *Distribution {
	sketch, err := ddsketch.NewDefaultDDSketch(RelativeAccuracy)
	if err != nil {
		// Only fails for accuracies outside (0, 1).
		panic(err)
	}
	return &Distribution{sketch: sketch}
}

// Add records v. Values outside the sketch's indexable range are rejected.
func (d *Distribution) Add(v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sketch.Add(v)
}

// Count returns the number of recorded values.
func (d *Distribution) Count() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint64(d.sketch.GetCount())
}

// Quantile returns the estimated q-quantile. ok is false until a value has
// been recorded.
func (d *Distribution) Quantile(q float64) (v float64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sketch.IsEmpty() {
		return 0, false
	}
	v, err := d.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0, false
	}
	return v, true
}
