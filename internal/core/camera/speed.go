package camera

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/samirrijal/flyover/internal/core/domain"
)

// Speeds lists the accepted playback multipliers.
var Speeds = []float64{1, 1.5, 2}

// Speed is a playback multiplier shared between the controls and the rig.
// The zero value is 1x.
type Speed struct {
	bits atomic.Uint64
}

// NewSpeed returns a 1x multiplier.
func NewSpeed() *Speed {
	s := &Speed{}
	s.bits.Store(math.Float64bits(1))
	return s
}

// Set changes the multiplier. Calls already in progress keep the value they read.
func (s *Speed) Set(m float64) error {
	for _, allowed := range Speeds {
		if m == allowed {
			s.bits.Store(math.Float64bits(m))
			return nil
		}
	}
	return domain.ErrInvalidSpeed
}

// Get returns the current multiplier.
func (s *Speed) Get() float64 {
	b := s.bits.Load()
	if b == 0 {
		return 1
	}
	return math.Float64frombits(b)
}

// Scale divides a requested duration by the current multiplier.
func (s *Speed) Scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) / s.Get())
}
