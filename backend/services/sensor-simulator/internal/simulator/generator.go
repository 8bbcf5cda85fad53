package simulator

import (
	"encoding/json"
	"math"
	"math/rand/v2"

	"batterymon/backend/services/sensor-simulator/internal/config"
)

// Reading is one simulated sensor message.
type Reading struct {
	SpecificGravity float64 `json:"sg"`
	Level           float64 `json:"level"`
	DPPa            float64 `json:"dp_pa"`
	Samples         int     `json:"samples"`
}

// Generator draws uniformly distributed readings.
type Generator struct {
	rnd    *rand.Rand
	ranges map[string]config.Range
}

// NewGenerator returns generator seeded with seed.
func NewGenerator(ranges map[string]config.Range, seed uint64) *Generator {
	return &Generator{
		rnd:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ranges: ranges,
	}
}

// Next returns a new reading.
func (g *Generator) Next() Reading {
	return Reading{
		SpecificGravity: round(g.uniform("sg"), 3),
		Level:           round(g.uniform("level"), 1),
		DPPa:            round(g.uniform("dp_pa"), 2),
		Samples:         g.intn("samples"),
	}
}

// Encode renders r as the wire payload.
func Encode(r Reading) ([]byte, error) {
	return json.Marshal(r)
}

func (g *Generator) uniform(key string) float64 {
	r := g.ranges[key]
	return r.Min + g.rnd.Float64()*(r.Max-r.Min)
}

func (g *Generator) intn(key string) int {
	r := g.ranges[key]
	lo, hi := int(math.Ceil(r.Min)), int(math.Floor(r.Max))
	if hi <= lo {
		return lo
	}
	return lo + g.rnd.IntN(hi-lo+1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
