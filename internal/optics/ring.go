package optics

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecoderRing maps coefficient vector positions to Fringe Zernike modes.
// The zero value is an empty ring; rings are immutable once built.
type DecoderRing struct {
	names   []string
	indices []int
}

// Built-in rings.
var (
	// RingW1 holds the rotationally symmetric terms: defocus and three orders of spherical.
	RingW1 = MustDecoderRing("Z4", "Z9", "Z16", "Z25")
	// RingW2 adds astigmatism and coma families.
	RingW2 = MustDecoderRing("Z4", "Z5", "Z6", "Z7", "Z8", "Z9", "Z12", "Z13",
		"Z14", "Z15", "Z16", "Z21", "Z22", "Z23", "Z24", "Z25")
	// RingW3 is RingW2 plus trefoil.
	RingW3 = MustDecoderRing("Z4", "Z5", "Z6", "Z7", "Z8", "Z9", "Z12", "Z13",
		"Z14", "Z15", "Z16", "Z21", "Z22", "Z23", "Z24", "Z25", "Z10", "Z11")
)

// NewDecoderRing builds a ring from mode names in coefficient order.
func NewDecoderRing(names ...string) (DecoderRing, error) {
	if len(names) == 0 {
		return DecoderRing{}, configErrorf("ring", "decoder ring is empty")
	}

	r := DecoderRing{
		names:   make([]string, len(names)),
		indices: make([]int, len(names)),
	}
	seen := make(map[int]bool, len(names))
	for i, name := range names {
		j, err := ParseFringeName(name)
		if err != nil {
			return DecoderRing{}, configErrorf("ring", "position %d: %v", i, err)
		}
		if seen[j] {
			return DecoderRing{}, configErrorf("ring", "mode Z%d listed twice", j)
		}
		seen[j] = true
		r.names[i] = fmt.Sprintf("Z%d", j)
		r.indices[i] = j
	}
	return r, nil
}

// MustDecoderRing is NewDecoderRing for package-level rings.
func MustDecoderRing(names ...string) DecoderRing {
	r, err := NewDecoderRing(names...)
	if err != nil {
		panic(err)
	}
	return r
}

// RingByName resolves "w1", "w2", or "w3".
func RingByName(name string) (DecoderRing, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "w1":
		return RingW1, nil
	case "w2":
		return RingW2, nil
	case "w3":
		return RingW3, nil
	default:
		return DecoderRing{}, configErrorf("ring", "unknown decoder ring %q", name)
	}
}

// Len returns the number of coefficients the ring decodes.
func (r DecoderRing) Len() int {
	return len(r.names)
}

// Name returns the mode name at position i.
func (r DecoderRing) Name(i int) string {
	return r.names[i]
}

// Fringe returns the Fringe index at position i.
func (r DecoderRing) Fringe(i int) int {
	return r.indices[i]
}

// Names returns a copy of the mode names in coefficient order.
func (r DecoderRing) Names() []string {
	return append([]string(nil), r.names...)
}

// Decode pairs coefficients with their mode names.
func (r DecoderRing) Decode(coeffs []float64) (map[string]float64, error) {
	if len(coeffs) != r.Len() {
		return nil, configErrorf("coefficients", "have %d, decoder ring has %d modes", len(coeffs), r.Len())
	}
	out := make(map[string]float64, len(coeffs))
	for i, c := range coeffs {
		out[r.names[i]] = c
	}
	return out, nil
}

// MarshalJSON encodes the ring as its ordered list of names.
func (r DecoderRing) MarshalJSON() ([]byte, error) {
	if r.names == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.names)
}

// UnmarshalJSON decodes a list of mode names.
func (r *DecoderRing) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	if len(names) == 0 {
		*r = DecoderRing{}
		return nil
	}
	ring, err := NewDecoderRing(names...)
	if err != nil {
		return err
	}
	*r = ring
	return nil
}
