package optics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// fringeTerm is the (n, m) pair of one Fringe Zernike polynomial.
// Odd (sin) terms carry sin=true.
type fringeTerm struct {
	n, m int
	sin  bool
}

// MaxFringeIndex is the highest supported Fringe Zernike index.
const MaxFringeIndex = 37

// fringeTable lists Z1..Z37 in Fringe (University of Arizona) order.
var fringeTable = [MaxFringeIndex]fringeTerm{
	{0, 0, false},               // Z1 piston
	{1, 1, false}, {1, 1, true}, // Z2, Z3 tilt
	{2, 0, false},               // Z4 defocus
	{2, 2, false}, {2, 2, true}, // Z5, Z6 astigmatism
	{3, 1, false}, {3, 1, true}, // Z7, Z8 coma
	{4, 0, false},               // Z9 primary spherical
	{3, 3, false}, {3, 3, true}, // Z10, Z11 trefoil
	{4, 2, false}, {4, 2, true}, // Z12, Z13
	{5, 1, false}, {5, 1, true}, // Z14, Z15
	{6, 0, false},               // Z16 secondary spherical
	{4, 4, false}, {4, 4, true}, // Z17, Z18
	{5, 3, false}, {5, 3, true}, // Z19, Z20
	{6, 2, false}, {6, 2, true}, // Z21, Z22
	{7, 1, false}, {7, 1, true}, // Z23, Z24
	{8, 0, false},               // Z25 tertiary spherical
	{5, 5, false}, {5, 5, true}, // Z26, Z27
	{6, 4, false}, {6, 4, true}, // Z28, Z29
	{7, 3, false}, {7, 3, true}, // Z30, Z31
	{8, 2, false}, {8, 2, true}, // Z32, Z33
	{9, 1, false}, {9, 1, true}, // Z34, Z35
	{10, 0, false},              // Z36
	{12, 0, false},              // Z37
}

// ParseFringeName converts a mode name such as "Z9" to its Fringe index.
func ParseFringeName(name string) (int, error) {
	s := strings.TrimSpace(name)
	if len(s) < 2 || (s[0] != 'Z' && s[0] != 'z') {
		return 0, fmt.Errorf("invalid mode name %q", name)
	}
	j, err := strconv.Atoi(s[1:])
	if err != nil {
		return 0, fmt.Errorf("invalid mode name %q: %w", name, err)
	}
	if j < 1 || j > MaxFringeIndex {
		return 0, fmt.Errorf("mode %q out of range Z1..Z%d", name, MaxFringeIndex)
	}
	return j, nil
}

// FringeZernike evaluates Fringe Zernike Zj at polar pupil coordinates.
// With rmsNorm the polynomial is scaled to unit RMS over the unit disk.
func FringeZernike(j int, rho, theta float64, rmsNorm bool) float64 {
	t := fringeTable[j-1]
	v := radial(t.n, t.m, rho)
	if t.m != 0 {
		if t.sin {
			v *= math.Sin(float64(t.m) * theta)
		} else {
			v *= math.Cos(float64(t.m) * theta)
		}
	}
	if rmsNorm {
		v *= normFactor(t)
	}
	return v
}

func normFactor(t fringeTerm) float64 {
	if t.m == 0 {
		return math.Sqrt(float64(t.n + 1))
	}
	return math.Sqrt(2 * float64(t.n+1))
}

// radial is the Zernike radial polynomial R_n^m.
func radial(n, m int, rho float64) float64 {
	var sum float64
	for k := 0; k <= (n-m)/2; k++ {
		c := factorial(n-k) / (factorial(k) * factorial((n+m)/2-k) * factorial((n-m)/2-k))
		if k%2 == 1 {
			c = -c
		}
		sum += c * math.Pow(rho, float64(n-2*k))
	}
	return sum
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}
