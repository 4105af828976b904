// Package calibration maps channel indices to energies with a polynomial.
//
// Coefficients are in ascending power order, so E(x) = c0 + c1*x + c2*x^2 + ...
// Channel i spans [E(i), E(i+1)). A Polynomial is immutable and safe for
// concurrent use.
package calibration

import (
	"github.com/FocuswithJustin/n42kit/core/errors"
)

// Polynomial is an energy calibration.
type Polynomial struct {
	coeffs []float64
}

// New copies coeffs into a Polynomial. At least one coefficient is required.
func New(coeffs []float64) (*Polynomial, error) {
	if len(coeffs) == 0 {
		return nil, &errors.CalibrationError{Message: "no coefficients"}
	}
	c := make([]float64, len(coeffs))
	copy(c, coeffs)
	return &Polynomial{coeffs: c}, nil
}

// Coefficients returns a copy of the coefficients.
func (p *Polynomial) Coefficients() []float64 {
	c := make([]float64, len(p.coeffs))
	copy(c, p.coeffs)
	return c
}

// Degree returns the polynomial degree.
func (p *Polynomial) Degree() int {
	return len(p.coeffs) - 1
}

// Energy evaluates the polynomial at channel position x using Horner's method.
func (p *Polynomial) Energy(x float64) float64 {
	v := p.coeffs[len(p.coeffs)-1]
	for i := len(p.coeffs) - 2; i >= 0; i-- {
		v = v*x + p.coeffs[i]
	}
	return v
}

// Edges returns the n+1 channel boundary energies E(0)..E(n).
func (p *Polynomial) Edges(n int) []float64 {
	if n < 0 {
		n = 0
	}
	edges := make([]float64, n+1)
	for i := range edges {
		edges[i] = p.Energy(float64(i))
	}
	return edges
}

// BinWidths returns E(i+1)-E(i) for each of the n channels.
func (p *Polynomial) BinWidths(n int) []float64 {
	return Widths(p.Edges(n))
}

// Centers returns the midpoint energy of each of the n channels.
func (p *Polynomial) Centers(n int) []float64 {
	edges := p.Edges(n)
	centers := make([]float64, len(edges)-1)
	for i := range centers {
		centers[i] = (edges[i] + edges[i+1]) / 2
	}
	return centers
}

// Widths returns consecutive differences of edges.
func Widths(edges []float64) []float64 {
	if len(edges) < 2 {
		return []float64{}
	}
	widths := make([]float64, len(edges)-1)
	for i := range widths {
		widths[i] = edges[i+1] - edges[i]
	}
	return widths
}
