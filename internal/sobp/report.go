package sobp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MikeSquared-Agency/Phantom/internal/histo"
)

const weightsPerLine = 6

// Plateau summarises the composite dose at the layer peaks.
type Plateau struct {
	Values []float64 `json:"values"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Mean   float64   `json:"mean"`
	// Spread is (Max-Min)/Mean, 0 when Mean is 0.
	Spread float64 `json:"spread"`
}

// PlateauAt reads composite at each layer's peak bin.
func PlateauAt(composite *histo.Hist1D, layers []Layer) Plateau {
	var p Plateau
	if len(layers) == 0 {
		return p
	}
	p.Values = make([]float64, len(layers))
	var sum float64
	for i, l := range layers {
		v := composite.Value(l.PeakBin)
		p.Values[i] = v
		sum += v
		if i == 0 || v < p.Min {
			p.Min = v
		}
		if i == 0 || v > p.Max {
			p.Max = v
		}
	}
	p.Mean = sum / float64(len(layers))
	if p.Mean != 0 {
		p.Spread = (p.Max - p.Min) / p.Mean
	}
	return p
}

// FormatWeights prints the weights with four decimals, comma separated,
// six to a line, in layer order.
func FormatWeights(w []float64) string {
	var b strings.Builder
	for i, v := range w {
		b.WriteString(strconv.FormatFloat(v, 'f', 4, 64))
		if i == len(w)-1 {
			break
		}
		b.WriteByte(',')
		if (i+1)%weightsPerLine == 0 {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// ParseWeights reads a list written by FormatWeights. Commas, whitespace and
// an enclosing pair of braces are accepted as separators.
func ParseWeights(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ',', ' ', '\t', '\n', '\r', '{', '}', ';':
			return true
		}
		return false
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse weight %q: %w", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}
