package color

import (
	"encoding/hex"
	"math"
)

// Sentinel is the colour of a cell without signal.
const Sentinel = "XXXXXX"

// palette is a fixed list of high-contrast colours for categorical features.
var palette = [...]string{
	"e6194b", "3cb44b", "ffe119", "4363d8", "f58231",
	"911eb4", "46f0f0", "f032e6", "bcf60c", "fabebe",
	"008080", "e6beff", "9a6324", "fffac8", "800000",
	"aaffc3", "808000", "ffd8b1", "000075", "808080",
}

// Palette returns n distinct colours. Up to the size of the fixed palette its
// prefix is used; beyond it n colours are spread evenly around the hue circle.
func Palette(n int) []string {
	if n <= len(palette) {
		return append([]string(nil), palette[:max(n, 0)]...)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = hsv(float64(i)/float64(n), 0.75, 0.9)
	}
	return out
}

// LegendEntry pairs a category label with its colour.
type LegendEntry struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// Hex formats one colour.
func Hex(r, g, b uint8) string {
	if r == 0 && g == 0 && b == 0 {
		return Sentinel
	}
	return hex.EncodeToString([]byte{r, g, b})
}

func hsv(h, s, v float64) string {
	h = math.Mod(h, 1) * 6
	i := math.Floor(h)
	f := h - i
	p, q, t := v*(1-s), v*(1-s*f), v*(1-s*(1-f))

	var r, g, b float64
	switch int(i) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return hex.EncodeToString([]byte{
		uint8(math.Round(r * 255)),
		uint8(math.Round(g * 255)),
		uint8(math.Round(b * 255)),
	})
}
