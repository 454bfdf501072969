package photo

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"
)

// OriginalFilter leaves the image untouched.
const OriginalFilter = "original"

// Filter is a deterministic tone transform applied to the whole image.
type Filter func(img *image.NRGBA) *image.NRGBA

// FilterSet is the enumerated set of named filters a Transformer may choose from.
type FilterSet struct {
	names   []string
	filters map[string]Filter
}

// NewFilterSet builds a set from named filters. Names are kept in sorted order.
func NewFilterSet(filters map[string]Filter) FilterSet {
	fs := FilterSet{filters: make(map[string]Filter, len(filters))}
	for name, f := range filters {
		fs.filters[name] = f
		fs.names = append(fs.names, name)
	}
	sort.Strings(fs.names)
	return fs
}

// Names returns the filter names in sorted order.
func (fs FilterSet) Names() []string {
	return append([]string(nil), fs.names...)
}

// Len is the number of filters in the set.
func (fs FilterSet) Len() int {
	return len(fs.names)
}

// Get looks a filter up by name.
func (fs FilterSet) Get(name string) (Filter, bool) {
	f, ok := fs.filters[name]
	return f, ok
}

// Subset keeps only the named filters. Unknown names are an error.
func (fs FilterSet) Subset(names []string) (FilterSet, error) {
	picked := make(map[string]Filter, len(names))
	for _, name := range names {
		f, ok := fs.filters[name]
		if !ok {
			return FilterSet{}, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
		}
		picked[name] = f
	}
	return NewFilterSet(picked), nil
}

// DefaultFilters returns the built-in filter set, loosely modelled on the
// well-known photo-app looks.
func DefaultFilters() FilterSet {
	return NewFilterSet(map[string]Filter{
		OriginalFilter: func(img *image.NRGBA) *image.NRGBA { return img },
		"aden": func(img *image.NRGBA) *image.NRGBA {
			img = imaging.AdjustSaturation(img, -15)
			img = imaging.AdjustBrightness(img, 12)
			img = imaging.AdjustContrast(img, -10)
			return tint(img, color.NRGBA{R: 66, G: 10, B: 14}, 0.08)
		},
		"clarendon": func(img *image.NRGBA) *image.NRGBA {
			img = imaging.AdjustContrast(img, 20)
			img = imaging.AdjustSaturation(img, 35)
			return tint(img, color.NRGBA{R: 127, G: 187, B: 227}, 0.12)
		},
		"gingham": func(img *image.NRGBA) *image.NRGBA {
			img = imaging.AdjustBrightness(img, 5)
			img = imaging.AdjustSaturation(img, -20)
			return liftShadows(img, 0.12)
		},
		"inkwell": func(img *image.NRGBA) *image.NRGBA {
			img = imaging.Grayscale(img)
			img = imaging.AdjustContrast(img, 10)
			return imaging.AdjustBrightness(img, 10)
		},
		"lofi": func(img *image.NRGBA) *image.NRGBA {
			img = imaging.AdjustSaturation(img, 10)
			return imaging.AdjustSigmoid(img, 0.5, 6)
		},
		"nashville": func(img *image.NRGBA) *image.NRGBA {
			img = tint(img, color.NRGBA{R: 247, G: 176, B: 153}, 0.2)
			img = imaging.AdjustContrast(img, 20)
			img = imaging.AdjustBrightness(img, 5)
			return imaging.AdjustGamma(img, 1.1)
		},
		"toaster": func(img *image.NRGBA) *image.NRGBA {
			img = imaging.AdjustContrast(img, 50)
			img = imaging.AdjustBrightness(img, -10)
			return tint(img, color.NRGBA{R: 128, G: 78, B: 15}, 0.18)
		},
		"valencia": func(img *image.NRGBA) *image.NRGBA {
			img = imaging.AdjustContrast(img, 8)
			img = imaging.AdjustBrightness(img, 8)
			return sepia(img, 0.08)
		},
		"walden": func(img *image.NRGBA) *image.NRGBA {
			img = imaging.AdjustBrightness(img, 10)
			img = imaging.AdjustSaturation(img, 60)
			return tint(img, color.NRGBA{R: 255, G: 204, B: 0}, 0.15)
		},
		"xpro2": func(img *image.NRGBA) *image.NRGBA {
			img = imaging.AdjustSigmoid(img, 0.5, 4)
			img = sepia(img, 0.15)
			return tint(img, color.NRGBA{R: 43, G: 42, B: 161}, 0.1)
		},
	})
}

// tint blends every pixel towards c by strength (0..1), keeping alpha.
func tint(img *image.NRGBA, c color.NRGBA, strength float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(p color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: blend(p.R, c.R, strength),
			G: blend(p.G, c.G, strength),
			B: blend(p.B, c.B, strength),
			A: p.A,
		}
	})
}

// sepia blends every pixel towards its sepia tone by strength.
func sepia(img *image.NRGBA, strength float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(p color.NRGBA) color.NRGBA {
		r, g, b := float64(p.R), float64(p.G), float64(p.B)
		sr := clamp(0.393*r + 0.769*g + 0.189*b)
		sg := clamp(0.349*r + 0.686*g + 0.168*b)
		sb := clamp(0.272*r + 0.534*g + 0.131*b)
		return color.NRGBA{
			R: blend(p.R, sr, strength),
			G: blend(p.G, sg, strength),
			B: blend(p.B, sb, strength),
			A: p.A,
		}
	})
}

// liftShadows raises dark values, the washed-out film look.
func liftShadows(img *image.NRGBA, amount float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(p color.NRGBA) color.NRGBA {
		lift := func(v uint8) uint8 {
			f := float64(v)
			return clamp(f + (255-f)*amount*(1-f/255))
		}
		return color.NRGBA{R: lift(p.R), G: lift(p.G), B: lift(p.B), A: p.A}
	})
}

func blend(v, target uint8, strength float64) uint8 {
	return clamp(float64(v)*(1-strength) + float64(target)*strength)
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v + 0.5)
}
