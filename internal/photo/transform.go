// Package photo makes republished lead images byte- and hash-distinct from the
// syndicated original without visibly changing them.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDecode is returned for input that is not a supported image.
	ErrDecode = errors.New("decode image")
	// ErrUnknownFilter is returned for a filter name outside the set.
	ErrUnknownFilter = errors.New("unknown filter")
)

// Options controls a single transform.
type Options struct {
	Filter string
	Pixels int // number of interior pixels to desaturate
	Flip   bool
}

// Transformer applies the uniqueness transform. It is not safe for concurrent use.
type Transformer struct {
	filters FilterSet
	rnd     *rand.Rand
}

// NewTransformer uses rnd for pixel and filter choices; nil seeds a fresh source.
func NewTransformer(filters FilterSet, rnd *rand.Rand) *Transformer {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Transformer{filters: filters, rnd: rnd}
}

// Filters returns the set this transformer chooses from.
func (t *Transformer) Filters() FilterSet {
	return t.filters
}

// RandomFilter picks a filter name uniformly from the set.
func (t *Transformer) RandomFilter() string {
	if t.filters.Len() == 0 {
		return OriginalFilter
	}
	return t.filters.names[t.rnd.IntN(t.filters.Len())]
}

// Transform decodes src, desaturates opts.Pixels random interior pixels, optionally
// mirrors it, applies the named filter and returns PNG bytes of the same size.
func (t *Transformer) Transform(src []byte, opts Options) ([]byte, error) {
	filter, ok := t.filters.Get(opts.Filter)
	if !ok {
		if opts.Filter != OriginalFilter && opts.Filter != "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFilter, opts.Filter)
		}
		filter = func(img *image.NRGBA) *image.NRGBA { return img }
	}

	decoded, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img := imaging.Clone(decoded)
	t.perturb(img, opts.Pixels)

	if opts.Flip {
		img = imaging.FlipH(img)
	}
	img = filter(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// perturb replaces n pixels at 1 <= x <= W-1, 1 <= y <= H-1 with their luma.
// The first row and column are never touched; the same pixel may be chosen twice.
func (t *Transformer) perturb(img *image.NRGBA, n int) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w < 2 || h < 2 {
		return
	}

	for range n {
		x := 1 + t.rnd.IntN(w-1)
		y := 1 + t.rnd.IntN(h-1)

		p := img.NRGBAAt(x, y)
		luma := uint8(0.299*float64(p.R) + 0.587*float64(p.G) + 0.114*float64(p.B))
		img.SetNRGBA(x, y, color.NRGBA{R: luma, G: luma, B: luma, A: p.A})
	}
}
