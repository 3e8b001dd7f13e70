package classify

import (
	"cmp"
	"image"
	"image/color"
	"slices"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"

	"github.com/blackmichael/fuwamoko-bot/internal/domain"
)

const (
	sampleSize = 64

	// quantStep groups channel values into 16 buckets.
	quantStep = 16
)

// Summarize downsamples img and computes the evidence the classifier uses: the
// topK most frequent quantised colour cells, each reported as the mean of its
// pixels, and the share of skin-tone pixels. Fully transparent pixels are
// ignored.
func Summarize(img image.Image, topK int) domain.ImageSummary {
	if topK <= 0 {
		topK = DefaultRules().TopColors
	}

	dst := image.NewRGBA(image.Rect(0, 0, sampleSize, sampleSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	buckets := make(map[uint32]*bucket)
	var total, skin int
	for y := 0; y < sampleSize; y++ {
		for x := 0; x < sampleSize; x++ {
			c := dst.RGBAAt(x, y)
			if c.A == 0 {
				continue
			}
			total++
			if isSkin(c) {
				skin++
			}
			key := bucketKey(c)
			b, ok := buckets[key]
			if !ok {
				b = &bucket{key: key}
				buckets[key] = b
			}
			b.add(c)
		}
	}

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	slices.SortFunc(ordered, func(a, b *bucket) int {
		if n := cmp.Compare(b.count, a.count); n != 0 {
			return n
		}
		return cmp.Compare(a.key, b.key)
	})
	top := make([]domain.ColorCount, 0, len(ordered))
	for _, b := range ordered {
		top = append(top, domain.ColorCount{Color: b.mean(), Count: b.count})
	}
	if len(top) > topK {
		top = top[:topK]
	}

	summary := domain.ImageSummary{TopColors: top}
	if total > 0 {
		summary.SkinRatio = float64(skin) / float64(total)
	}
	return summary
}

// bucket groups the pixels of one quantisation cell. Its colour is the mean
// of its pixels, so the soft rules see real channel values rather than the
// cell's centre.
type bucket struct {
	key     uint32
	count   int
	r, g, b int
}

func (b *bucket) add(c color.RGBA) {
	b.count++
	b.r += int(c.R)
	b.g += int(c.G)
	b.b += int(c.B)
}

func (b *bucket) mean() color.RGBA {
	avg := func(sum int) uint8 { return uint8((sum + b.count/2) / b.count) }
	return color.RGBA{R: avg(b.r), G: avg(b.g), B: avg(b.b), A: 255}
}

// bucketKey packs the quantised channels of c.
func bucketKey(c color.RGBA) uint32 {
	return uint32(c.R/quantStep)<<16 | uint32(c.G/quantStep)<<8 | uint32(c.B/quantStep)
}

func hsv(c color.RGBA) (h, s, v float64) {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}.Hsv()
}

// isSkin is the usual HSV skin-tone box.
func isSkin(c color.RGBA) bool {
	h, s, v := hsv(c)
	return h <= 50 && s >= 0.23 && s <= 0.68 && v >= 0.35
}

// softRule is one "soft/pastel" colour family.
type softRule struct {
	name  string
	match func(c color.RGBA) bool
}

var softRules = []softRule{
	{name: "near-white", match: func(c color.RGBA) bool {
		return c.R >= 220 && c.G >= 220 && c.B >= 220
	}},
	{name: "cream", match: func(c color.RGBA) bool {
		return c.R >= 235 && c.G >= 220 && c.B >= 180 && c.B <= 230 && int(c.R) >= int(c.B)+15
	}},
	{name: "pastel-pink", match: func(c color.RGBA) bool {
		h, s, v := hsv(c)
		return (h >= 300 || h <= 20) && s >= 0.08 && s <= 0.45 && v >= 0.8
	}},
	{name: "pastel-purple", match: func(c color.RGBA) bool {
		h, s, v := hsv(c)
		return h >= 250 && h < 300 && s >= 0.08 && s <= 0.45 && v >= 0.75
	}},
}

// softFamily returns the name of the first soft rule c matches, or "".
func softFamily(c color.RGBA) string {
	for _, r := range softRules {
		if r.match(c) {
			return r.name
		}
	}
	return ""
}
