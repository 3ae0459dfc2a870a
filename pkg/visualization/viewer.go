package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"voxelseg/internal/models"
	"voxelseg/pkg/voxel"
)

// PreviewFunc reports the provisional value of a voxel during an edit.
type PreviewFunc func(index int) (models.SegmentIndex, bool)

// Viewer renders slices of a segmentation, compositing the preview of an
// in-progress edit over the committed labels. Background voxels show the
// intensity image when one is set.
type Viewer struct {
	labels voxel.Reader
	dims   models.Dimensions

	// image is the optional grey underlay
	image *models.Volume

	// preview, when set, wins over committed labels
	preview PreviewFunc

	// opacity of label colours over the underlay, in [0,1]
	opacity float64
}

// NewViewer creates a viewer over committed labels
func NewViewer(labels voxel.Reader, dims models.Dimensions) *Viewer {
	return &Viewer{labels: labels, dims: dims, opacity: 1}
}

// WithImage draws img underneath the labels with the given label opacity.
func (v *Viewer) WithImage(img *models.Volume, opacity float64) *Viewer {
	v.image = img
	v.opacity = math.Max(0, math.Min(1, opacity))
	return v
}

// WithPreview composites preview values over the committed labels.
func (v *Viewer) WithPreview(fn PreviewFunc) *Viewer {
	v.preview = fn
	return v
}

// SegmentColor returns the display colour of a segment. Background is
// transparent; other indices get a stable hue.
func SegmentColor(s models.SegmentIndex) color.RGBA {
	if s == models.Background {
		return color.RGBA{}
	}
	// golden-angle hue spacing keeps neighbouring indices distinct
	hue := math.Mod(float64(s)*137.508, 360)
	r, g, b := hsvToRGB(hue, 0.75, 0.95)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// ExtractSlice renders a 2D slice along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.RGBA, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var w, h int
	var index func(px, py int) int

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.dims.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.dims.Width)
		}
		w, h = v.dims.Depth, v.dims.Height
		index = func(px, py int) int { return v.dims.Index(models.Coord{X: position, Y: py, Z: px}) }

	case "y", "Y":
		// XZ plane
		if position >= v.dims.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.dims.Height)
		}
		w, h = v.dims.Width, v.dims.Depth
		index = func(px, py int) int { return v.dims.Index(models.Coord{X: px, Y: position, Z: py}) }

	case "z", "Z":
		// XY plane
		if position >= v.dims.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.dims.Depth)
		}
		w, h = v.dims.Width, v.dims.Height
		index = func(px, py int) int { return v.dims.Index(models.Coord{X: px, Y: py, Z: position}) }

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			c, err := v.pixel(index(px, py))
			if err != nil {
				return nil, err
			}
			img.SetRGBA(px, py, c)
		}
	}
	return img, nil
}

func (v *Viewer) pixel(idx int) (color.RGBA, error) {
	seg, err := v.labels.Get(idx)
	if err != nil {
		return color.RGBA{}, err
	}
	if v.preview != nil {
		if p, ok := v.preview(idx); ok {
			seg = p
		}
	}

	base := color.RGBA{A: 255}
	if v.image != nil && idx < len(v.image.Data) {
		grey := uint8(math.Max(0, math.Min(255, v.image.Data[idx]*255)))
		base = color.RGBA{R: grey, G: grey, B: grey, A: 255}
	}
	if seg == models.Background {
		return base, nil
	}

	label := SegmentColor(seg)
	if v.image == nil {
		return label, nil
	}
	blend := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a)*(1-v.opacity) + float64(b)*v.opacity))
	}
	return color.RGBA{R: blend(base.R, label.R), G: blend(base.G, label.G), B: blend(base.B, label.B), A: 255}, nil
}

// SaveSlice saves a rendered slice as a PNG image. PNG is lossless, so
// label colours survive exactly.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence renders and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.dims.Width
	case "y", "Y":
		maxPos = v.dims.Height
	case "z", "Z":
		maxPos = v.dims.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to8 := func(f float64) uint8 { return uint8(math.Round((f + m) * 255)) }
	return to8(r), to8(g), to8(b)
}
