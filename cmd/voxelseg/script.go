package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"voxelseg/internal/models"
	"voxelseg/pkg/config"
	"voxelseg/pkg/locks"
	"voxelseg/pkg/region"
	"voxelseg/pkg/session"
	"voxelseg/pkg/stl"
	"voxelseg/pkg/strategy"
	"voxelseg/pkg/telemetry"
	"voxelseg/pkg/visualization"
	"voxelseg/pkg/voxel"
)

// Script describes a phantom volume and the strokes to replay on it.
type Script struct {
	Dimensions struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
		Depth  int `yaml:"depth"`
	} `yaml:"dimensions"`

	// VoxelSize is the voxel spacing in mm; zero axes default to 1
	VoxelSize struct {
		X float64 `yaml:"x"`
		Y float64 `yaml:"y"`
		Z float64 `yaml:"z"`
	} `yaml:"voxelSize"`

	// Locked overrides the configured locked segments when non-empty
	Locked []uint16 `yaml:"locked"`

	Strokes []Stroke `yaml:"strokes"`
}

// Stroke is one brush operation: the brush is dragged through Points.
type Stroke struct {
	Segment        uint16         `yaml:"segment"`
	Pipeline       string         `yaml:"pipeline"`
	PreviewSegment uint16         `yaml:"previewSegment"`
	Radius         float64        `yaml:"radius"`
	Points         []models.Coord `yaml:"points"`

	// Lock and Unlock change the registry just before the stroke begins
	Lock   []uint16 `yaml:"lock"`
	Unlock []uint16 `yaml:"unlock"`

	// Cancel abandons the stroke instead of committing it
	Cancel bool `yaml:"cancel"`

	// PreviewDir, when set, receives z slices of the stroke's preview
	// composited over the labels, rendered before commit or cancel
	PreviewDir string `yaml:"previewDir"`
}

func loadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := s.dims().Validate(); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return &s, nil
}

func (s *Script) dims() models.Dimensions {
	return models.Dimensions{Width: s.Dimensions.Width, Height: s.Dimensions.Height, Depth: s.Dimensions.Depth}
}

type scriptResult struct {
	Committed int
	Cancelled int
	Retried   int

	Histogram map[models.SegmentIndex]int
	Labels    *voxel.LabelVolume
	Image     *models.Volume
	Viewer    *visualization.Viewer
	Registry  *prometheus.Registry
}

func (r *scriptResult) sortedSegments() []models.SegmentIndex {
	out := make([]models.SegmentIndex, 0, len(r.Histogram))
	for s := range r.Histogram {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// exportSurface writes the surface of segment as a binary STL file, in mm.
func (r *scriptResult) exportSurface(path string, segment models.SegmentIndex) (int, error) {
	m := stl.NewMesher(r.Labels, r.Labels.Dimensions())
	m.SetScale(r.Image.VoxelSize.X, r.Image.VoxelSize.Y, r.Image.VoxelSize.Z)
	triangles, err := m.Generate(segment)
	if err != nil {
		return 0, fmt.Errorf("mesh segment %d: %w", segment, err)
	}
	if err := stl.SaveToSTL(path, triangles); err != nil {
		return 0, err
	}
	return len(triangles), nil
}

func (r *scriptResult) writeMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, r.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// runScript replays every stroke on a fresh phantom volume.
func runScript(ctx context.Context, cfg *config.Config, script *Script, logger *slog.Logger) (*scriptResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dims := script.dims()
	labels, err := voxel.NewLabelVolume(dims)
	if err != nil {
		return nil, err
	}
	image := phantom(dims)
	image.VoxelSize.X = orOne(script.VoxelSize.X)
	image.VoxelSize.Y = orOne(script.VoxelSize.Y)
	image.VoxelSize.Z = orOne(script.VoxelSize.Z)

	lockedSegments := cfg.Locked()
	if len(script.Locked) > 0 {
		lockedSegments = make([]models.SegmentIndex, 0, len(script.Locked))
		for _, s := range script.Locked {
			lockedSegments = append(lockedSegments, models.SegmentIndex(s))
		}
	}

	reg := prometheus.NewRegistry()
	res := &scriptResult{Registry: reg}
	sess := session.New(labels,
		session.WithLocks(locks.NewRegistry(lockedSegments...)),
		session.WithImage(image),
		session.WithLogger(logger),
		session.WithMetrics(telemetry.NewMetrics(reg)),
		session.WithRedraw(func(ev session.Event) {
			logger.Debug("redraw", "event", ev.Kind.String(), "voxels", len(ev.Indices))
		}),
	)
	defer sess.Close(ctx)

	for n, stroke := range script.Strokes {
		for _, s := range stroke.Lock {
			sess.Locks().Lock(models.SegmentIndex(s))
		}
		for _, s := range stroke.Unlock {
			sess.Locks().Unlock(models.SegmentIndex(s))
		}

		r := &renderer{labels: labels, image: image, dir: stroke.PreviewDir}
		committed, retried, err := replayStroke(ctx, sess, cfg, r, stroke)
		if err != nil {
			return nil, fmt.Errorf("stroke %d: %w", n, err)
		}
		if committed {
			res.Committed++
		} else {
			res.Cancelled++
		}
		if retried {
			res.Retried++
		}
	}

	res.Histogram = labels.Histogram()
	res.Labels = labels
	res.Image = image
	res.Viewer = visualization.NewViewer(labels, dims).WithImage(image, 0.6)
	return res, nil
}

// replayStroke runs one stroke. A conflict at commit discards the stroke
// and replays it once against the current volume.
func replayStroke(ctx context.Context, sess *session.Session, cfg *config.Config, r *renderer, stroke Stroke) (committed, retried bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		committed, err = paintOnce(ctx, sess, cfg, r, stroke)
		if !errors.Is(err, session.ErrConflict) {
			return committed, attempt > 0, err
		}
		if h := sess.Active(); h != nil {
			if cerr := sess.Cancel(ctx, h); cerr != nil {
				return false, attempt > 0, cerr
			}
		}
	}
	return false, true, err
}

func paintOnce(ctx context.Context, sess *session.Session, cfg *config.Config, r *renderer, stroke Stroke) (bool, error) {
	dims := r.labels.Dimensions()
	pipeline := cfg.Pipeline()
	if stroke.Pipeline != "" {
		p, err := strategy.ParsePipeline(stroke.Pipeline)
		if err != nil {
			return false, err
		}
		pipeline = p
	}
	previewSegment := cfg.PreviewSegment()
	if stroke.PreviewSegment != 0 {
		s := models.SegmentIndex(stroke.PreviewSegment)
		previewSegment = &s
	}

	seeds := make([]int, 0, len(stroke.Points))
	for _, p := range stroke.Points {
		if dims.Contains(p) {
			seeds = append(seeds, dims.Index(p))
		}
	}

	h, err := sess.BeginOperation(ctx, session.OperationConfig{
		SegmentIndex:        models.SegmentIndex(stroke.Segment),
		PreviewSegmentIndex: previewSegment,
		Pipeline:            pipeline,
		Threshold:           cfg.ThresholdConfig(),
		Island:              cfg.IslandConfig(),
		Interpolation:       cfg.InterpolationConfig(),
		Seeds:               seeds,
	})
	if err != nil {
		return false, err
	}

	radius := stroke.Radius
	if radius == 0 {
		radius = cfg.Brush.Radius
	}
	for _, seq := range brushPath(dims, stroke.Points, radius, cfg.Brush.Shape) {
		if _, err := sess.ApplyOverRegion(h, seq); err != nil {
			_ = sess.Cancel(ctx, h)
			return false, err
		}
	}

	if err := r.renderPreview(sess, h); err != nil {
		_ = sess.Cancel(ctx, h)
		return false, err
	}
	if stroke.Cancel {
		return false, sess.Cancel(ctx, h)
	}
	if _, err := sess.Commit(ctx, h); err != nil {
		return false, err
	}
	return true, nil
}

// renderer draws an in-progress stroke when dir is set.
type renderer struct {
	labels *voxel.LabelVolume
	image  *models.Volume
	dir    string
}

func (r *renderer) renderPreview(sess *session.Session, h *session.OperationHandle) error {
	if r.dir == "" {
		return nil
	}
	var previewErr error
	v := visualization.NewViewer(r.labels, r.labels.Dimensions()).
		WithImage(r.image, 0.6).
		WithPreview(func(index int) (models.SegmentIndex, bool) {
			value, ok, err := sess.PreviewValue(h, index)
			if err != nil && previewErr == nil {
				previewErr = err
			}
			return value, ok
		})
	if err := v.SaveSliceSequence("z", r.dir); err != nil {
		return fmt.Errorf("render preview: %w", err)
	}
	return previewErr
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

// brushPath turns consecutive brush positions into regions. Spheres are
// swept between points; circles are stamped at each point.
func brushPath(dims models.Dimensions, points []models.Coord, radius float64, shape string) []iter.Seq[int] {
	if len(points) == 0 {
		return nil
	}
	if shape == "circle" {
		out := make([]iter.Seq[int], len(points))
		for i, p := range points {
			out[i] = region.Circle(dims, p, radius)
		}
		return out
	}
	if len(points) == 1 {
		return []iter.Seq[int]{region.Sphere(dims, points[0], radius)}
	}
	out := make([]iter.Seq[int], 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		out = append(out, region.Stroke(dims, points[i-1], points[i], radius))
	}
	return out
}

// phantom builds a test image: a bright sphere at the centre with a dimmer
// shell around it over a dark background.
func phantom(dims models.Dimensions) *models.Volume {
	img := models.NewVolume(dims)
	cx := float64(dims.Width-1) / 2
	cy := float64(dims.Height-1) / 2
	cz := float64(dims.Depth-1) / 2
	rmax := math.Min(cx, math.Min(cy, math.Max(cz, 1)))
	for i := range img.Data {
		c := dims.Coord(i)
		d := math.Sqrt(math.Pow(float64(c.X)-cx, 2) + math.Pow(float64(c.Y)-cy, 2) + math.Pow(float64(c.Z)-cz, 2))
		switch {
		case d <= rmax*0.5:
			img.Data[i] = 0.9
		case d <= rmax*0.8:
			img.Data[i] = 0.5
		default:
			img.Data[i] = 0.1
		}
	}
	return img
}
