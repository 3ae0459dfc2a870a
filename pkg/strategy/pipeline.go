package strategy

import (
	"fmt"
	"strings"
)

// Pipeline names a built-in strategy.
type Pipeline string

const (
	PipelineFill            Pipeline = "fill"
	PipelineErase           Pipeline = "erase"
	PipelineThresholdPaint  Pipeline = "threshold-paint"
	PipelineIslandRemoval   Pipeline = "island-removal"
	PipelineInterpolateFill Pipeline = "interpolate-fill"
)

// Pipelines lists every built-in pipeline.
func Pipelines() []Pipeline {
	return []Pipeline{
		PipelineFill,
		PipelineErase,
		PipelineThresholdPaint,
		PipelineIslandRemoval,
		PipelineInterpolateFill,
	}
}

// ParsePipeline resolves a pipeline name, ignoring case and surrounding space.
func ParsePipeline(name string) (Pipeline, error) {
	p := Pipeline(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Pipelines() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
}

// Erases reports whether the pipeline writes background.
func (p Pipeline) Erases() bool { return p == PipelineErase }

// Build returns the step pipeline for p.
func (p Pipeline) Build() (*Strategy, error) {
	var steps []Step
	switch p {
	case PipelineFill, PipelineErase:
		steps = []Step{SetValue{}}
	case PipelineThresholdPaint:
		steps = []Step{Threshold{}, SetValue{}}
	case PipelineIslandRemoval:
		steps = []Step{Threshold{}, SetValue{}, IslandFilter{}}
	case PipelineInterpolateFill:
		steps = []Step{SetValue{}, Interpolate{}}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, string(p))
	}
	s := Compose(steps...)
	s.name = string(p)
	return s, nil
}
