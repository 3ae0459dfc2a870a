package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"voxelseg/internal/models"
	"voxelseg/pkg/config"
)

var (
	configPath  string
	scriptPath  string
	outputDir   string
	metricsFile string
	axis        string
	stlPath     string
	stlSegment  uint16

	rootCmd = &cobra.Command{
		Use:   "voxelseg",
		Short: "Scripted voxel segmentation editing",
		Long: `voxelseg replays brush strokes against a label volume using the
segmentation strategy engine and writes the resulting slices as images.`,
		SilenceUsage: true,
	}

	paintCmd = &cobra.Command{
		Use:   "paint",
		Short: "Replay a stroke script against a synthetic phantom volume",
		RunE:  runPaint,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "voxelseg.yaml", "Configuration file (YAML)")

	paintCmd.Flags().StringVar(&scriptPath, "script", "", "Stroke script (YAML)")
	paintCmd.Flags().StringVar(&outputDir, "output", "slices", "Directory for rendered slices")
	paintCmd.Flags().StringVar(&axis, "axis", "z", "Axis to render slices along (x, y or z)")
	paintCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	paintCmd.Flags().StringVar(&stlPath, "stl", "", "Export the surface of --stl-segment to this STL file")
	paintCmd.Flags().Uint16Var(&stlSegment, "stl-segment", 1, "Segment to export with --stl")
	_ = paintCmd.MarkFlagRequired("script")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(paintCmd, configCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return cfg, nil
}

func runPaint(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	script, err := loadScript(scriptPath)
	if err != nil {
		return err
	}

	logger := cfg.NewLogger(os.Stderr)
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "================================")
	fmt.Fprintln(out, "VOXEL SEGMENTATION STROKE REPLAY")
	fmt.Fprintln(out, "================================")

	result, err := runScript(cmd.Context(), cfg, script, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Replayed %d strokes: %d committed, %d cancelled, %d retried after conflict\n",
		len(script.Strokes), result.Committed, result.Cancelled, result.Retried)
	fmt.Fprintln(out, "\nVoxels per segment:")
	for _, seg := range result.sortedSegments() {
		fmt.Fprintf(out, "- segment %d: %d\n", seg, result.Histogram[seg])
	}

	if err := result.Viewer.SaveSliceSequence(axis, outputDir); err != nil {
		return fmt.Errorf("save slices: %w", err)
	}
	fmt.Fprintf(out, "\nSlices along %s saved to: %s\n", axis, outputDir)

	if stlPath != "" {
		n, err := result.exportSurface(stlPath, models.SegmentIndex(stlSegment))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Segment %d surface (%d triangles) saved to: %s\n", stlSegment, n, stlPath)
	}

	if metricsFile != "" {
		if err := result.writeMetrics(metricsFile); err != nil {
			return err
		}
		fmt.Fprintf(out, "Metrics written to: %s\n", metricsFile)
	}
	return nil
}
