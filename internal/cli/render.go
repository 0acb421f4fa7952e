package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/pipeline"
)

// renderCommand creates the render command for drawing a settled board.
func (c *CLI) renderCommand() *cobra.Command {
	var (
		output     string
		formatsStr string
		noCache    bool
	)
	opts := pipeline.Options{}

	cmd := &cobra.Command{
		Use:   "render [board.json]",
		Short: "Render a board to SVG, DOT or JSON",
		Long: `Render a board to SVG, DOT or JSON.

The board is settled first (see 'layout'), then drawn with Graphviz using the
simulated positions as fixed coordinates. Regions are drawn as background
bands unless --bands=false.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeBoardFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Formats = parseFormats(formatsStr)
			if err := pipeline.ValidateFormats(opts.Formats); err != nil {
				return err
			}
			return c.runRender(cmd.Context(), args[0], opts, output, noCache)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (single format) or base path (multiple)")
	cmd.Flags().StringVarP(&formatsStr, "format", "f", "", "output format(s): svg (default), dot, json (comma-separated)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")
	cmd.Flags().BoolVar(&opts.Bands, "bands", true, "draw region bands")
	cmd.Flags().BoolVar(&opts.Links, "links", true, "draw links")
	cmd.Flags().BoolVar(&opts.Virtual, "virtual", false, "draw virtual buttons")
	addSettleFlags(cmd, &opts)
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)

	return cmd
}

func (c *CLI) runRender(ctx context.Context, input string, opts pipeline.Options, output string, noCache bool) error {
	g, err := graph.ReadGraphFile(input)
	if err != nil {
		return fmt.Errorf("load board %s: %w", input, err)
	}

	runner, err := c.newRunner(noCache)
	if err != nil {
		return fmt.Errorf("initialize runner: %w", err)
	}
	defer runner.Close()

	opts = c.mergeOptions(opts)

	spinner := newSpinnerWithContext(ctx, "Rendering board...")
	spinner.Start()
	opts.Progress = spinner.settleProgress()

	result, err := runner.Execute(ctx, g, opts)
	if err != nil {
		spinner.StopWithError("Render failed")
		return err
	}
	spinner.Stop()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	base := strings.TrimSuffix(input, filepath.Ext(input))
	paths := outputPaths(base, output, opts.Formats)
	for _, format := range opts.Formats {
		path := paths[format]
		if err := os.WriteFile(path, result.Artifacts[format], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}

	printSuccess("Rendered %s", strings.Join(opts.Formats, ", "))
	for _, format := range opts.Formats {
		printFile(paths[format])
	}
	printStats(result.Stats.EntityCount, result.Stats.LinkCount, result.Stats.Ticks,
		result.CacheInfo.SettleHit && result.CacheInfo.RenderHit)

	return nil
}

// outputPaths maps each format to a file. A single format is written to
// output as given; several formats share output (or base) as a stem. JSON
// gets a .layout.json suffix so it never replaces the input board.
func outputPaths(base, output string, formats []string) map[string]string {
	paths := make(map[string]string, len(formats))
	if output != "" && len(formats) == 1 {
		paths[formats[0]] = output
		return paths
	}
	stem := base
	if output != "" {
		stem = strings.TrimSuffix(output, filepath.Ext(output))
	}
	for _, format := range formats {
		if format == pipeline.FormatJSON {
			paths[format] = stem + ".layout.json"
			continue
		}
		paths[format] = stem + "." + format
	}
	return paths
}
