package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/pipeline"
)

// layoutCommand creates the layout command for settling a board file offline.
func (c *CLI) layoutCommand() *cobra.Command {
	var (
		output  string
		noCache bool
	)
	opts := pipeline.Options{}

	cmd := &cobra.Command{
		Use:   "layout [board.json]",
		Short: "Settle a board file and write the resulting positions",
		Long: `Settle a board file and write the resulting positions.

The layout command runs the same simulation the server runs, headlessly and
deterministically for a given seed, until the board cools or the tick budget
runs out. The output is a board file with every entity placed inside its
region.

Settled layouts are cached locally for faster subsequent runs.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeBoardFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLayout(cmd.Context(), args[0], opts, output, noCache)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: <input>.layout.json)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable caching")
	addSettleFlags(cmd, &opts)

	return cmd
}

// addSettleFlags registers the flags shared by layout and render. Zero values
// fall back to the configuration.
func addSettleFlags(cmd *cobra.Command, opts *pipeline.Options) {
	cmd.Flags().Float64Var(&opts.Width, "width", 0, "canvas width (default from config)")
	cmd.Flags().Float64Var(&opts.Height, "height", 0, "canvas height (default from config)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", pipeline.DefaultSeed, "random seed for placement jitter")
	cmd.Flags().IntVar(&opts.MaxTicks, "max-ticks", pipeline.DefaultMaxTicks, "tick budget")
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "ignore cached results")
}

// mergeOptions fills options the user left at zero from the configuration.
func (c *CLI) mergeOptions(opts pipeline.Options) pipeline.Options {
	base := c.pipelineOptions()
	if opts.Width == 0 {
		opts.Width = base.Width
	}
	if opts.Height == 0 {
		opts.Height = base.Height
	}
	opts.Logger = c.Logger
	return opts
}

// runLayout loads the board, settles it, and writes output.
func (c *CLI) runLayout(ctx context.Context, input string, opts pipeline.Options, output string, noCache bool) error {
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

	spinner := newSpinnerWithContext(ctx, "Settling board...")
	spinner.Start()
	opts.Progress = spinner.settleProgress()

	res, cacheHit, err := runner.SettleWithCacheInfo(ctx, g, opts)
	if err != nil {
		spinner.StopWithError("Layout failed")
		return fmt.Errorf("settle: %w", err)
	}
	spinner.Stop()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	outputPath := output
	if outputPath == "" {
		base := strings.TrimSuffix(input, filepath.Ext(input))
		outputPath = base + ".layout.json"
	}

	if err := graph.WriteGraphFile(res.Board, outputPath); err != nil {
		return fmt.Errorf("write output %s: %w", outputPath, err)
	}

	if res.Settled {
		printSuccess("Layout complete")
	} else {
		printWarning("Tick budget ran out before the board cooled")
	}
	printFile(outputPath)
	printStats(len(res.Board.Entities), len(res.Board.Links), res.Ticks, cacheHit)
	printRegionSummary(res.Board)
	printNextStep("Render", appName+" render "+outputPath)

	return nil
}
