package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leanspace/flowboard/pkg/errors"
	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/region"
)

// importCommand creates the import command that loads a board file into the
// configured backend.
func (c *CLI) importCommand() *cobra.Command {
	var (
		settle  bool
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "import [board.json]",
		Short: "Load a board file into the configured backend",
		Long: `Load a board file into the configured backend.

Entities and links without an id get a random one. Entities without a region
are assigned the region their position falls in; entities without a usable
position are placed inside their region. Invalid entries are skipped with a
warning. With --settle the board is laid out before it is written.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeBoardFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runImport(cmd.Context(), args[0], settle, noCache)
		},
	}

	cmd.Flags().BoolVar(&settle, "settle", false, "settle the board before writing it")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the layout cache when settling")

	return cmd
}

func (c *CLI) runImport(ctx context.Context, input string, settle, noCache bool) error {
	cfg := c.settings()

	f, err := os.Open(input)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileNotFound, err, "open board %s", input)
	}
	g, _, err := graph.ReadGraphChecked(f)
	f.Close()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "read board %s", input)
	}

	board, rep := prepareImport(g, cfg.Geometry())
	for _, err := range rep.skipped {
		c.Logger.Warn("skipping", "err", err)
	}
	if rep.placed > 0 {
		c.Logger.Info("placed entities without a usable position", "count", rep.placed)
	}

	if settle {
		runner, err := c.newRunner(noCache)
		if err != nil {
			return fmt.Errorf("initialize runner: %w", err)
		}
		defer runner.Close()
		res, _, err := runner.SettleWithCacheInfo(ctx, board, c.pipelineOptions())
		if err != nil {
			return fmt.Errorf("settle: %w", err)
		}
		board = res.Board
	}

	backend, err := openBackend(ctx, cfg.Persist, c.Logger)
	if err != nil {
		return fmt.Errorf("open backend %s: %w", describeBackend(cfg.Persist), err)
	}
	defer closeBackend(backend, c.Logger)

	prog := newProgress(c.Logger)
	if err := writeBoard(ctx, backend, board); err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Imported %d entities and %d links into %s",
		len(board.Entities), len(board.Links), describeBackend(cfg.Persist)))

	printSuccess("Import complete")
	printStats(len(board.Entities), len(board.Links), 0, false)
	printRegionSummary(board)
	if len(rep.skipped) > 0 {
		printWarning("%d invalid entries skipped", len(rep.skipped))
	}
	return nil
}

type importReport struct {
	skipped []error
	placed  int
}

// prepareImport turns a board file into a durable board that passes
// validation: ids are generated, regions inferred, positions placed and
// clamped, invalid entries dropped.
func prepareImport(g graph.Graph, geom region.Geometry) (graph.Graph, importReport) {
	var rep importReport
	g = g.Durable()
	hint := region.BuildHint(g.Entities)

	out := graph.Graph{
		Entities: make([]graph.Entity, 0, len(g.Entities)),
		Links:    make([]graph.Link, 0, len(g.Links)),
	}
	for _, e := range g.Entities {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Region == "" && e.Position.Finite() {
			e.Region = geom.Locate(e.Position.Y, hint)
		}
		if err := errors.ValidateEntity(e); err != nil {
			rep.skipped = append(rep.skipped, err)
			continue
		}
		if !e.Position.Finite() {
			e.Position = geom.Fallback(e.ID, e.Region, hint)
			rep.placed++
		}
		e.Position = geom.Clamp(e.Region, e.Position, hint)
		out.Entities = append(out.Entities, e)
	}
	for _, l := range g.Links {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if err := errors.ValidateLink(l); err != nil {
			rep.skipped = append(rep.skipped, err)
			continue
		}
		out.Links = append(out.Links, l)
	}
	return out, rep
}

// writeBoard stores every entity and link, retrying transient failures.
func writeBoard(ctx context.Context, b persist.Backend, g graph.Graph) error {
	for _, e := range g.Entities {
		if err := persist.RetryWithBackoff(ctx, persist.DefaultBackoff, func() error { return b.SaveEntity(ctx, e) }); err != nil {
			return errors.Wrap(errors.ErrCodeStorage, err, "save entity %s", e.ID)
		}
	}
	for _, l := range g.Links {
		if err := persist.RetryWithBackoff(ctx, persist.DefaultBackoff, func() error { return b.SaveLink(ctx, l) }); err != nil {
			return errors.Wrap(errors.ErrCodeStorage, err, "save link %s", l.ID)
		}
	}
	return nil
}
