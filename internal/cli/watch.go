package cli

import (
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/layout"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/region"
	"github.com/leanspace/flowboard/pkg/store"
)

// watchWake is how long the w key keeps a settled board ticking.
const watchWake = 2 * time.Second

// Watch styles
var (
	watchMapStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDim)
	watchHelpStyle   = lipgloss.NewStyle().Foreground(colorDim)
	watchSelectStyle = lipgloss.NewStyle().Bold(true).Foreground(colorYellow)
)

// kindGlyphs marks entities on the minimap.
var kindGlyphs = map[graph.Kind]rune{
	graph.KindMemo:        'm',
	graph.KindTag:         '#',
	graph.KindProposal:    'p',
	graph.KindResearch:    'r',
	graph.KindTask:        't',
	graph.KindMVP:         'V',
	graph.KindDashboard:   'D',
	graph.KindImprovement: 'i',
	graph.KindButton:      '•',
}

var regionTags = map[graph.Region]string{
	graph.RegionKnowledgeBase: "KB",
	graph.RegionIdeaStock:     "ID",
	graph.RegionBuild:         "BU",
	graph.RegionMeasure:       "ME",
	graph.RegionLearn:         "LE",
}

// watchCommand creates the watch command.
func (c *CLI) watchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [board.json]",
		Short: "Watch a board settle in the terminal",
		Long: `Watch a board settle in the terminal.

Without an argument the board is read from the configured backend. The view is
read-only: nothing is written back.

Keys: tab selects the next entity and shows its buttons, esc clears the
selection, w keeps the simulation running briefly, q quits.`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeBoardFile,
		RunE: func(cmd *cobra.Command, args []string) error {
			var input string
			if len(args) == 1 {
				input = args[0]
			}
			return c.runWatch(cmd.Context(), input)
		},
	}
	return cmd
}

func (c *CLI) runWatch(ctx context.Context, input string) error {
	cfg := c.settings()
	geom := cfg.Geometry()

	st := store.New()
	if input != "" {
		g, err := graph.ReadGraphFile(input)
		if err != nil {
			return fmt.Errorf("load board %s: %w", input, err)
		}
		st.Load(g.Durable(), "file")
	} else {
		backend, err := openBackend(ctx, cfg.Persist, c.Logger)
		if err != nil {
			return fmt.Errorf("open backend %s: %w", describeBackend(cfg.Persist), err)
		}
		_, err = persist.Load(ctx, backend, st, geom)
		closeBackend(backend, c.Logger)
		if err != nil {
			return err
		}
	}

	// The TUI owns the terminal; engine logs would tear the view.
	opts := cfg.Engine(newLogger(io.Discard, LogInfo))
	eng := layout.New(st, opts)
	defer eng.Close()

	p := tea.NewProgram(newWatchModel(eng, st, geom), tea.WithContext(ctx), tea.WithAltScreen())
	eng.OnFrame(func(f layout.Frame) { p.Send(frameMsg(f)) })
	eng.Rebuild()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// =============================================================================
// watchModel - live simulation view
// =============================================================================

type frameMsg layout.Frame

type watchModel struct {
	engine *layout.Engine
	store  *store.Store
	geom   region.Geometry

	frame   layout.Frame
	frames  int
	started time.Time
	ids     []string // durable entity ids, for tab selection
	cursor  int
	width   int
	height  int
}

func newWatchModel(eng *layout.Engine, st *store.Store, geom region.Geometry) watchModel {
	m := watchModel{engine: eng, store: st, geom: geom, started: time.Now(), cursor: -1, width: 80, height: 32}
	for _, e := range st.Snapshot().Durable().Entities {
		m.ids = append(m.ids, e.ID)
	}
	slices.Sort(m.ids)
	return m
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.frame = layout.Frame(msg)
		m.frames++
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab":
			if len(m.ids) > 0 {
				m.cursor = (m.cursor + 1) % len(m.ids)
				_, _ = m.engine.Select(m.ids[m.cursor])
			}
		case "esc":
			m.cursor = -1
			m.engine.Deselect()
		case "w":
			m.engine.Wake(watchWake)
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("flowboard watch"))
	b.WriteString("  ")
	b.WriteString(m.status())
	b.WriteString("\n\n")

	board := m.store.Snapshot()
	b.WriteString(watchMapStyle.Render(m.minimap(board)))
	b.WriteString("\n")
	b.WriteString(m.regionTable(board))
	b.WriteString("\n")
	if m.cursor >= 0 && m.cursor < len(m.ids) {
		b.WriteString(watchSelectStyle.Render("selected " + m.ids[m.cursor]))
		b.WriteString("\n")
	}
	b.WriteString(watchHelpStyle.Render("tab select  esc clear  w wake  q quit"))
	return b.String()
}

func (m watchModel) status() string {
	state := StyleWarning.Render("cooling")
	if m.frame.Settled {
		state = StyleSuccess.Render("settled")
	}
	return StyleDim.Render(fmt.Sprintf("alpha %s  frames %d  ", alphaBar(m.frame.Alpha, 20), m.frames)) + state
}

// alphaBar draws the temperature on a log scale from the settle floor to 1.
func alphaBar(alpha float64, width int) string {
	filled := 0
	if alpha > 0 {
		frac := (math.Log10(alpha) + 3) / 3
		filled = int(math.Round(math.Max(0, math.Min(1, frac)) * float64(width)))
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("·", width-filled) + "]"
}

// minimap plots every simulated position on a character grid of the canvas.
// Each row is tagged with the region its centre line falls in.
func (m watchModel) minimap(board graph.Graph) string {
	cols := max(20, min(m.width-8, 72))
	rows := max(10, min(m.height-16, 30))
	hint := m.engine.BuildHint()
	canvas := m.geom.Canvas(hint)

	grid := make([][]rune, rows)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", cols))
	}
	kinds := make(map[string]graph.Kind, len(board.Entities))
	for _, e := range board.Entities {
		kinds[e.ID] = e.Kind
	}
	plot := func(id string, p graph.Position) {
		if !p.Finite() {
			return
		}
		col := int((p.X - canvas.MinX) / canvas.Width() * float64(cols))
		row := int((p.Y - canvas.MinY) / canvas.Height() * float64(rows))
		if col < 0 || col >= cols || row < 0 || row >= rows {
			return
		}
		glyph, ok := kindGlyphs[kinds[id]]
		if !ok {
			glyph = '?'
		}
		grid[row][col] = glyph
	}
	for id, p := range m.frame.Positions {
		plot(id, p)
	}
	for id, p := range m.frame.Overlay {
		plot(id, p)
	}

	lines := make([]string, rows)
	for i, row := range grid {
		y := canvas.MinY + (float64(i)+0.5)/float64(rows)*canvas.Height()
		r := m.geom.Locate(y, hint)
		tag := regionTags[r]
		lines[i] = regionStyle(r).Render(tag) + " " + string(row)
	}
	return strings.Join(lines, "\n")
}

func (m watchModel) regionTable(board graph.Graph) string {
	counts := make(map[graph.Region]int)
	for _, e := range board.Entities {
		if !e.Virtual {
			counts[e.Region]++
		}
	}
	hint := m.engine.BuildHint()
	rows := make([][]string, 0, len(graph.Regions))
	for _, r := range graph.Regions {
		bounds := m.geom.Bounds(r, hint)
		rows = append(rows, []string{
			regionTags[r],
			string(r),
			fmt.Sprintf("%d", counts[r]),
			fmt.Sprintf("%.0f–%.0f", bounds.MinY, bounds.MaxY),
		})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Region", "Entities", "Y range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if col == 2 {
				return lipgloss.NewStyle().Foreground(colorCyan)
			}
			return lipgloss.NewStyle().Foreground(colorWhite)
		})
	return t.Render()
}
