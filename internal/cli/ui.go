package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/leanspace/flowboard/pkg/graph"
)

// stdout receives all user-facing output. Tests swap it out.
var stdout io.Writer = os.Stdout

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorCyan   = lipgloss.Color("36")  // Teal - primary actions
	colorGreen  = lipgloss.Color("35")  // Green - success
	colorYellow = lipgloss.Color("220") // Amber - warnings
	colorRed    = lipgloss.Color("167") // Soft red - errors
	colorBlue   = lipgloss.Color("75")  // Light blue - commands
	colorWhite  = lipgloss.Color("255") // Bright white - values
	colorGray   = lipgloss.Color("245") // Gray - secondary text
	colorDim    = lipgloss.Color("240") // Dim gray - muted text
)

// regionColors gives each board region its own hue, top to bottom.
var regionColors = map[graph.Region]lipgloss.Color{
	graph.RegionKnowledgeBase: lipgloss.Color("111"),
	graph.RegionIdeaStock:     lipgloss.Color("179"),
	graph.RegionBuild:         lipgloss.Color("36"),
	graph.RegionMeasure:       lipgloss.Color("140"),
	graph.RegionLearn:         lipgloss.Color("167"),
}

func regionStyle(r graph.Region) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(regionColors[r])
}

// =============================================================================
// Styles
// =============================================================================

var (
	// StyleTitle for main headings.
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)

	// StyleHighlight for emphasized values.
	StyleHighlight = lipgloss.NewStyle().Foreground(colorCyan)

	// StyleDim for secondary/muted text.
	StyleDim = lipgloss.NewStyle().Foreground(colorDim)

	// StyleValue for data values.
	StyleValue = lipgloss.NewStyle().Foreground(colorWhite)

	// StyleSuccess for success messages.
	StyleSuccess = lipgloss.NewStyle().Foreground(colorGreen)

	// StyleWarning for warning messages.
	StyleWarning = lipgloss.NewStyle().Foreground(colorYellow)
)

var (
	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconError   = lipgloss.NewStyle().Foreground(colorRed)
	styleIconWarning = lipgloss.NewStyle().Foreground(colorYellow)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
	styleIconSpinner = lipgloss.NewStyle().Foreground(colorCyan)

	styleCached   = lipgloss.NewStyle().Foreground(colorGreen)
	styleComputed = lipgloss.NewStyle().Foreground(colorGray)
	styleCommand  = lipgloss.NewStyle().Foreground(colorBlue)
	styleKey      = lipgloss.NewStyle().Foreground(colorGray).Width(10)
)

const (
	iconSuccess = "✓"
	iconError   = "✗"
	iconWarning = "!"
	iconInfo    = "›"
	iconArrow   = "→"
)

// =============================================================================
// Status Output
// =============================================================================

func printStatus(icon string, style lipgloss.Style, msg string) {
	fmt.Fprintln(stdout, style.Render(icon)+" "+msg)
}

func printSuccess(format string, args ...any) {
	printStatus(iconSuccess, styleIconSuccess, fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	printStatus(iconError, styleIconError, fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	printStatus(iconWarning, styleIconWarning, StyleWarning.Render(fmt.Sprintf(format, args...)))
}

func printInfo(format string, args ...any) {
	printStatus(iconInfo, styleIconInfo, fmt.Sprintf(format, args...))
}

// printDetail prints an indented, dimmed line under a status line.
func printDetail(format string, args ...any) {
	fmt.Fprintln(stdout, "  "+StyleDim.Render(fmt.Sprintf(format, args...)))
}

// printFile prints a written output file.
func printFile(path string) {
	fmt.Fprintln(stdout, "  "+StyleDim.Render(iconArrow)+" "+StyleValue.Render(path))
}

// printKeyValue prints a labeled value.
func printKeyValue(key, value string) {
	fmt.Fprintln(stdout, "  "+styleKey.Render(key)+" "+StyleValue.Render(value))
}

// printNextStep prints a suggested follow-up command after a blank line.
func printNextStep(description, cmd string) {
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, StyleDim.Render(description+":")+" "+styleCommand.Render(cmd))
}

// =============================================================================
// Board Summaries
// =============================================================================

// printStats prints board statistics on a single line. Zero counts are
// left out.
func printStats(entityCount, linkCount, ticks int, cached bool) {
	var parts []string
	if entityCount > 0 {
		parts = append(parts, StyleDim.Render(fmt.Sprintf("%d entities", entityCount)))
	}
	if linkCount > 0 {
		parts = append(parts, StyleDim.Render(fmt.Sprintf("%d links", linkCount)))
	}
	if ticks > 0 {
		parts = append(parts, StyleDim.Render(fmt.Sprintf("%d ticks", ticks)))
	}
	if cached {
		parts = append(parts, styleCached.Render("cached"))
	} else {
		parts = append(parts, styleComputed.Render("fresh"))
	}
	fmt.Fprintln(stdout, "  "+strings.Join(parts, StyleDim.Render(" · ")))
}

// regionCounts tallies durable entities and the links whose endpoints are
// both in the same region.
func regionCounts(g graph.Graph) (entities, internal map[graph.Region]int) {
	entities = make(map[graph.Region]int)
	internal = make(map[graph.Region]int)
	where := make(map[string]graph.Region, len(g.Entities))
	for _, e := range g.Entities {
		if e.Virtual {
			continue
		}
		entities[e.Region]++
		where[e.ID] = e.Region
	}
	for _, l := range g.Links {
		src, ok1 := where[l.Source]
		dst, ok2 := where[l.Target]
		if ok1 && ok2 && src == dst && !l.Synthetic {
			internal[src]++
		}
	}
	return entities, internal
}

// printRegionSummary prints one table row per region, top to bottom.
func printRegionSummary(g graph.Graph) {
	entities, internal := regionCounts(g)
	rows := make([][]string, 0, len(graph.Regions))
	for _, r := range graph.Regions {
		rows = append(rows, []string{string(r), fmt.Sprint(entities[r]), fmt.Sprint(internal[r])})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Region", "Entities", "Links").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == -1:
				return lipgloss.NewStyle().Foreground(colorGray).Bold(true).Padding(0, 1)
			case col == 0:
				return regionStyle(graph.Regions[row]).Padding(0, 1)
			}
			return lipgloss.NewStyle().Foreground(colorWhite).Padding(0, 1).Align(lipgloss.Right)
		})
	fmt.Fprintln(stdout, t.Render())
}
