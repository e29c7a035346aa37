package report

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Align(lipgloss.Center)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Coverage counts, per target attribute, how many entities carried it before
// and after resolution.
type Coverage struct {
	targets []string
	total   int
	before  map[string]int
	after   map[string]int
}

// CoverageRow is one attribute's coverage in percent.
type CoverageRow struct {
	Attribute string  `yaml:"attribute"`
	Before    float64 `yaml:"before"`
	After     float64 `yaml:"after"`
}

func NewCoverage(targets []string, total int) *Coverage {
	ts := append([]string(nil), targets...)
	sort.Strings(ts)
	return &Coverage{targets: ts, total: total, before: map[string]int{}, after: map[string]int{}}
}

// Before counts the attributes an entity had before resolution.
func (c *Coverage) Before(keys []string) { c.count(c.before, keys) }

// After counts the attributes an entity had after resolution.
func (c *Coverage) After(keys []string) { c.count(c.after, keys) }

func (c *Coverage) count(into map[string]int, keys []string) {
	for _, k := range keys {
		into[k]++
	}
}

// Rows returns one row per target attribute, sorted by name.
func (c *Coverage) Rows() []CoverageRow {
	out := make([]CoverageRow, 0, len(c.targets))
	for _, t := range c.targets {
		out = append(out, CoverageRow{
			Attribute: t,
			Before:    percent(c.before[t], c.total),
			After:     percent(c.after[t], c.total),
		})
	}
	return out
}

func percent(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// Render draws the coverage table.
func (c *Coverage) Render() string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("attribute", "coverage before", "coverage after").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range c.Rows() {
		t.Row(r.Attribute, fmt.Sprintf("%.2f%%", r.Before), fmt.Sprintf("%.2f%%", r.After))
	}
	return t.Render()
}
