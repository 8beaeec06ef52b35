// internal/battle/damage.go
package battle

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/jason-s-yu/arena/internal/models"
)

//go:embed type_chart.json
var defaultChartJSON []byte

var defaultChart = mustLoadDefaultChart()

// TypeChart maps attacker/defender type pairs to damage multipliers. A chart is
// immutable once loaded and safe for concurrent use.
type TypeChart struct {
	superEffective   float64
	notVeryEffective float64
	types            map[models.ElementalType]struct{}
	matchups         map[matchup]float64
}

type matchup struct {
	attacker models.ElementalType
	defender models.ElementalType
}

// chartFile is the on-disk representation of a TypeChart.
type chartFile struct {
	SuperEffective   float64                                          `json:"superEffective"`
	NotVeryEffective float64                                          `json:"notVeryEffective"`
	Types            []models.ElementalType                           `json:"types"`
	StrongAgainst    map[models.ElementalType][]models.ElementalType `json:"strongAgainst"`
	WeakAgainst      map[models.ElementalType][]models.ElementalType `json:"weakAgainst"`
}

func mustLoadDefaultChart() *TypeChart {
	chart, err := parseTypeChart(defaultChartJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded type chart is invalid: %v", err))
	}
	return chart
}

// DefaultTypeChart returns the built-in chart covering the eighteen elemental types.
func DefaultTypeChart() *TypeChart {
	return defaultChart
}

// LoadTypeChart reads a chart in the JSON format of the built-in one.
func LoadTypeChart(r io.Reader) (*TypeChart, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read type chart: %w", err)
	}
	return parseTypeChart(data)
}

// LoadTypeChartFile reads a chart from path.
func LoadTypeChartFile(path string) (*TypeChart, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open type chart: %w", err)
	}
	defer f.Close()
	return LoadTypeChart(f)
}

func parseTypeChart(data []byte) (*TypeChart, error) {
	var file chartFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode type chart: %w", err)
	}
	if file.SuperEffective <= 1 {
		return nil, fmt.Errorf("superEffective multiplier must be greater than 1, got %v", file.SuperEffective)
	}
	if file.NotVeryEffective <= 0 || file.NotVeryEffective >= 1 {
		return nil, fmt.Errorf("notVeryEffective multiplier must be in (0, 1), got %v", file.NotVeryEffective)
	}

	chart := &TypeChart{
		superEffective:   file.SuperEffective,
		notVeryEffective: file.NotVeryEffective,
		types:            make(map[models.ElementalType]struct{}, len(file.Types)),
		matchups:         make(map[matchup]float64),
	}
	for _, t := range file.Types {
		chart.types[t] = struct{}{}
	}

	add := func(table map[models.ElementalType][]models.ElementalType, multiplier float64) error {
		for attacker, defenders := range table {
			if !chart.Known(attacker) {
				return fmt.Errorf("unknown attacker type %q", attacker)
			}
			for _, defender := range defenders {
				if !chart.Known(defender) {
					return fmt.Errorf("unknown defender type %q for attacker %q", defender, attacker)
				}
				key := matchup{attacker: attacker, defender: defender}
				if _, dup := chart.matchups[key]; dup {
					return fmt.Errorf("matchup %s vs %s listed more than once", attacker, defender)
				}
				chart.matchups[key] = multiplier
			}
		}
		return nil
	}
	if err := add(file.StrongAgainst, file.SuperEffective); err != nil {
		return nil, err
	}
	if err := add(file.WeakAgainst, file.NotVeryEffective); err != nil {
		return nil, err
	}
	return chart, nil
}

// Known reports whether t is one of the chart's types.
func (c *TypeChart) Known(t models.ElementalType) bool {
	_, ok := c.types[t]
	return ok
}

// Multiplier returns the damage factor for attacker hitting defender. Unlisted pairs,
// including unknown types, are neutral.
func (c *TypeChart) Multiplier(attacker, defender models.ElementalType) float64 {
	if m, ok := c.matchups[matchup{attacker: attacker, defender: defender}]; ok {
		return m
	}
	return 1
}

// Damage returns floor(attack * multiplier), never negative.
func (c *TypeChart) Damage(attack int, attacker, defender models.ElementalType) int {
	if attack <= 0 {
		return 0
	}
	return int(math.Floor(float64(attack) * c.Multiplier(attacker, defender)))
}

// Damage resolves an attack with the built-in chart.
func Damage(attack int, attacker, defender models.ElementalType) int {
	return defaultChart.Damage(attack, attacker, defender)
}
