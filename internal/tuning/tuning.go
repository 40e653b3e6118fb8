package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz     int     `yaml:"tick_rate_hz"`
	CellSize       float64 `yaml:"cell_size"`
	RenderDistance int     `yaml:"render_distance"`
	BaseElevation  float64 `yaml:"base_elevation"`

	Walker Walker `yaml:"walker"`

	JournalEnabled bool `yaml:"journal_enabled"`
	IndexEnabled   bool `yaml:"index_enabled"`
}

type Walker struct {
	Speed float64      `yaml:"speed"`
	Path  [][2]float64 `yaml:"path"` // [x, z] waypoints
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:     20,
		CellSize:       50,
		RenderDistance: 2,
		BaseElevation:  0,
		Walker: Walker{
			Speed: 12,
			Path:  [][2]float64{{0, 0}, {300, 0}, {300, 300}, {-150, 300}, {-150, -150}, {0, 0}},
		},
		JournalEnabled: true,
		IndexEnabled:   true,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = Defaults().TickRateHz
	}
	return t, nil
}
