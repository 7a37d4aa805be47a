// Package tuning loads the engine configuration from YAML and applies
// defaults and validation.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	// Grid cell size per axis; 0 flattens the axis.
	ZoneSize []int `yaml:"zone_size"`

	// Client window radius in cells per axis.
	ZoneRadius []int `yaml:"zone_radius"`

	HistoryBacklog int `yaml:"history_backlog"`

	CollectionPeriodMs int `yaml:"collection_period_ms"`
	IdleSleepMs        int `yaml:"idle_sleep_ms"` // -1 busy-waits

	// DynamicRanges lifts the two-cells-per-axis cap on object extents.
	DynamicRanges bool `yaml:"dynamic_ranges"`

	MaxMessageSize int `yaml:"max_message_size"`

	Protocol Protocol `yaml:"protocol"`

	JournalDir string `yaml:"journal_dir"`
	IndexDB    string `yaml:"index_db"`
}

type Protocol struct {
	ZoneIDBits int `yaml:"zone_id_bits"`
	IDBits     int `yaml:"id_bits"`

	PositionAxisBits int     `yaml:"position_axis_bits"`
	PositionMin      float64 `yaml:"position_min"`
	PositionMax      float64 `yaml:"position_max"`

	RotationComponentBits int `yaml:"rotation_component_bits"`
}

func Defaults() Tuning {
	return Tuning{
		ZoneSize:           []int{32, 32, 32},
		ZoneRadius:         []int{1, 1, 1},
		HistoryBacklog:     12,
		CollectionPeriodMs: 50,
		IdleSleepMs:        1,
		MaxMessageSize:     1500,
		Protocol: Protocol{
			ZoneIDBits:            8,
			IDBits:                64,
			PositionAxisBits:      16,
			PositionMin:           -10,
			PositionMax:           42,
			RotationComponentBits: 12,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if len(t.ZoneSize) != 3 {
		return fmt.Errorf("tuning: zone_size needs 3 entries, got %d", len(t.ZoneSize))
	}
	if len(t.ZoneRadius) != 3 {
		return fmt.Errorf("tuning: zone_radius needs 3 entries, got %d", len(t.ZoneRadius))
	}
	for _, r := range t.ZoneRadius {
		if r < 0 {
			return fmt.Errorf("tuning: negative zone radius %d", r)
		}
	}
	if t.HistoryBacklog < 2 {
		return fmt.Errorf("tuning: history_backlog %d too small", t.HistoryBacklog)
	}
	if t.CollectionPeriodMs <= 0 {
		return fmt.Errorf("tuning: collection_period_ms must be positive")
	}
	if t.MaxMessageSize < 128 {
		return fmt.Errorf("tuning: max_message_size %d too small", t.MaxMessageSize)
	}
	p := t.Protocol
	if p.ZoneIDBits < 1 || p.ZoneIDBits > 31 {
		return fmt.Errorf("tuning: zone_id_bits %d out of range", p.ZoneIDBits)
	}
	if p.IDBits < 1 || p.IDBits > 64 {
		return fmt.Errorf("tuning: id_bits %d out of range", p.IDBits)
	}
	if p.PositionAxisBits < 1 || p.PositionAxisBits*3 > 63 {
		return fmt.Errorf("tuning: position_axis_bits %d out of range", p.PositionAxisBits)
	}
	if p.PositionMin >= p.PositionMax {
		return fmt.Errorf("tuning: position range [%g, %g] is empty", p.PositionMin, p.PositionMax)
	}
	if p.RotationComponentBits < 2 || 2+p.RotationComponentBits*3 > 63 {
		return fmt.Errorf("tuning: rotation_component_bits %d out of range", p.RotationComponentBits)
	}

	// The smallest useful window must leave room for one object state
	// beyond the frame header; a too-small message size shows up later
	// as split-impossible errors, so catch it here.
	minBits := (t.MaxMessageSize - 128) * 8
	stateBits := 21 + p.ZoneIDBits + 2*p.IDBits + 3*p.PositionAxisBits + 2 + 3*p.RotationComponentBits
	if minBits < 208+stateBits {
		return fmt.Errorf("tuning: max_message_size %d cannot carry a full object state", t.MaxMessageSize)
	}
	return nil
}
