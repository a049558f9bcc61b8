package plant

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Limit is one configured operating limit. Key is a variable name or its
// telemetry path.
type Limit struct {
	Key  string  `json:"mapping_key" yaml:"mapping_key"`
	Low  float64 `json:"ll" yaml:"ll"`
	High float64 `json:"hl" yaml:"hl"`
}

// Profile is the optional plant file: operating limits and default prices.
type Profile struct {
	Segment         string             `yaml:"segment"`
	OperatingLimits []Limit            `yaml:"operating_limits"`
	Pricing         map[string]float64 `yaml:"pricing"`
}

// LoadProfile reads a plant file. Limit keys must name a declared variable.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plant file: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a plant file from memory.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plant file: %w", err)
	}
	for _, l := range p.OperatingLimits {
		_, isControl := ControlByKey(l.Key)
		_, isConstraint := ConstraintByKey(l.Key)
		if !isControl && !isConstraint {
			return nil, fmt.Errorf("plant file: unknown variable %q", l.Key)
		}
	}
	return &p, nil
}
