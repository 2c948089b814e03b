// Package netsim degrades traffic the way a real rover uplink would:
// latency, jitter, loss, corruption, duplication, reordering, bandwidth
// ceilings, and whole-connection drops.
package netsim

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wtyler2505/roverhal/model"
)

// Profile parameterises one link's impairments.
type Profile struct {
	Name string `yaml:"name" json:"name"`

	// Latency is the deterministic one-way delay; Jitter is the sigma of
	// the gaussian term added on top.
	Latency model.Duration `yaml:"latency" json:"latency"`
	Jitter  model.Duration `yaml:"jitter" json:"jitter"`

	// Independent per-packet probability gates, each in [0,1].
	LossProbability        float64 `yaml:"loss_probability" json:"loss_probability"`
	CorruptionProbability  float64 `yaml:"corruption_probability" json:"corruption_probability"`
	DuplicationProbability float64 `yaml:"duplication_probability" json:"duplication_probability"`
	ReorderProbability     float64 `yaml:"reorder_probability" json:"reorder_probability"`

	// BandwidthBPS throttles the sender; zero means unthrottled.
	BandwidthBPS int `yaml:"bandwidth_bps" json:"bandwidth_bps"`

	// DropsPerHour injects whole-connection outages at this average rate;
	// RecoveryWindow bounds how long each outage lasts (randomised around
	// the configured value).
	DropsPerHour   float64        `yaml:"drops_per_hour" json:"drops_per_hour"`
	RecoveryWindow model.Duration `yaml:"recovery_window" json:"recovery_window"`

	// SpikeProbability adds a rare large latency multiplier, the burst
	// behaviour of shared links.
	SpikeProbability float64 `yaml:"spike_probability" json:"spike_probability"`
	SpikeMultiplier  float64 `yaml:"spike_multiplier" json:"spike_multiplier"`
}

// Validate checks probability bounds and non-negative parameters.
func (p *Profile) Validate() error {
	for _, pr := range []struct {
		name  string
		value float64
	}{
		{"loss_probability", p.LossProbability},
		{"corruption_probability", p.CorruptionProbability},
		{"duplication_probability", p.DuplicationProbability},
		{"reorder_probability", p.ReorderProbability},
		{"spike_probability", p.SpikeProbability},
	} {
		if pr.value < 0 || pr.value > 1 {
			return fmt.Errorf("netsim profile %q: %s %v out of [0,1]", p.Name, pr.name, pr.value)
		}
	}
	if p.Latency < 0 || p.Jitter < 0 || p.RecoveryWindow < 0 {
		return fmt.Errorf("netsim profile %q: negative duration", p.Name)
	}
	if p.BandwidthBPS < 0 || p.DropsPerHour < 0 {
		return fmt.Errorf("netsim profile %q: negative rate", p.Name)
	}
	return nil
}

// Built-in presets. Custom YAML files can extend or override them.
var presets = map[string]Profile{
	"ideal": {
		Name: "ideal",
	},
	"satellite": {
		Name:             "satellite",
		Latency:          model.Duration(600 * time.Millisecond),
		Jitter:           model.Duration(50 * time.Millisecond),
		LossProbability:  0.02,
		BandwidthBPS:     512_000,
		DropsPerHour:     2,
		RecoveryWindow:   model.Duration(15 * time.Second),
		SpikeProbability: 0.01,
		SpikeMultiplier:  3,
	},
	"cellular_4g": {
		Name:             "cellular_4g",
		Latency:          model.Duration(60 * time.Millisecond),
		Jitter:           model.Duration(20 * time.Millisecond),
		LossProbability:  0.005,
		BandwidthBPS:     10_000_000,
		DropsPerHour:     0.5,
		RecoveryWindow:   model.Duration(5 * time.Second),
		SpikeProbability: 0.02,
		SpikeMultiplier:  5,
	},
	"wifi_poor": {
		Name:                   "wifi_poor",
		Latency:                model.Duration(30 * time.Millisecond),
		Jitter:                 model.Duration(40 * time.Millisecond),
		LossProbability:        0.08,
		CorruptionProbability:  0.01,
		DuplicationProbability: 0.005,
		ReorderProbability:     0.03,
		BandwidthBPS:           2_000_000,
		DropsPerHour:           6,
		RecoveryWindow:         model.Duration(3 * time.Second),
		SpikeProbability:       0.05,
		SpikeMultiplier:        4,
	},
}

// Preset returns a copy of a named built-in profile.
func Preset(name string) (Profile, error) {
	p, ok := presets[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown network preset %q", name)
	}
	return p, nil
}

// PresetNames lists the built-in presets in stable order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadProfiles parses a YAML document of named profiles. Entries keep their
// map key as Name when the body leaves it empty.
func LoadProfiles(data []byte) (map[string]Profile, error) {
	var raw map[string]Profile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode network profiles: %w", err)
	}
	for name, p := range raw {
		if p.Name == "" {
			p.Name = name
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		raw[name] = p
	}
	return raw, nil
}
