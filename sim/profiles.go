package sim

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wtyler2505/roverhal/model"
)

// ProfileLibrary is a validated, immutable set of device profiles keyed by
// id. Files map profile id to profile body; the id field inside the body
// is filled from the key when omitted.
type ProfileLibrary struct {
	profiles map[string]model.DeviceProfile
}

// LoadProfiles parses a profile library from YAML.
func LoadProfiles(data []byte) (*ProfileLibrary, error) {
	var raw map[string]model.DeviceProfile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse device profiles: %w", err)
	}

	lib := &ProfileLibrary{profiles: make(map[string]model.DeviceProfile, len(raw))}
	for id, p := range raw {
		if p.ID == "" {
			p.ID = id
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		lib.profiles[p.ID] = p
	}

	// Rover profiles must only reference components present in the same
	// library.
	for _, p := range lib.profiles {
		if p.Kind != model.ProfileRover {
			continue
		}
		for _, ref := range append(append([]string(nil), p.SensorIDs...), p.ActuatorIDs...) {
			if _, ok := lib.profiles[ref]; !ok {
				return nil, fmt.Errorf("profile %q: unknown component %q", p.ID, ref)
			}
		}
	}
	return lib, nil
}

// LoadProfilesFile reads and parses a profile library from disk.
func LoadProfilesFile(path string) (*ProfileLibrary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device profiles: %w", err)
	}
	return LoadProfiles(data)
}

// Get returns a profile by id.
func (l *ProfileLibrary) Get(id string) (model.DeviceProfile, bool) {
	p, ok := l.profiles[id]
	return p, ok
}

// IDs returns all profile ids, sorted.
func (l *ProfileLibrary) IDs() []string {
	ids := make([]string, 0, len(l.profiles))
	for id := range l.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of profiles.
func (l *ProfileLibrary) Len() int { return len(l.profiles) }

// Components expands a rover profile into its referenced component
// profiles. Non-rover profiles expand to themselves.
func (l *ProfileLibrary) Components(id string) ([]model.DeviceProfile, error) {
	p, ok := l.profiles[id]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", id)
	}
	if p.Kind != model.ProfileRover {
		return []model.DeviceProfile{p}, nil
	}
	out := make([]model.DeviceProfile, 0, len(p.SensorIDs)+len(p.ActuatorIDs))
	for _, ref := range p.SensorIDs {
		out = append(out, l.profiles[ref])
	}
	for _, ref := range p.ActuatorIDs {
		out = append(out, l.profiles[ref])
	}
	return out, nil
}
