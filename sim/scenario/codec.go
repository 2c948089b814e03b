package scenario

import (
	"encoding/json"
	"fmt"
)

// DocumentVersion is the scenario document format this build reads and
// writes.
const DocumentVersion = 1

// EncodeJSON serialises a scenario. Durations travel as nanosecond
// integers, so a decode of the output reproduces the scenario exactly.
func EncodeJSON(s *Scenario) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(s, "", "  ")
}

// DecodeJSON parses and validates a scenario document.
func DecodeJSON(data []byte) (*Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
