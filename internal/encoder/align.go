package encoder

import (
	"encoding/json"
	"fmt"
	"os"
)

// Align reindexes values to the training feature order. Missing features are
// zero and extras are dropped.
func Align(values map[string]float64, featureNames []string) []float32 {
	out := make([]float32, len(featureNames))
	for i, name := range featureNames {
		out[i] = float32(values[name])
	}
	return out
}

// Missing reports which training features values does not provide.
func Missing(values map[string]float64, featureNames []string) []string {
	var missing []string
	for _, name := range featureNames {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// LoadFeatureNames reads a JSON array of feature names.
func LoadFeatureNames(path string) ([]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the bundle manifest
	if err != nil {
		return nil, fmt.Errorf("read feature names: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse feature names %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("feature names file %s is empty", path)
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			return nil, fmt.Errorf("duplicate feature name %q", n)
		}
		seen[n] = struct{}{}
	}
	return names, nil
}
