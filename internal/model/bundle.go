// Package model loads the trained fraud classifier and its preprocessing
// artifacts from a bundle directory.
//
// A bundle directory holds bundle.yaml plus the files it references:
//
//	name: upi-fraud
//	version: "2024-06-01"
//	threshold: 0.5
//	feature_names: feature_names.json
//	encoder: encoder.json
//	model:
//	  kind: onnx          # or linear
//	  path: model.onnx
//	  input: input
//	  output: probabilities
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mbd888/fraudscope/internal/encoder"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the bundle manifest name inside a model directory.
const ManifestFile = "bundle.yaml"

// Classifier kinds.
const (
	KindONNX   = "onnx"
	KindLinear = "linear"
)

var (
	ErrModelNotLoaded = errors.New("model not loaded")
	ErrUnknownKind    = errors.New("unknown model kind")
	ErrInputSize      = errors.New("input size does not match feature count")
)

// Classifier returns the fraud probability for one aligned feature vector.
type Classifier interface {
	PredictProba(ctx context.Context, x []float32) (float64, error)
	Close() error
}

// Spec describes the classifier artifact.
type Spec struct {
	Kind   string `yaml:"kind" json:"kind"`
	Path   string `yaml:"path" json:"path"`
	Input  string `yaml:"input,omitempty" json:"input,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// Manifest is the parsed bundle.yaml.
type Manifest struct {
	Name         string  `yaml:"name" json:"name"`
	Version      string  `yaml:"version" json:"version"`
	Threshold    float64 `yaml:"threshold" json:"threshold"`
	FeatureNames string  `yaml:"feature_names" json:"feature_names"`
	Encoder      string  `yaml:"encoder" json:"encoder"`
	Model        Spec    `yaml:"model" json:"model"`
}

// Bundle is a loaded model with everything needed to score a transaction.
type Bundle struct {
	Manifest
	Dir          string
	FeatureNames []string
	Encoder      *encoder.OneHot
	Classifier   Classifier
	LoadedAt     time.Time
}

// Info is the public metadata for a loaded bundle.
type Info struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	Kind         string    `json:"kind"`
	Threshold    float64   `json:"threshold"`
	FeatureCount int       `json:"feature_count"`
	Columns      []string  `json:"encoded_columns"`
	LoadedAt     time.Time `json:"loaded_at"`
}

// LoadBundle reads bundle.yaml from dir and loads the referenced artifacts.
func LoadBundle(dir string) (*Bundle, error) {
	m, err := readManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}

	names, err := encoder.LoadFeatureNames(filepath.Join(dir, m.FeatureNames))
	if err != nil {
		return nil, err
	}
	enc, err := encoder.LoadOneHot(filepath.Join(dir, m.Encoder))
	if err != nil {
		return nil, err
	}

	var clf Classifier
	modelPath := filepath.Join(dir, m.Model.Path)
	switch m.Model.Kind {
	case KindLinear:
		clf, err = LoadLinear(modelPath, names)
	case KindONNX:
		clf, err = LoadONNX(dir, modelPath, m.Model.Input, m.Model.Output, len(names))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Model.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s classifier: %w", m.Model.Kind, err)
	}

	return &Bundle{
		Manifest:     *m,
		Dir:          dir,
		FeatureNames: names,
		Encoder:      enc,
		Classifier:   clf,
		LoadedAt:     time.Now().UTC(),
	}, nil
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied model directory
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	// A missing threshold would decode as 0 and flag everything.
	var explicit struct {
		Threshold *float64 `yaml:"threshold"`
	}
	if err := yaml.Unmarshal(data, &explicit); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if explicit.Threshold == nil {
		return nil, fmt.Errorf("manifest %s: threshold is required", path)
	}
	if m.Name == "" {
		m.Name = filepath.Base(filepath.Dir(path))
	}
	if m.FeatureNames == "" {
		m.FeatureNames = "feature_names.json"
	}
	if m.Encoder == "" {
		m.Encoder = "encoder.json"
	}
	if m.Model.Path == "" {
		return nil, fmt.Errorf("manifest %s: model.path is required", path)
	}
	if m.Threshold < 0 || m.Threshold > 1 {
		return nil, fmt.Errorf("manifest %s: threshold %v outside [0,1]", path, m.Threshold)
	}
	return &m, nil
}

// WithThreshold returns a shallow copy of b using threshold t.
func (b *Bundle) WithThreshold(t float64) *Bundle {
	cp := *b
	cp.Threshold = t
	return &cp
}

// Info summarizes the bundle for clients.
func (b *Bundle) Info() Info {
	return Info{
		Name:         b.Name,
		Version:      b.Version,
		Kind:         b.Model.Kind,
		Threshold:    b.Threshold,
		FeatureCount: len(b.FeatureNames),
		Columns:      b.Encoder.Columns(),
		LoadedAt:     b.LoadedAt,
	}
}

// Close releases the classifier.
func (b *Bundle) Close() error {
	if b == nil || b.Classifier == nil {
		return nil
	}
	return b.Classifier.Close()
}
