// Package profile implements the named-preset store: yaml documents that
// project mixer state entity values, loadable and savable by name.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/voxmixlabs/voxd/pkg/voxd/util"
)

// RouteEntry is one routing assignment in a document.
type RouteEntry struct {
	Input   string `yaml:"input"`
	Output  string `yaml:"output"`
	Enabled bool   `yaml:"enabled"`
}

// EffectEntry is one effect unit's target configuration.
type EffectEntry struct {
	Enabled bool  `yaml:"enabled"`
	Amount  int32 `yaml:"amount"`
}

// SamplerEntry is one sampler button's sample assignment.
type SamplerEntry struct {
	Bank   string `yaml:"bank"`
	Slot   string `yaml:"slot"`
	Sample string `yaml:"sample"`
}

// Document is a serializable projection of mixer state entity values.
// Entity names are plain strings so documents survive across device models;
// the dispatcher resolves them against the attached device's capabilities.
type Document struct {
	Volumes  map[string]uint8       `yaml:"volumes,omitempty"`
	Mutes    map[string]bool        `yaml:"mutes,omitempty"`
	Faders   map[string]string      `yaml:"faders,omitempty"`
	Routing  []RouteEntry           `yaml:"routing,omitempty"`
	Effects  map[string]EffectEntry `yaml:"effects,omitempty"`
	Lighting map[string]string      `yaml:"lighting,omitempty"`
	Sampler  []SamplerEntry         `yaml:"sampler,omitempty"`
}

const profileExtension = ".yaml"

// Store loads and saves documents from a directory, one yaml file per
// named profile.
type Store struct {
	logger    *zap.SugaredLogger
	directory string
}

func NewStore(logger *zap.SugaredLogger, directory string) (*Store, error) {
	logger = logger.Named("profiles")

	if err := util.EnsureDirExists(directory); err != nil {
		return nil, fmt.Errorf("ensure profiles directory exists: %w", err)
	}

	logger.Debugw("Created profile store instance", "directory", directory)

	return &Store{logger: logger, directory: directory}, nil
}

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid profile name %q", name)
	}

	return filepath.Join(s.directory, name+profileExtension), nil
}

// Load reads the named profile document.
func (s *Store) Load(name string) (Document, error) {
	path, err := s.path(name)
	if err != nil {
		return Document{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, fmt.Errorf("profile %q not found", name)
		}
		return Document{}, fmt.Errorf("read profile %q: %w", name, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse profile %q: %w", name, err)
	}

	s.logger.Debugw("Loaded profile", "name", name)

	return doc, nil
}

// Save writes the named profile document, replacing any previous version.
func (s *Store) Save(name string, doc Document) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serialize profile %q: %w", name, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write profile %q: %w", name, err)
	}

	s.logger.Infow("Saved profile", "name", name, "path", path)

	return nil
}

// List returns the names of all stored profiles, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("read profiles directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), profileExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), profileExtension))
	}

	sort.Strings(names)

	return names, nil
}
