// Package settings persists user-tunable scale parameters.
package settings

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Keys under which the filter profile is persisted.
const (
	KeyCalibrationFactor = "calib"
	KeyBrewingThreshold  = "brewThreshold"
	KeyStabilityTimeout  = "stabilityTimeout"
	KeyMedianSamples     = "medianSamples"
	KeyAverageSamples    = "averageSamples"
)

// Store is a typed key/value store. Getters return def when the key is absent.
type Store interface {
	GetF32(key string, def float32) float32
	GetU32(key string, def uint32) uint32
	SetF32(key string, v float32) error
	SetU32(key string, v uint32) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*Cache)(nil)
)

type values struct {
	F32 map[string]float32 `yaml:"f32,omitempty"`
	U32 map[string]uint32  `yaml:"u32,omitempty"`
}

func newValues() values {
	return values{
		F32: make(map[string]float32),
		U32: make(map[string]uint32),
	}
}

// MemoryStore keeps values in memory only.
type MemoryStore struct {
	mu   sync.RWMutex
	vals values
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vals: newValues()}
}

func (s *MemoryStore) GetF32(key string, def float32) float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.vals.F32[key]; ok {
		return v
	}
	return def
}

func (s *MemoryStore) GetU32(key string, def uint32) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.vals.U32[key]; ok {
		return v
	}
	return def
}

func (s *MemoryStore) SetF32(key string, v float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals.F32[key] = v
	return nil
}

func (s *MemoryStore) SetU32(key string, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals.U32[key] = v
	return nil
}

// FileStore keeps values in a YAML file. Every Set rewrites the file before
// returning.
type FileStore struct {
	path string

	mu   sync.RWMutex
	vals values
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, vals: newValues()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrapf(err, "failed to read settings %s", path)
	}

	if err := yaml.Unmarshal(data, &s.vals); err != nil {
		return nil, errors.Wrapf(err, "failed to parse settings %s", path)
	}
	if s.vals.F32 == nil {
		s.vals.F32 = make(map[string]float32)
	}
	if s.vals.U32 == nil {
		s.vals.U32 = make(map[string]uint32)
	}

	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) GetF32(key string, def float32) float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.vals.F32[key]; ok {
		return v
	}
	return def
}

func (s *FileStore) GetU32(key string, def uint32) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.vals.U32[key]; ok {
		return v
	}
	return def
}

func (s *FileStore) SetF32(key string, v float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.vals.F32[key]
	s.vals.F32[key] = v
	if err := s.flush(); err != nil {
		if had {
			s.vals.F32[key] = prev
		} else {
			delete(s.vals.F32, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) SetU32(key string, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.vals.U32[key]
	s.vals.U32[key] = v
	if err := s.flush(); err != nil {
		if had {
			s.vals.U32[key] = prev
		} else {
			delete(s.vals.U32, key)
		}
		return err
	}
	return nil
}

// flush writes all values via a temporary file and rename. Caller holds mu.
func (s *FileStore) flush() error {
	data, err := yaml.Marshal(&s.vals)
	if err != nil {
		return errors.Wrap(err, "failed to marshal settings")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.yaml")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary settings file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write settings")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync settings")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close settings")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrapf(err, "failed to replace settings %s", s.path)
	}
	return nil
}
