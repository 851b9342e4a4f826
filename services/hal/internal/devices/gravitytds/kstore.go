package gravitytds

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"tdsnode/services/hal/internal/util"
)

// fileKStore keeps calibrated K values in one JSON document keyed by device id.
type fileKStore struct {
	mu   sync.Mutex
	path string
}

func newFileKStore(dir string) *fileKStore {
	return &fileKStore{path: filepath.Join(dir, "tds_k_values.json")}
}

func (s *fileKStore) load() (map[string]float64, error) {
	m := map[string]float64{}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading k store")
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", s.path)
	}
	return m, nil
}

func (s *fileKStore) LoadK(id string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return 0, false, err
	}
	k, ok := m[id]
	return k, ok, nil
}

func (s *fileKStore) SaveK(id string, k float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	m[id] = k
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(s.path, b)
}
