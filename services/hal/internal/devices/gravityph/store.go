package gravityph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	drv "tdsnode/drivers/gravityph"
	"tdsnode/services/hal/internal/util"
)

// fileStore keeps every probe's buffer points in one JSON document keyed by
// device id.
type fileStore struct {
	mu   sync.Mutex
	path string
}

func newFileStore(dir string) *fileStore {
	return &fileStore{path: filepath.Join(dir, "ph_calibration.json")}
}

func (s *fileStore) load() (map[string]drv.Calibration, error) {
	m := map[string]drv.Calibration{}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading ph calibration")
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", s.path)
	}
	return m, nil
}

func (s *fileStore) LoadCalibration(id string) (drv.Calibration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return drv.Calibration{}, false, err
	}
	c, ok := m[id]
	return c, ok, nil
}

func (s *fileStore) SaveCalibration(id string, c drv.Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	m[id] = c
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(s.path, b)
}
