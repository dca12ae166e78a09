package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jmcleod/patientportal/internal/util"
)

const sealingKeyInfo = "patientportal:token-sealing:v1"

// LoadOrCreateSealingKey reads the device secret at path, creating it with
// fresh random bytes when absent, and derives the token sealing key from
// it. The file is written with mode 0600.
func LoadOrCreateSealingKey(path string) ([]byte, error) {
	seed, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		seed, err = util.RandomBytes(util.KeySize)
		if err != nil {
			return nil, fmt.Errorf("generating device key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating key directory: %w", err)
		}
		if err := os.WriteFile(path, seed, 0o600); err != nil {
			return nil, fmt.Errorf("writing device key: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading device key: %w", err)
	}
	defer util.WipeBytes(seed)
	if len(seed) != util.KeySize {
		return nil, fmt.Errorf("device key %s has %d bytes, want %d", path, len(seed), util.KeySize)
	}
	return util.DeriveKey(seed, nil, []byte(sealingKeyInfo))
}
