package rdb

import (
	"crypto/rand"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/roach88/datakit/internal/ids"
	"github.com/roach88/datakit/internal/storeerr"
)

const keySize = 32

func keyPath(dbPath string) string { return dbPath + ".pub_key" }

// loadOrCreateKey returns the work key stored at path, generating and
// persisting a fresh one when the file does not exist yet.
func loadOrCreateKey(fs afero.Fs, path string, gen ids.Generator) ([]byte, error) {
	key, err := afero.ReadFile(fs, path)
	switch {
	case err == nil:
		if len(key) != keySize {
			return nil, storeerr.New(storeerr.CodeIO, "key file %s has %d bytes, want %d", path, len(key), keySize)
		}
		return key, nil
	case !os.IsNotExist(err):
		return nil, storeerr.Wrap(storeerr.CodeIO, err, "read key file")
	}

	key = make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, storeerr.Wrap(storeerr.CodeIO, err, "generate key")
	}
	tmp := path + "." + gen.Generate() + ".tmp"
	if err := afero.WriteFile(fs, tmp, key, 0o600); err != nil {
		fs.Remove(tmp)
		return nil, storeerr.Wrap(storeerr.CodeIO, errors.WithMessage(err, "write key file"), "create key")
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return nil, storeerr.Wrap(storeerr.CodeIO, errors.WithMessagef(err, "rename %s", tmp), "create key")
	}
	return key, nil
}
