package preferences

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/roach88/datakit/internal/ids"
	"github.com/roach88/datakit/internal/value"
)

// fileExt is appended to a store name to form its backing file name.
const fileExt = ".prefs"

// snapshotFile reads and atomically replaces one preferences file.
type snapshotFile struct {
	fs   afero.Fs
	path string
	ids  ids.Generator
}

func newSnapshotFile(fs afero.Fs, dir, name string, gen ids.Generator) *snapshotFile {
	return &snapshotFile{
		fs:   fs,
		path: filepath.Join(dir, name+fileExt),
		ids:  gen,
	}
}

// load reads the file. A missing file is an empty store.
func (f *snapshotFile) load() (map[string]value.Value, error) {
	file, err := f.fs.Open(f.path)
	if os.IsNotExist(err) {
		return map[string]value.Value{}, nil
	} else if err != nil {
		return nil, errors.WithMessage(err, "opening preferences file")
	}
	defer file.Close()

	entries, err := decodeSnapshot(file)
	if err != nil {
		return nil, errors.WithMessage(err, "decoding preferences file")
	}
	return entries, nil
}

// store writes the complete snapshot to a temporary file in the same
// directory, then renames it over the current file. Readers therefore see
// either the previous snapshot or the new one, never a partial write. On
// failure the temporary file is removed and the current file is untouched.
func (f *snapshotFile) store(entries map[string]value.Value) (err error) {
	if err = f.fs.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.WithMessage(err, "creating preferences directory")
	}

	tmp := f.path + "." + f.ids.Generate() + ".tmp"
	file, err := f.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.WithMessage(err, "creating temp file")
	}
	defer func() {
		if err != nil {
			_ = f.fs.Remove(tmp)
		}
	}()

	if err = encodeSnapshot(file, entries); err != nil {
		file.Close()
		return errors.WithMessage(err, "encoding snapshot")
	} else if err = file.Sync(); err != nil {
		file.Close()
		return errors.WithMessage(err, "syncing temp file")
	} else if err = file.Close(); err != nil {
		return errors.WithMessage(err, "closing temp file")
	} else if err = f.fs.Rename(tmp, f.path); err != nil {
		return errors.WithMessage(err, "renaming temp => current")
	}
	return nil
}

// remove deletes the file. A missing file is not an error.
func (f *snapshotFile) remove() error {
	if err := f.fs.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.WithMessage(err, "removing preferences file")
	}
	return nil
}
