package rdb

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/roach88/datakit/internal/async"
	"github.com/roach88/datakit/internal/storeerr"
)

// Backup writes a consistent copy of the database to dest. A bare file
// name lands next to the database. An existing dest is replaced only if
// the copy succeeds; otherwise it is left as it was.
func (s *Store) Backup(dest string) *async.Future[struct{}] {
	return submit(s, "backup", func(db *sql.DB) (struct{}, error) {
		return struct{}{}, s.backup(db, dest)
	})
}

// Restore replaces the database with the copy at src. The current files
// are set aside first and put back if the copy or its integrity check
// fails, so a failed restore leaves the store as it was.
func (s *Store) Restore(src string) *async.Future[struct{}] {
	return submit(s, "restore", func(db *sql.DB) (struct{}, error) {
		return struct{}{}, s.restore(src)
	})
}

// resolveFile maps a backup name onto a path.
func (s *Store) resolveFile(name string) (string, error) {
	if name == "" {
		return "", storeerr.New(storeerr.CodeInvalidArgument, "backup file name is empty")
	}
	if filepath.Base(name) == name {
		return filepath.Join(filepath.Dir(s.path), name), nil
	}
	path := filepath.Clean(name)
	if _, err := s.m.fs.Stat(filepath.Dir(path)); err != nil {
		return "", storeerr.Wrap(storeerr.CodePathUnavailable, err, "backup directory")
	}
	return path, nil
}

func (s *Store) isOwnFile(path string) bool {
	for _, p := range companionFiles(s.path) {
		if p == path {
			return true
		}
	}
	return false
}

func (s *Store) backup(db *sql.DB, name string) error {
	fs := s.m.fs
	dest, err := s.resolveFile(name)
	if err != nil {
		return err
	}
	if s.isOwnFile(dest) {
		return storeerr.New(storeerr.CodeInvalidArgument, "backup %s would overwrite the store", dest)
	}
	if isDir, _ := afero.IsDir(fs, dest); isDir {
		return storeerr.New(storeerr.CodeInvalidArgument, "backup %s is a directory", dest)
	}

	aside := dest + ".temp"
	hadDest, err := afero.Exists(fs, dest)
	if err != nil {
		return storeerr.Wrap(storeerr.CodeIO, err, "stat %s", dest)
	}
	if hadDest {
		if err := fs.Rename(dest, aside); err != nil {
			return storeerr.Wrap(storeerr.CodeIO, err, "set aside %s", dest)
		}
	}

	err = s.writeBackup(db, dest)
	if err != nil {
		fs.Remove(dest)
		fs.Remove(keyPath(dest))
		if hadDest {
			if rerr := fs.Rename(aside, dest); rerr != nil {
				s.logger.Error("restore previous backup failed", "dest", dest, "error", rerr)
			}
		}
		return err
	}
	if hadDest {
		if err := fs.Remove(aside); err != nil {
			s.logger.Warn("remove previous backup failed", "path", aside, "error", err)
		}
	}
	s.logger.Info("store backed up", "dest", dest)
	return nil
}

func (s *Store) writeBackup(db *sql.DB, dest string) error {
	if _, err := db.ExecContext(context.Background(), "VACUUM INTO ?", dest); err != nil {
		return storeerr.Engine(err, "backup to %s", dest)
	}
	if s.Encrypted() {
		if err := copyFile(s.m.fs, keyPath(s.path), keyPath(dest)); err != nil {
			return storeerr.Wrap(storeerr.CodeIO, err, "copy key file")
		}
	}
	return nil
}

func (s *Store) restore(name string) error {
	fs := s.m.fs
	src, err := s.resolveFile(name)
	if err != nil {
		return err
	}
	if s.isOwnFile(src) {
		return storeerr.New(storeerr.CodeInvalidArgument, "cannot restore %s onto itself", src)
	}
	ok, err := afero.Exists(fs, src)
	if err != nil {
		return storeerr.Wrap(storeerr.CodeIO, err, "stat %s", src)
	}
	if !ok {
		return storeerr.New(storeerr.CodeInvalidArgument, "backup %s does not exist", src)
	}

	if err := s.db.Close(); err != nil {
		return storeerr.Engine(err, "close before restore")
	}
	s.db = nil

	suffix := ".restore-" + s.m.ids.Generate()
	var moved []string
	rollback := func(cause error) error {
		for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm", s.path + "-journal"} {
			fs.Remove(p)
		}
		for _, p := range moved {
			if err := fs.Rename(p+suffix, p); err != nil {
				s.logger.Error("rollback rename failed", "path", p, "error", err)
			}
		}
		db, err := s.m.openDB(s.path)
		if err != nil {
			s.state.Store(int32(StateFailed))
			s.logger.Error("reopen after failed restore", "error", err)
			return storeerr.Wrap(storeerr.CodeIO, errors.WithMessage(cause, err.Error()), "restore %s", src)
		}
		s.db = db
		return cause
	}

	for _, p := range []string{s.path, s.path + "-wal", s.path + "-shm", s.path + "-journal"} {
		exists, _ := afero.Exists(fs, p)
		if !exists {
			continue
		}
		if err := fs.Rename(p, p+suffix); err != nil {
			return rollback(storeerr.Wrap(storeerr.CodeIO, err, "set aside %s", p))
		}
		moved = append(moved, p)
	}

	if err := copyFile(fs, src, s.path); err != nil {
		return rollback(storeerr.Wrap(storeerr.CodeIO, err, "copy %s", src))
	}
	db, err := s.m.openDB(s.path)
	if err != nil {
		return rollback(err)
	}
	if err := integrityCheck(db); err != nil {
		db.Close()
		return rollback(err)
	}
	version, err := readVersion(db)
	if err != nil {
		db.Close()
		return rollback(err)
	}

	s.db = db
	s.version.Store(version)
	for _, p := range moved {
		if err := fs.Remove(p + suffix); err != nil {
			s.logger.Warn("remove rollback file failed", "path", p+suffix, "error", err)
		}
	}
	s.logger.Info("store restored", "src", src, "version", version)
	return nil
}

func integrityCheck(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return storeerr.Engine(err, "integrity check")
	}
	if result != "ok" {
		return storeerr.New(storeerr.CodeIO, "integrity check failed: %s", result)
	}
	return nil
}

// copyFile copies src to dst through a synced temp file.
func copyFile(fs afero.Fs, src, dst string) (err error) {
	in, err := fs.Open(src)
	if err != nil {
		return errors.WithMessagef(err, "open %s", src)
	}
	defer in.Close()

	tmp := dst + ".copy"
	out, err := fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.WithMessagef(err, "create %s", tmp)
	}
	defer func() {
		if err != nil {
			fs.Remove(tmp)
		}
	}()
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithMessage(err, "copy")
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return errors.WithMessage(err, "sync")
	}
	if err = out.Close(); err != nil {
		return errors.WithMessage(err, "close")
	}
	if err = fs.Rename(tmp, dst); err != nil {
		return errors.WithMessagef(err, "rename %s", tmp)
	}
	return nil
}
