package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"ferrisshare/protocol"
)

var log = logrus.WithField("prefix", "storage")

// StagingSuffix is appended to a file's name while its transfer is in
// flight; Finalize strips it with an atomic rename.
const StagingSuffix = ".ferrisshare"

// FSStore persists blocks under a base directory on the local filesystem.
type FSStore struct {
	base string
}

// NewFSStore creates a store rooted at base. The directory is created
// lazily on the first Open/WriteBlock.
func NewFSStore(base string) *FSStore {
	return &FSStore{base: base}
}

// sanitizeName rejects names that would escape the base directory.
func sanitizeName(name string) error {
	if name == "" {
		return &Error{Code: ErrInvalidFilename}
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return &Error{Code: ErrAbsolutePathNotAllowed}
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return &Error{Code: ErrParentDirSegmentNotAllowed}
		}
	}
	if base := filepath.Base(name); base == "." || base == string(filepath.Separator) {
		return &Error{Code: ErrInvalidFilename}
	}
	return nil
}

func (s *FSStore) finalPath(name string) string {
	return filepath.Join(s.base, filepath.FromSlash(name))
}

func (s *FSStore) stagingPath(name string) string {
	return s.finalPath(name) + StagingSuffix
}

// Open creates (or truncates) the staging file for name, creating parent
// directories under base on demand.
func (s *FSStore) Open(_ context.Context, name string) error {
	if err := sanitizeName(name); err != nil {
		return err
	}

	staging := s.stagingPath(name)
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return unknownErr(err)
	}

	f, err := os.Create(staging)
	if err != nil {
		return classify(err)
	}
	log.WithField("staging", staging).Debug("Opened staging file")
	return f.Close()
}

// WriteBlock writes data at offset block.Index * NominalBlockSize in the
// staging file. The offset uses the nominal block size, not block.Size,
// so a short final block lands at the right position.
func (s *FSStore) WriteBlock(_ context.Context, name string, block protocol.YeetBlock, data []byte) error {
	if err := sanitizeName(name); err != nil {
		return err
	}

	staging := s.stagingPath(name)
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return unknownErr(err)
	}

	f, err := os.OpenFile(staging, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return classify(err)
	}
	defer f.Close()

	offset := int64(block.Index) * protocol.NominalBlockSize
	if _, err := f.WriteAt(data, offset); err != nil {
		return unknownErr(err)
	}
	return nil
}

// Finalize atomically renames the staging file to its final name.
func (s *FSStore) Finalize(_ context.Context, name string) error {
	if err := sanitizeName(name); err != nil {
		return err
	}

	staging := s.stagingPath(name)
	final := s.finalPath(name)
	if err := os.Rename(staging, final); err != nil {
		return classify(err)
	}
	log.WithField("file", final).Info("Finalized transfer")
	return nil
}

// SweepStaging removes staging files left behind by interrupted transfers.
// Called once at server startup; a missing base directory is not an error.
func (s *FSStore) SweepStaging() error {
	err := filepath.WalkDir(s.base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, StagingSuffix) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		log.WithField("staging", path).Info("Removed stale staging file")
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Code: ErrFileNotFound}
	case errors.Is(err, fs.ErrPermission):
		return &Error{Code: ErrPermissionDenied}
	case errors.Is(err, fs.ErrExist):
		return &Error{Code: ErrAlreadyExists}
	}
	return unknownErr(err)
}
