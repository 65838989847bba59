// Package store manages the directory of snapshots. Each snapshot is one
// subdirectory of the root holding a single encoded state document.
//
// The store does no cross-process locking: concurrent Save or Delete calls for
// the same name against the same root race, and callers must avoid them.
package store

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/deepfence/vessel-snapshot/errdefs"
	"github.com/deepfence/vessel-snapshot/state"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TimestampFormat sorts lexicographically in chronological order and is safe
// in file names.
const TimestampFormat = "2006-01-02T15-04-05"

const (
	tmpSuffix      = ".tmp"
	deletingPrefix = ".deleting-"
)

// Summary describes one snapshot for listing.
type Summary struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	Containers int       `json:"containers"`
	Volumes    int       `json:"volumes"`
	Networks   int       `json:"networks"`
	Size       int64     `json:"size"`
}

// Store owns a single root directory.
type Store struct {
	root string
}

// New returns a store rooted at dir. The directory is created lazily.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the snapshot root directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureRoot creates the root directory if it does not exist yet.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return errors.Wrapf(err, "create snapshot root %s", s.root)
	}
	return nil
}

// NameFor builds a snapshot name from the capture time and an optional label.
func (s *Store) NameFor(label string, at time.Time) string {
	ts := at.UTC().Format(TimestampFormat)
	if label == "" {
		return ts
	}
	return ts + "_" + label
}

// Path returns the directory of the named snapshot.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// Save writes a new snapshot. It never overwrites: an existing name yields
// ErrAlreadyExists and leaves the existing snapshot untouched.
func (s *Store) Save(name string, st state.State) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := s.EnsureRoot(); err != nil {
		return "", err
	}
	data, err := state.Encode(st)
	if err != nil {
		return "", err
	}

	dir := s.Path(name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return "", errors.Wrapf(errdefs.ErrAlreadyExists, "snapshot %q", name)
		}
		return "", errors.Wrapf(err, "create snapshot directory %s", dir)
	}

	file := filepath.Join(dir, state.FileName)
	if err := writeFile(file, data); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logrus.Warnf("could not clean up %s: %v", dir, rmErr)
		}
		return "", err
	}
	logrus.Debugf("saved snapshot %s (%d bytes)", dir, len(data))
	return dir, nil
}

func writeFile(path string, data []byte) error {
	tmp := path + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}
	return nil
}

// Load reads and decodes the named snapshot.
func (s *Store) Load(name string) (state.State, error) {
	data, err := s.read(name)
	if err != nil {
		return state.State{}, err
	}
	st, err := state.Decode(data)
	if err != nil {
		return state.State{}, errors.Wrapf(err, "snapshot %q", name)
	}
	return st, nil
}

// Raw returns the encoded document of the named snapshot as stored on disk.
func (s *Store) Raw(name string) ([]byte, error) {
	return s.read(name)
}

func (s *Store) read(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.EnsureRoot(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.Path(name), state.FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errdefs.ErrNotFound, "snapshot %q", name)
		}
		return nil, errors.Wrapf(err, "read snapshot %q", name)
	}
	return data, nil
}

// List summarizes every valid snapshot, most recent first. Directories without
// a decodable document are skipped.
func (s *Store) List() ([]Summary, error) {
	if err := s.EnsureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot root %s", s.root)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		summary, err := s.summarize(entry.Name())
		if err != nil {
			logrus.Debugf("skipping %s: %v", entry.Name(), err)
			continue
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Name > b.Name
	})
	return summaries, nil
}

func (s *Store) summarize(name string) (Summary, error) {
	dir := s.Path(name)
	data, err := os.ReadFile(filepath.Join(dir, state.FileName))
	if err != nil {
		return Summary{}, err
	}
	header, err := state.DecodeHeader(data)
	if err != nil {
		return Summary{}, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Name:       name,
		CreatedAt:  header.CapturedAt,
		Containers: header.Containers,
		Volumes:    header.Volumes,
		Networks:   header.Networks,
		Size:       size,
	}, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// Delete removes the named snapshot and everything under it. The directory is
// first moved aside so a half-removed snapshot is never visible under its name.
func (s *Store) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.EnsureRoot(); err != nil {
		return err
	}
	dir := s.Path(name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		if err == nil || os.IsNotExist(err) {
			return errors.Wrapf(errdefs.ErrNotFound, "snapshot %q", name)
		}
		return errors.Wrapf(err, "stat snapshot %q", name)
	}

	trash, err := os.MkdirTemp(s.root, deletingPrefix+name+"-")
	if err != nil {
		return errors.Wrap(err, "prepare delete")
	}
	target := filepath.Join(trash, name)
	if err := os.Rename(dir, target); err != nil {
		_ = os.Remove(trash)
		return errors.Wrapf(err, "move snapshot %q aside", name)
	}
	if err := os.RemoveAll(trash); err != nil {
		return errors.Wrapf(err, "remove snapshot %q", name)
	}
	logrus.Debugf("deleted snapshot %s", dir)
	return nil
}

// ValidateName rejects names that would escape the root or hide the snapshot.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.Wrap(errdefs.ErrInvalidName, "empty name")
	case strings.HasPrefix(name, "."):
		return errors.Wrapf(errdefs.ErrInvalidName, "%q starts with a dot", name)
	case strings.ContainsAny(name, `/\`) || strings.Contains(name, ".."):
		return errors.Wrapf(errdefs.ErrInvalidName, "%q contains a path separator", name)
	}
	return nil
}
