// Package store is the entry store: durable, atomic CRUD over notebook
// entries backed by a version-controlled file tree, with per-entry locking
// and idempotent retries layered on top.
package store

import (
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rogersnm/griddle/internal/commitmsg"
	"github.com/rogersnm/griddle/internal/fault"
	"github.com/rogersnm/griddle/internal/gitrepo"
	"github.com/rogersnm/griddle/internal/id"
	"github.com/rogersnm/griddle/internal/idem"
	"github.com/rogersnm/griddle/internal/lock"
	"github.com/rogersnm/griddle/internal/markdown"
	"github.com/rogersnm/griddle/internal/model"
)

// The data directory holds the tracked document tree plus the store's own
// untracked state beside it.
const (
	notebookDir = "notebook"
	recordsFile = "idempotency.db"
)

// Store owns the document tree and its revision chain. Construct one per
// process with Open and pass it to callers; mutations go nowhere else.
type Store struct {
	dataDir string
	repo    *gitrepo.Repo
	locks   *lock.Manager
	records *idem.RecordStore
	tokens  *idem.Coordinator
	author  commitmsg.Author
	log     *slog.Logger
	now     func() time.Time
}

type Options struct {
	Author      commitmsg.Author
	LockTimeout time.Duration
	Retention   time.Duration
	Logger      *slog.Logger
}

func Open(dataDir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fault.Wrap(fault.StorageIO, err, "creating data directory %s", dataDir)
	}
	if opts.Author.Name == "" {
		opts.Author.Name = "Lab Notebook"
	}
	if opts.Author.Email == "" {
		opts.Author.Email = "notebook@localhost"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo, err := gitrepo.Open(filepath.Join(dataDir, notebookDir), opts.Author)
	if err != nil {
		return nil, err
	}
	records, err := idem.OpenRecordStore(filepath.Join(dataDir, recordsFile))
	if err != nil {
		return nil, err
	}

	return &Store{
		dataDir: dataDir,
		repo:    repo,
		locks:   lock.NewManager(opts.LockTimeout),
		records: records,
		tokens:  idem.NewCoordinator(records, opts.Retention, logger),
		author:  opts.Author,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}, nil
}

func (s *Store) Close() error {
	return s.records.Close()
}

// entryPath returns the repo-relative path for a validated id, sharded by
// the year and month embedded in the id. Calling it with an unvalidated id
// is a caller contract violation (id.Date panics).
func entryPath(entryID string) string {
	d := id.Date(entryID)
	return path.Join("entries", d.Format("2006"), d.Format("01"), entryID+".md")
}

func (s *Store) absPath(rel string) string {
	return filepath.Join(s.repo.Root(), filepath.FromSlash(rel))
}

func (s *Store) readEntry(entryID string) (*model.Entry, string, error) {
	f, err := os.Open(s.absPath(entryPath(entryID)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fault.New(fault.NotFound, "entry %s not found", entryID)
		}
		return nil, "", fault.Wrap(fault.StorageIO, err, "opening entry %s", entryID)
	}
	defer f.Close()

	e, body, err := markdown.Decode(f)
	if err != nil {
		return nil, "", fault.Wrap(fault.StorageIO, err, "decoding entry %s", entryID)
	}
	return &e, body, nil
}

// writeEntry lands the serialized entry through a scratch file in the same
// directory followed by a rename. The tracked path flips from old content
// to new in one step; the commit that follows is the durability boundary,
// and Open discards anything that never reached it.
func (s *Store) writeEntry(entryID string, e *model.Entry, body string) error {
	data, err := markdown.Encode(e, body)
	if err != nil {
		return fault.Wrap(fault.StorageIO, err, "encoding entry %s", entryID)
	}

	abs := s.absPath(entryPath(entryID))
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fault.Wrap(fault.StorageIO, err, "creating shard directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, ".scratch-*")
	if err != nil {
		return fault.Wrap(fault.StorageIO, err, "creating scratch file for %s", entryID)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fault.Wrap(fault.StorageIO, err, "writing scratch file for %s", entryID)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fault.Wrap(fault.StorageIO, err, "closing scratch file for %s", entryID)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return fault.Wrap(fault.StorageIO, err, "placing entry file %s", entryID)
	}
	return nil
}

// ListEntries walks the shard tree and returns all entries, newest first.
func (s *Store) ListEntries() ([]model.Entry, error) {
	root := s.absPath("entries")
	var entries []model.Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		name := d.Name()
		if d.IsDir() || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		e, _, err := markdown.Decode(f)
		if err != nil {
			s.log.Warn("skipping unreadable entry file", "path", p, "error", err)
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fault.Wrap(fault.StorageIO, err, "listing entries")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	return entries, nil
}

// History returns revisions newest first, for the whole store or, when
// entryID is non-empty, for that entry's file only.
func (s *Store) History(entryID string, limit int) ([]gitrepo.Revision, error) {
	rel := ""
	if entryID != "" {
		if err := id.Validate(entryID); err != nil {
			return nil, err
		}
		rel = entryPath(entryID)
	}
	return s.repo.History(rel, limit)
}

// Head returns the current revision id of the document tree.
func (s *Store) Head() (string, error) {
	return s.repo.Head()
}
