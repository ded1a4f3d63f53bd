// Package gitrepo owns the revision chain under the document tree. It wraps
// go-git so staging and committing happen in-process and partial failures
// surface as typed errors instead of parsed exit codes.
package gitrepo

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rogersnm/griddle/internal/commitmsg"
	"github.com/rogersnm/griddle/internal/fault"
)

// Revision is one historically-addressable snapshot of the tree.
type Revision struct {
	Hash    string
	Summary string
	Author  string
	When    time.Time
}

// Repo is the version-controlled document tree. All mutations to files
// under Root must go through Commit so every change maps to exactly one
// revision.
type Repo struct {
	root string
	repo *git.Repository
}

// Open opens the repository at root, initializing it with an initial commit
// when absent. A dirty worktree left behind by an interrupted mutation is
// reset to HEAD, so the last committed revision is the only state reads can
// ever observe.
func Open(root string, author commitmsg.Author) (*Repo, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fault.Wrap(fault.StorageIO, err, "creating repository root")
	}
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return initRepo(root, author)
	}
	if err != nil {
		return nil, fault.Wrap(fault.StorageIO, err, "opening repository at %s", root)
	}
	r := &Repo{root: root, repo: repo}
	if err := r.recover(); err != nil {
		return nil, err
	}
	return r, nil
}

func initRepo(root string, author commitmsg.Author) (*Repo, error) {
	repo, err := git.PlainInit(root, false)
	if err != nil {
		return nil, fault.Wrap(fault.StorageIO, err, "initializing repository at %s", root)
	}
	r := &Repo{root: root, repo: repo}
	readme := "# Lab Notebook\n\nOne file per entry under entries/, one commit per change.\n"
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte(readme), 0644); err != nil {
		return nil, fault.Wrap(fault.StorageIO, err, "writing initial README")
	}
	if _, err := r.Commit([]string{"README.md"}, commitmsg.Summary(commitmsg.KindInit, "notebook", "repository"), author); err != nil {
		return nil, err
	}
	return r, nil
}

// Root returns the absolute path of the worktree.
func (r *Repo) Root() string { return r.root }

// Commit stages relPaths and records one revision with the given summary
// and author. It returns the new revision id.
func (r *Repo) Commit(relPaths []string, summary string, author commitmsg.Author) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fault.Wrap(fault.StorageIO, err, "opening worktree")
	}
	for _, p := range relPaths {
		if _, err := wt.Add(p); err != nil {
			return "", fault.Wrap(fault.StorageIO, err, "staging %s", p)
		}
	}
	return r.commit(wt, summary, author)
}

// Remove deletes relPath from the worktree, stages the deletion, and
// records it as one revision.
func (r *Repo) Remove(relPath, summary string, author commitmsg.Author) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fault.Wrap(fault.StorageIO, err, "opening worktree")
	}
	if _, err := wt.Remove(relPath); err != nil {
		return "", fault.Wrap(fault.StorageIO, err, "removing %s", relPath)
	}
	return r.commit(wt, summary, author)
}

// commit records the staged changes. Empty commits are allowed: a mutation
// whose serialized content matches the previous revision still gets its own
// revision, so every successful operation maps to exactly one commit.
func (r *Repo) commit(wt *git.Worktree, summary string, author commitmsg.Author) (string, error) {
	sig := &object.Signature{Name: author.Name, Email: author.Email, When: time.Now()}
	hash, err := wt.Commit(summary, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fault.Wrap(fault.StorageIO, err, "committing %q", summary)
	}
	return hash.String(), nil
}

// Head returns the current revision id, or "" for an empty repository.
func (r *Repo) Head() (string, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fault.Wrap(fault.StorageIO, err, "resolving HEAD")
	}
	return ref.Hash().String(), nil
}

// History returns revisions newest-first, optionally filtered to one
// worktree-relative path, up to limit (0 means no limit).
func (r *Repo) History(relPath string, limit int) ([]Revision, error) {
	opts := &git.LogOptions{}
	if relPath != "" {
		opts.PathFilter = func(p string) bool { return p == relPath }
	}
	iter, err := r.repo.Log(opts)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fault.Wrap(fault.StorageIO, err, "reading history")
	}
	defer iter.Close()

	var revs []Revision
	for {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fault.Wrap(fault.StorageIO, err, "reading history")
		}
		revs = append(revs, Revision{
			Hash:    c.Hash.String(),
			Summary: firstLine(c.Message),
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		if limit > 0 && len(revs) >= limit {
			break
		}
	}
	return revs, nil
}

// FindByToken returns the hash of the newest commit carrying the given
// idempotency token trailer, or ok=false when no such commit exists. It is
// how a retry decides whether an interrupted mutation reached its commit.
func (r *Repo) FindByToken(token string) (hash string, ok bool, err error) {
	if token == "" {
		return "", false, nil
	}
	iter, err := r.repo.Log(&git.LogOptions{})
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", false, nil
		}
		return "", false, fault.Wrap(fault.StorageIO, err, "reading history")
	}
	defer iter.Close()

	trailer := commitmsg.TokenTrailer(token)
	for {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fault.Wrap(fault.StorageIO, err, "reading history")
		}
		for _, line := range strings.Split(c.Message, "\n") {
			if line == trailer {
				return c.Hash.String(), true, nil
			}
		}
	}
}

// recover discards anything the worktree holds beyond HEAD: a scratch file
// or an uncommitted rename means a mutation died before its commit
// boundary, and the prior revision is the only durable state.
func (r *Repo) recover() error {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil
	}
	if err != nil {
		return fault.Wrap(fault.StorageIO, err, "resolving HEAD")
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return fault.Wrap(fault.StorageIO, err, "opening worktree")
	}
	status, err := wt.Status()
	if err != nil {
		return fault.Wrap(fault.StorageIO, err, "reading worktree status")
	}
	if status.IsClean() {
		return nil
	}
	for p, st := range status {
		if st.Worktree == git.Untracked {
			if err := os.Remove(filepath.Join(r.root, filepath.FromSlash(p))); err != nil && !os.IsNotExist(err) {
				return fault.Wrap(fault.StorageIO, err, "removing stray file %s", p)
			}
		}
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: head.Hash()}); err != nil {
		return fault.Wrap(fault.StorageIO, err, "resetting worktree to %s", head.Hash())
	}
	return nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
