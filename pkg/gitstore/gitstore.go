// Package gitstore implements the Git-Backed Agent Store (C9): a thin
// wrapper over go-git giving the rest of the control plane history
// inspection and subtree commits without ever talking to the network.
// At most one write is in flight per repository; reads never wait on the
// write lock because git's content-addressed objects make every commit
// immutable the instant it exists — a concurrent reader either sees the
// old ref or the new one, never a half-written one.
package gitstore

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/codeready-toolchain/tarsy/pkg/blueflameerr"
)

// Store wraps a single on-disk repository.
type Store struct {
	repo     *git.Repository
	path     string
	writeMu  sync.Mutex
}

// Open opens an existing repository at path. The store never clones or
// fetches: the repository must already exist on disk.
func Open(path string) (*Store, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, blueflameerr.Fatal(err, "open agent repository at %s", path)
	}
	return &Store{repo: repo, path: path}, nil
}

// HeadCommit returns the commit at HEAD.
func (s *Store) HeadCommit() (*object.Commit, error) {
	ref, err := s.repo.Head()
	if err != nil {
		return nil, blueflameerr.Fatal(err, "resolve HEAD")
	}
	c, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, blueflameerr.Fatal(err, "load HEAD commit")
	}
	return c, nil
}

// WalkHistory visits commits reachable from HEAD, newest first, until visit
// returns false or history is exhausted.
func (s *Store) WalkHistory(visit func(*object.Commit) bool) error {
	head, err := s.repo.Head()
	if err != nil {
		return blueflameerr.Fatal(err, "resolve HEAD")
	}
	iter, err := s.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return blueflameerr.Fatal(err, "open commit log")
	}
	defer iter.Close()

	for {
		c, err := iter.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return blueflameerr.Fatal(err, "walk commit history")
		}
		if !visit(c) {
			return nil
		}
	}
}

// FindCommit resolves a commit by its full or abbreviated hash.
func (s *Store) FindCommit(hash string) (*object.Commit, error) {
	h := plumbing.NewHash(hash)
	c, err := s.repo.CommitObject(h)
	if err != nil {
		return nil, blueflameerr.Invalid(err, "find commit %s", hash)
	}
	return c, nil
}

// CheckoutSubtree reads subpath's tree contents as of commit, returning the
// file contents keyed by path relative to subpath. It never touches the
// working tree or index — callers decide how to materialize the result.
func (s *Store) CheckoutSubtree(commit *object.Commit, subpath string) (map[string][]byte, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, blueflameerr.Fatal(err, "load tree for commit %s", commit.Hash)
	}
	sub, err := tree.Tree(subpath)
	if err != nil {
		return nil, blueflameerr.Invalid(err, "subtree %s not found at commit %s", subpath, commit.Hash)
	}

	out := make(map[string][]byte)
	walker := object.NewTreeWalker(sub, true, make(map[plumbing.Hash]bool))
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, blueflameerr.Fatal(err, "walk subtree %s", subpath)
		}
		if entry.Mode.IsFile() {
			f, err := sub.TreeEntryFile(&entry)
			if err != nil {
				continue
			}
			content, err := f.Contents()
			if err != nil {
				continue
			}
			out[name] = []byte(content)
		}
	}
	return out, nil
}

// CommitSubtree writes files (paths relative to subpath) into the working
// tree under subpath, stages only that subtree, and creates a new commit
// with parent as its sole parent. Only one CommitSubtree runs at a time per
// Store.
func (s *Store) CommitSubtree(subpath, message string, parent *object.Commit, files map[string][]byte, author object.Signature) (*object.Commit, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	wt, err := s.repo.Worktree()
	if err != nil {
		return nil, blueflameerr.Fatal(err, "load worktree")
	}

	for rel, content := range files {
		fullPath := filepath.Join(subpath, rel)
		absPath := filepath.Join(s.path, fullPath)
		if err := writeFile(absPath, content); err != nil {
			return nil, blueflameerr.Fatal(err, "write %s", fullPath)
		}
		if _, err := wt.Add(fullPath); err != nil {
			return nil, blueflameerr.Fatal(err, "stage %s", fullPath)
		}
	}

	opts := &git.CommitOptions{Author: &author}
	if parent != nil {
		opts.Parents = []plumbing.Hash{parent.Hash}
	}
	hash, err := wt.Commit(strings.TrimSpace(message), opts)
	if err != nil {
		return nil, blueflameerr.Fatal(err, "commit subtree %s", subpath)
	}
	c, err := s.repo.CommitObject(hash)
	if err != nil {
		return nil, blueflameerr.Fatal(err, "load newly created commit")
	}
	return c, nil
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}
