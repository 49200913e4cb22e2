// Package git versions journal snapshots in a local repository and syncs
// them with an optional remote.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const remoteName = "origin"

// ErrNoRemote is returned by Push and Pull when no remote is configured.
var ErrNoRemote = errors.New("vcs: no remote configured")

// Status represents Git state following a commit attempt.
type Status struct {
	Committed bool   `json:"committed"`
	Pending   bool   `json:"pending"`
	Hash      string `json:"hash,omitempty"`
}

// Summary describes the repository for diagnostics.
type Summary struct {
	Path      string `json:"path"`
	Branch    string `json:"branch"`
	Head      string `json:"head,omitempty"`
	Clean     bool   `json:"clean"`
	RemoteURL string `json:"remoteUrl,omitempty"`
}

// Repo describes the operations needed by the daemon.
type Repo interface {
	Init(ctx context.Context) error
	Commit(ctx context.Context, message string, files ...string) (Status, error)
	Push(ctx context.Context) error
	Pull(ctx context.Context) error
	Summary(ctx context.Context) (Summary, error)
}

// FilesystemRepo is a working tree on disk managed with go-git.
type FilesystemRepo struct {
	Path      string
	Branch    string
	RemoteURL string
	// Author defaults to "delegate" when empty.
	Author string

	repo *gogit.Repository
}

var _ Repo = (*FilesystemRepo)(nil)

func (r *FilesystemRepo) branch() string {
	if r.Branch == "" {
		return "main"
	}
	return r.Branch
}

// Init opens the repository at Path, creating it if needed, and configures
// the remote when RemoteURL is set.
func (r *FilesystemRepo) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.Path, 0o700); err != nil {
		return err
	}
	repo, err := gogit.PlainOpen(r.Path)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInitWithOptions(r.Path, &gogit.PlainInitOptions{
			InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(r.branch())},
		})
	}
	if err != nil {
		return fmt.Errorf("open repository %s: %w", r.Path, err)
	}
	r.repo = repo
	if r.RemoteURL != "" {
		return r.SetRemote(r.RemoteURL)
	}
	return nil
}

// SetRemote points origin at url, replacing any previous value.
func (r *FilesystemRepo) SetRemote(url string) error {
	if r.repo == nil {
		return errors.New("vcs: repository not initialized")
	}
	if err := r.repo.DeleteRemote(remoteName); err != nil && !errors.Is(err, gogit.ErrRemoteNotFound) {
		return err
	}
	if _, err := r.repo.CreateRemote(&config.RemoteConfig{Name: remoteName, URLs: []string{url}}); err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	r.RemoteURL = url
	return nil
}

// Commit stages files (paths relative to Path, or all changes when none are
// given) and records a commit. Nothing is committed when the tree is clean.
func (r *FilesystemRepo) Commit(ctx context.Context, message string, files ...string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	if r.repo == nil {
		return Status{}, errors.New("vcs: repository not initialized")
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return Status{}, err
	}
	if len(files) == 0 {
		if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
			return Status{}, fmt.Errorf("stage: %w", err)
		}
	}
	for _, f := range files {
		rel := f
		if filepath.IsAbs(f) {
			if rel, err = filepath.Rel(r.Path, f); err != nil {
				return Status{}, err
			}
		}
		if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
			return Status{}, fmt.Errorf("stage %s: %w", rel, err)
		}
	}
	st, err := wt.Status()
	if err != nil {
		return Status{}, err
	}
	if !hasStaged(st) {
		return Status{Pending: !st.IsClean()}, nil
	}
	author := r.Author
	if author == "" {
		author = "delegate"
	}
	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{Name: author, Email: author + "@localhost", When: time.Now()},
	})
	if err != nil {
		return Status{Pending: true}, fmt.Errorf("commit: %w", err)
	}
	return Status{Committed: true, Hash: hash.String()}, nil
}

// Push pushes the branch to origin. An up-to-date remote is not an error.
func (r *FilesystemRepo) Push(ctx context.Context) error {
	if err := r.requireRemote(); err != nil {
		return err
	}
	ref := plumbing.NewBranchReferenceName(r.branch())
	err := r.repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(ref + ":" + ref)},
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// Pull fetches and fast-forward merges the branch from origin.
func (r *FilesystemRepo) Pull(ctx context.Context) error {
	if err := r.requireRemote(); err != nil {
		return err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return err
	}
	err = wt.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(r.branch()),
		SingleBranch:  true,
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// Summary reports the branch, head and cleanliness of the working tree.
func (r *FilesystemRepo) Summary(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	if r.repo == nil {
		return Summary{}, errors.New("vcs: repository not initialized")
	}
	sum := Summary{Path: r.Path, Branch: r.branch(), RemoteURL: r.RemoteURL}
	head, err := r.repo.Head()
	switch {
	case err == nil:
		sum.Head = head.Hash().String()
	case errors.Is(err, plumbing.ErrReferenceNotFound):
	default:
		return Summary{}, err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return Summary{}, err
	}
	st, err := wt.Status()
	if err != nil {
		return Summary{}, err
	}
	sum.Clean = st.IsClean()
	return sum, nil
}

func hasStaged(st gogit.Status) bool {
	for _, fs := range st {
		if fs.Staging != gogit.Unmodified && fs.Staging != gogit.Untracked {
			return true
		}
	}
	return false
}

func (r *FilesystemRepo) requireRemote() error {
	if r.repo == nil {
		return errors.New("vcs: repository not initialized")
	}
	if _, err := r.repo.Remote(remoteName); err != nil {
		if errors.Is(err, gogit.ErrRemoteNotFound) {
			return ErrNoRemote
		}
		return err
	}
	return nil
}
