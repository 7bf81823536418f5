// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vcs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	log "github.com/sirupsen/logrus"
)

// LocalGateway proposes changes against a git working copy on disk. It exists
// for development and for deployments with no forge access: a proposed change
// becomes a real branch and commit, and the "pull request" is synthetic, to
// be reviewed with ordinary git tooling.
type LocalGateway struct {
	mu       sync.Mutex
	root     string
	repo     *git.Repository
	nextPR   int
	signName string
	signMail string
}

// OpenLocalGateway opens the repository rooted at root.
func OpenLocalGateway(root string) (*LocalGateway, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, &GatewayError{Op: "open repository", Message: err.Error()}
	}
	return &LocalGateway{
		root:     root,
		repo:     repo,
		nextPR:   1,
		signName: "omni-agent-local",
		signMail: "omni-agent-local@localhost",
	}, nil
}

// GetFile reads path from the working tree. The sha is the git blob hash of
// the current content, so callers can detect upstream drift the same way the
// forge-backed gateway allows.
func (l *LocalGateway) GetFile(ctx context.Context, path, ref string) (*File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	content, err := os.ReadFile(filepath.Join(l.root, path))
	if err != nil {
		return nil, &GatewayError{Op: "get file", Message: err.Error()}
	}
	hash := plumbing.ComputeHash(plumbing.BlobObject, content)
	return &File{Path: path, SHA: hash.String(), Content: content}, nil
}

// ProposeChange commits the change on a new branch and restores the original
// branch afterwards, leaving the working tree as it was found.
func (l *LocalGateway) ProposeChange(ctx context.Context, change Change) (*PullRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	head, err := l.repo.Head()
	if err != nil {
		return nil, &GatewayError{Op: "resolve head", Message: err.Error()}
	}
	original := head.Name()

	wt, err := l.repo.Worktree()
	if err != nil {
		return nil, &GatewayError{Op: "open worktree", Message: err.Error()}
	}
	branchRef := plumbing.NewBranchReferenceName(change.Branch)
	if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
		return nil, &GatewayError{Op: "create branch", Message: err.Error()}
	}
	// From here on the original branch must be restored no matter what.
	restore := func() {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: original}); err != nil {
			log.Errorf("vcs: failed to restore branch %s: %v", original.Short(), err)
		}
	}

	target := filepath.Join(l.root, change.Path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		restore()
		return nil, &GatewayError{Op: "write file", Message: err.Error()}
	}
	if err := os.WriteFile(target, change.Content, 0o644); err != nil {
		restore()
		return nil, &GatewayError{Op: "write file", Message: err.Error()}
	}
	if _, err := wt.Add(change.Path); err != nil {
		restore()
		return nil, &GatewayError{Op: "stage file", Message: err.Error()}
	}
	commit, err := wt.Commit(change.Message, &git.CommitOptions{
		Author: &object.Signature{Name: l.signName, Email: l.signMail, When: time.Now()},
	})
	if err != nil {
		restore()
		return nil, &GatewayError{Op: "create commit", Message: err.Error()}
	}
	restore()

	number := l.nextPR
	l.nextPR++
	log.Infof("vcs: committed %s on branch %s (%s)", change.Path, change.Branch, commit.String()[:12])
	return &PullRequest{
		Number: number,
		URL:    "file://" + l.root + "#" + change.Branch,
		Branch: change.Branch,
		SHA:    commit.String(),
	}, nil
}

var _ Gateway = (*LocalGateway)(nil)
