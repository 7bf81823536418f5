// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.js"), []byte("function handleRequest() {}\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("agent.js")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@localhost", When: time.Now()},
	})
	require.NoError(t, err)
	return dir, repo
}

func TestLocalGetFile(t *testing.T) {
	dir, _ := initRepo(t)
	gw, err := OpenLocalGateway(dir)
	require.NoError(t, err)

	file, err := gw.GetFile(context.Background(), "agent.js", "")
	require.NoError(t, err)
	assert.Equal(t, "function handleRequest() {}\n", string(file.Content))
	assert.Len(t, file.SHA, 40)
}

func TestLocalGetFileMissing(t *testing.T) {
	dir, _ := initRepo(t)
	gw, err := OpenLocalGateway(dir)
	require.NoError(t, err)

	_, err = gw.GetFile(context.Background(), "absent.js", "")
	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "get file", gwErr.Op)
}

func TestLocalProposeChange(t *testing.T) {
	dir, repo := initRepo(t)
	gw, err := OpenLocalGateway(dir)
	require.NoError(t, err)

	pr, err := gw.ProposeChange(context.Background(), Change{
		Path:    "agent.js",
		Content: []byte("function handleRequest() { return improved(); }\n"),
		Branch:  "edit/abc123",
		Title:   "self-edit abc123",
		Message: "apply self-edit abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pr.Number)
	assert.Equal(t, "edit/abc123", pr.Branch)
	assert.NotEmpty(t, pr.SHA)

	// The edit lives on the branch.
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("edit/abc123"), true)
	require.NoError(t, err)
	assert.Equal(t, pr.SHA, ref.Hash().String())

	// The original branch and working tree are untouched.
	content, err := os.ReadFile(filepath.Join(dir, "agent.js"))
	require.NoError(t, err)
	assert.Equal(t, "function handleRequest() {}\n", string(content))
}

func TestLocalProposeChangeNumbersAdvance(t *testing.T) {
	dir, _ := initRepo(t)
	gw, err := OpenLocalGateway(dir)
	require.NoError(t, err)

	for i, branch := range []string{"edit/one", "edit/two"} {
		pr, err := gw.ProposeChange(context.Background(), Change{
			Path:    "agent.js",
			Content: []byte("function handleRequest() { /* " + branch + " */ }\n"),
			Branch:  branch,
			Message: "apply " + branch,
		})
		require.NoError(t, err)
		assert.Equal(t, i+1, pr.Number)
	}
}
