// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package vcs is the boundary to version control. Approved edits never touch
// the running process: they become a branch plus pull request through a
// Gateway, and a human merges (or rejects) the result out of band.
package vcs

import (
	"context"
	"strconv"
)

// File is one tracked file at a specific revision.
type File struct {
	Path    string
	SHA     string
	Content []byte
}

// Change describes a single-file modification to propose.
type Change struct {
	Path    string
	Content []byte
	// Branch is the head branch to create. Base defaults to the repository's
	// default branch when empty.
	Branch  string
	Base    string
	Title   string
	Body    string
	Message string
}

// PullRequest identifies a proposed change awaiting human review.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
	SHA    string `json:"sha"`
}

// Gateway abstracts the hosting side: a remote forge or a local repository.
type Gateway interface {
	// GetFile fetches path at ref ("" means the default branch head).
	GetFile(ctx context.Context, path, ref string) (*File, error)
	// ProposeChange lands change on a new branch and opens a pull request.
	ProposeChange(ctx context.Context, change Change) (*PullRequest, error)
}

// GatewayError reports a failed gateway operation. Message carries the
// upstream explanation; credentials never appear in it.
type GatewayError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return "vcs: " + e.Op + ": status " + strconv.Itoa(e.StatusCode) + ": " + e.Message
	}
	return "vcs: " + e.Op + ": " + e.Message
}
