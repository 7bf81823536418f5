// Copyright 2026 The omniAgentLocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package vcs

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubGateway talks to the GitHub REST v3 API using the low-level git data
// endpoints (blob, tree, commit, ref) so a proposed change never requires a
// local clone of the target repository.
type GitHubGateway struct {
	baseURL string
	owner   string
	repo    string
	client  *http.Client
}

// NewGitHubGateway builds a gateway for owner/repo authenticated with token.
func NewGitHubGateway(owner, repo, token string) *GitHubGateway {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubGateway{
		baseURL: defaultGitHubAPI,
		owner:   owner,
		repo:    repo,
		client:  oauth2.NewClient(context.Background(), src),
	}
}

func (g *GitHubGateway) repoURL(parts ...string) string {
	u := g.baseURL + "/repos/" + g.owner + "/" + g.repo
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

// do issues one API call and returns the parsed body. Non-2xx responses turn
// into a GatewayError carrying GitHub's message field when present.
func (g *GitHubGateway) do(ctx context.Context, op, method, rawURL string, body []byte) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return gjson.Result{}, &GatewayError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return gjson.Result{}, &GatewayError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, &GatewayError{Op: op, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := gjson.GetBytes(raw, "message").String()
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return gjson.Result{}, &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: message}
	}
	return gjson.ParseBytes(raw), nil
}

// DefaultBranch asks the repository which branch new work forks from.
func (g *GitHubGateway) DefaultBranch(ctx context.Context) (string, error) {
	body, err := g.do(ctx, "get repository", http.MethodGet, g.repoURL(), nil)
	if err != nil {
		return "", err
	}
	return body.Get("default_branch").String(), nil
}

// GetFile implements Gateway.
func (g *GitHubGateway) GetFile(ctx context.Context, path, ref string) (*File, error) {
	rawURL := g.repoURL("contents", path)
	if ref != "" {
		rawURL += "?ref=" + url.QueryEscape(ref)
	}
	body, err := g.do(ctx, "get file", http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	content, err := base64.StdEncoding.DecodeString(body.Get("content").String())
	if err != nil {
		return nil, &GatewayError{Op: "get file", Message: "undecodable content: " + err.Error()}
	}
	return &File{Path: path, SHA: body.Get("sha").String(), Content: content}, nil
}

// RefSHA resolves a branch name to its head commit sha.
func (g *GitHubGateway) RefSHA(ctx context.Context, branch string) (string, error) {
	body, err := g.do(ctx, "get ref", http.MethodGet, g.repoURL("git", "ref", "heads/"+branch), nil)
	if err != nil {
		return "", err
	}
	return body.Get("object.sha").String(), nil
}

// CreateBlob uploads content and returns the new blob sha.
func (g *GitHubGateway) CreateBlob(ctx context.Context, content []byte) (string, error) {
	payload, _ := sjson.SetBytes(nil, "content", base64.StdEncoding.EncodeToString(content))
	payload, _ = sjson.SetBytes(payload, "encoding", "base64")
	body, err := g.do(ctx, "create blob", http.MethodPost, g.repoURL("git", "blobs"), payload)
	if err != nil {
		return "", err
	}
	return body.Get("sha").String(), nil
}

// CreateTree derives a new tree from base with path replaced by blobSHA.
func (g *GitHubGateway) CreateTree(ctx context.Context, baseTreeSHA, path, blobSHA string) (string, error) {
	payload, _ := sjson.SetBytes(nil, "base_tree", baseTreeSHA)
	payload, _ = sjson.SetBytes(payload, "tree.0.path", path)
	payload, _ = sjson.SetBytes(payload, "tree.0.mode", "100644")
	payload, _ = sjson.SetBytes(payload, "tree.0.type", "blob")
	payload, _ = sjson.SetBytes(payload, "tree.0.sha", blobSHA)
	body, err := g.do(ctx, "create tree", http.MethodPost, g.repoURL("git", "trees"), payload)
	if err != nil {
		return "", err
	}
	return body.Get("sha").String(), nil
}

// CreateCommit records treeSHA with parent and returns the commit sha.
func (g *GitHubGateway) CreateCommit(ctx context.Context, message, treeSHA, parentSHA string) (string, error) {
	payload, _ := sjson.SetBytes(nil, "message", message)
	payload, _ = sjson.SetBytes(payload, "tree", treeSHA)
	payload, _ = sjson.SetBytes(payload, "parents.0", parentSHA)
	body, err := g.do(ctx, "create commit", http.MethodPost, g.repoURL("git", "commits"), payload)
	if err != nil {
		return "", err
	}
	return body.Get("sha").String(), nil
}

// CreateRef points a new branch at commitSHA.
func (g *GitHubGateway) CreateRef(ctx context.Context, branch, commitSHA string) error {
	payload, _ := sjson.SetBytes(nil, "ref", "refs/heads/"+branch)
	payload, _ = sjson.SetBytes(payload, "sha", commitSHA)
	_, err := g.do(ctx, "create ref", http.MethodPost, g.repoURL("git", "refs"), payload)
	return err
}

// CreatePullRequest opens a PR from head into base.
func (g *GitHubGateway) CreatePullRequest(ctx context.Context, title, body, head, base string) (*PullRequest, error) {
	payload, _ := sjson.SetBytes(nil, "title", title)
	payload, _ = sjson.SetBytes(payload, "body", body)
	payload, _ = sjson.SetBytes(payload, "head", head)
	payload, _ = sjson.SetBytes(payload, "base", base)
	parsed, err := g.do(ctx, "create pull request", http.MethodPost, g.repoURL("pulls"), payload)
	if err != nil {
		return nil, err
	}
	return &PullRequest{
		Number: int(parsed.Get("number").Int()),
		URL:    parsed.Get("html_url").String(),
		Branch: head,
	}, nil
}

// ProposeChange implements Gateway by composing the git data endpoints:
// resolve the base head, upload a blob, graft it onto a tree, commit, branch,
// and open the pull request.
func (g *GitHubGateway) ProposeChange(ctx context.Context, change Change) (*PullRequest, error) {
	base := change.Base
	if base == "" {
		var err error
		if base, err = g.DefaultBranch(ctx); err != nil {
			return nil, err
		}
	}
	parentSHA, err := g.RefSHA(ctx, base)
	if err != nil {
		return nil, err
	}
	commitBody, err := g.do(ctx, "get commit", http.MethodGet, g.repoURL("git", "commits", parentSHA), nil)
	if err != nil {
		return nil, err
	}
	baseTree := commitBody.Get("tree.sha").String()

	blobSHA, err := g.CreateBlob(ctx, change.Content)
	if err != nil {
		return nil, err
	}
	treeSHA, err := g.CreateTree(ctx, baseTree, change.Path, blobSHA)
	if err != nil {
		return nil, err
	}
	commitSHA, err := g.CreateCommit(ctx, change.Message, treeSHA, parentSHA)
	if err != nil {
		return nil, err
	}
	if err := g.CreateRef(ctx, change.Branch, commitSHA); err != nil {
		return nil, err
	}
	pr, err := g.CreatePullRequest(ctx, change.Title, change.Body, change.Branch, base)
	if err != nil {
		return nil, err
	}
	pr.SHA = commitSHA
	log.Infof("vcs: opened pull request #%d (%s -> %s) for %s", pr.Number, change.Branch, base, change.Path)
	return pr, nil
}

// withBaseURL rehomes the gateway for tests.
func (g *GitHubGateway) withBaseURL(u string) *GitHubGateway {
	g.baseURL = u
	return g
}

// withHTTPClient swaps the transport, used with httptest servers.
func (g *GitHubGateway) withHTTPClient(c *http.Client) *GitHubGateway {
	g.client = c
	if g.client.Timeout == 0 {
		g.client.Timeout = 30 * time.Second
	}
	return g
}

var _ Gateway = (*GitHubGateway)(nil)
