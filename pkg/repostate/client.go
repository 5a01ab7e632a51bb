// Package repostate provides read-only access to the source repository's
// current state for the on-demand command surface. The webhook pipeline
// never calls it.
package repostate

import (
	"context"
	"fmt"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client wraps the GitHub API for one repository.
type Client struct {
	gh    *gh.Client
	owner string
	repo  string
	now   func() time.Time
}

// PullRequest summarizes a pull request for display.
type PullRequest struct {
	Number       int
	Title        string
	Author       string
	Branch       string
	URL          string
	State        string
	Body         string
	CreatedAt    time.Time
	Age          string
	Reviewers    map[string]string
	Merged       bool
	Additions    int
	Deletions    int
	FilesChanged int
}

// Commit summarizes a commit for display.
type Commit struct {
	SHA     string
	Author  string
	Message string
	URL     string
}

// Branch summarizes a branch for display.
type Branch struct {
	Name      string
	Protected bool
}

// Status aggregates repository activity counts.
type Status struct {
	RepoName      string
	CommitsToday  int
	OpenPRs       int
	OpenIssues    int
	Branches      int
	DefaultBranch string
}

// NewClient creates a client for "owner/name" using a personal access
// token. An optional baseURL targets GitHub Enterprise.
func NewClient(ctx context.Context, token, repo, baseURL string) (*Client, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("repo must be in owner/name form, got %q", repo)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)

	client := gh.NewClient(httpClient)
	if baseURL != "" {
		enterprise, err := gh.NewEnterpriseClient(baseURL, baseURL, httpClient)
		if err != nil {
			return nil, err
		}
		client = enterprise
	}

	return &Client{gh: client, owner: owner, repo: name, now: time.Now}, nil
}

// OpenPullRequests lists open pull requests, newest first, with reviewer
// states.
func (c *Client) OpenPullRequests(ctx context.Context) ([]PullRequest, error) {
	prs, _, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, &gh.PullRequestListOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, err
	}

	out := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		reviewers, err := c.reviewerStates(ctx, pr.GetNumber())
		if err != nil {
			return nil, err
		}
		out = append(out, PullRequest{
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			Author:    pr.GetUser().GetLogin(),
			Branch:    fmt.Sprintf("%s -> %s", pr.GetHead().GetRef(), pr.GetBase().GetRef()),
			URL:       pr.GetHTMLURL(),
			State:     pr.GetState(),
			CreatedAt: pr.GetCreatedAt().Time,
			Age:       formatAge(c.now().Sub(pr.GetCreatedAt().Time)),
			Reviewers: reviewers,
		})
	}
	return out, nil
}

// PullRequestByNumber fetches one pull request with diff stats.
func (c *Client) PullRequestByNumber(ctx context.Context, number int) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, err
	}
	reviewers, err := c.reviewerStates(ctx, number)
	if err != nil {
		return nil, err
	}

	body := pr.GetBody()
	if body == "" {
		body = "No description provided."
	}
	return &PullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Author:       pr.GetUser().GetLogin(),
		Branch:       fmt.Sprintf("%s -> %s", pr.GetHead().GetRef(), pr.GetBase().GetRef()),
		URL:          pr.GetHTMLURL(),
		State:        pr.GetState(),
		Body:         body,
		CreatedAt:    pr.GetCreatedAt().Time,
		Age:          formatAge(c.now().Sub(pr.GetCreatedAt().Time)),
		Reviewers:    reviewers,
		Merged:       pr.GetMerged(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		FilesChanged: pr.GetChangedFiles(),
	}, nil
}

// RecentCommits lists the latest commits on a branch.
func (c *Client) RecentCommits(ctx context.Context, branch string, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 10
	}
	commits, _, err := c.gh.Repositories.ListCommits(ctx, c.owner, c.repo, &gh.CommitsListOptions{
		SHA:         branch,
		ListOptions: gh.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, err
	}

	out := make([]Commit, 0, len(commits))
	for _, commit := range commits {
		sha := commit.GetSHA()
		if len(sha) > 7 {
			sha = sha[:7]
		}
		out = append(out, Commit{
			SHA:     sha,
			Author:  commit.GetCommit().GetAuthor().GetName(),
			Message: commit.GetCommit().GetMessage(),
			URL:     commit.GetHTMLURL(),
		})
	}
	return out, nil
}

// Branches lists the repository's branches.
func (c *Client) Branches(ctx context.Context) ([]Branch, error) {
	branches, _, err := c.gh.Repositories.ListBranches(ctx, c.owner, c.repo, &gh.BranchListOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, err
	}

	out := make([]Branch, 0, len(branches))
	for _, branch := range branches {
		out = append(out, Branch{Name: branch.GetName(), Protected: branch.GetProtected()})
	}
	return out, nil
}

// RepositoryStatus aggregates today's commit count and open PR/issue/branch
// totals.
func (c *Client) RepositoryStatus(ctx context.Context) (*Status, error) {
	repo, _, err := c.gh.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return nil, err
	}

	prs, _, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, &gh.PullRequestListOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, err
	}

	branches, err := c.Branches(ctx)
	if err != nil {
		return nil, err
	}

	midnight := c.now().UTC().Truncate(24 * time.Hour)
	commits, _, err := c.gh.Repositories.ListCommits(ctx, c.owner, c.repo, &gh.CommitsListOptions{
		Since:       midnight,
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, err
	}

	// open_issues_count includes pull requests.
	openIssues := repo.GetOpenIssuesCount() - len(prs)
	if openIssues < 0 {
		openIssues = 0
	}
	return &Status{
		RepoName:      repo.GetFullName(),
		CommitsToday:  len(commits),
		OpenPRs:       len(prs),
		OpenIssues:    openIssues,
		Branches:      len(branches),
		DefaultBranch: repo.GetDefaultBranch(),
	}, nil
}

func (c *Client) reviewerStates(ctx context.Context, number int) (map[string]string, error) {
	reviews, _, err := c.gh.PullRequests.ListReviews(ctx, c.owner, c.repo, number, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, err
	}
	states := make(map[string]string, len(reviews))
	for _, review := range reviews {
		states[review.GetUser().GetLogin()] = review.GetState()
	}
	return states, nil
}

// formatAge renders a duration as the largest two units, e.g. "3d 4h".
func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
