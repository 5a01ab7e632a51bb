package internal

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/webhooks/v6/github"
)

var (
	// ErrUnsupportedEvent marks event kinds this deployment does not relay.
	// Callers acknowledge these as a no-op.
	ErrUnsupportedEvent = errors.New("unsupported event")
	// ErrMalformedPayload marks a known event kind whose payload is missing
	// required fields. Callers acknowledge and log, never retry.
	ErrMalformedPayload = errors.New("malformed payload")
)

// PushMode controls whether a push expands to one aggregated notification
// or one notification per commit.
type PushMode string

const (
	PushAggregate PushMode = "aggregate"
	PushPerCommit PushMode = "per_commit"
)

// Normalizer projects raw provider payloads into canonical notifications.
type Normalizer struct {
	pushMode PushMode
	now      func() time.Time
}

// NewNormalizer creates a Normalizer. An empty mode defaults to aggregated
// push notifications.
func NewNormalizer(mode PushMode) *Normalizer {
	if mode == "" {
		mode = PushAggregate
	}
	return &Normalizer{pushMode: mode, now: time.Now}
}

// Normalize maps a parsed webhook payload to zero or more notifications.
// A nil slice with a nil error means the event is recognized but produces
// no output (e.g. a push with no commits, or a PR action we do not relay).
func (n *Normalizer) Normalize(deliveryID string, payload interface{}) ([]Notification, error) {
	switch p := payload.(type) {
	case github.PushPayload:
		return n.normalizePush(deliveryID, p)
	case github.PullRequestPayload:
		return n.normalizePullRequest(deliveryID, p)
	case github.PullRequestReviewPayload:
		return n.normalizeReview(deliveryID, p)
	case github.PullRequestReviewCommentPayload:
		return n.normalizeReviewComment(deliveryID, p)
	case github.IssuesPayload:
		return n.normalizeIssue(deliveryID, p)
	case github.IssueCommentPayload:
		return n.normalizeIssueComment(deliveryID, p)
	case github.CreatePayload:
		return n.normalizeRef(deliveryID, p.Ref, p.RefType, p.Sender.Login, p.Repository.Name, p.Repository.HTMLURL, false)
	case github.DeletePayload:
		return n.normalizeRef(deliveryID, p.Ref, p.RefType, p.Sender.Login, p.Repository.Name, p.Repository.HTMLURL, true)
	default:
		return nil, ErrUnsupportedEvent
	}
}

func (n *Normalizer) normalizePush(deliveryID string, p github.PushPayload) ([]Notification, error) {
	if p.Ref == "" {
		return nil, fmt.Errorf("%w: push without ref", ErrMalformedPayload)
	}
	// Branch create/delete pushes carry no commits and are reported by the
	// create/delete events instead.
	if len(p.Commits) == 0 {
		return nil, nil
	}

	branch := shortRef(p.Ref)
	subject := "branch/" + branch
	now := n.now().UTC()

	if n.pushMode == PushPerCommit {
		out := make([]Notification, 0, len(p.Commits))
		for _, c := range p.Commits {
			out = append(out, Notification{
				Kind:       KindCommitPush,
				DedupKey:   dedupKey(deliveryID, []string{"push", p.Repository.FullName, p.Ref, p.After}, c.ID),
				Actor:      c.Author.Name,
				Subject:    subject,
				Summary:    fmt.Sprintf("Commit to %s: %s", branch, truncate(firstLine(c.Message), 100)),
				URL:        c.URL,
				OccurredAt: now,
				Extra: Extra{
					Repo:          p.Repository.Name,
					Branch:        branch,
					CommitCount:   1,
					Commits:       []CommitRef{{SHA: c.ID, Message: firstLine(c.Message), Author: c.Author.Name, URL: c.URL}},
					FilesAdded:    len(c.Added),
					FilesRemoved:  len(c.Removed),
					FilesModified: len(c.Modified),
				},
			})
		}
		return out, nil
	}

	extra := Extra{
		Repo:        p.Repository.Name,
		Branch:      branch,
		CommitCount: len(p.Commits),
	}
	for _, c := range p.Commits {
		extra.Commits = append(extra.Commits, CommitRef{
			SHA:     c.ID,
			Message: firstLine(c.Message),
			Author:  c.Author.Name,
			URL:     c.URL,
		})
		extra.FilesAdded += len(c.Added)
		extra.FilesRemoved += len(c.Removed)
		extra.FilesModified += len(c.Modified)
	}

	head := p.Commits[len(p.Commits)-1]
	plural := ""
	if len(p.Commits) > 1 {
		plural = "s"
	}
	return []Notification{{
		Kind:       KindCommitPush,
		DedupKey:   dedupKey(deliveryID, []string{"push", p.Repository.FullName, p.Ref, p.After}),
		Actor:      p.Pusher.Name,
		Subject:    subject,
		Summary:    fmt.Sprintf("%d commit%s to %s: %s", len(p.Commits), plural, branch, truncate(firstLine(head.Message), 100)),
		URL:        p.Compare,
		OccurredAt: now,
		Extra:      extra,
	}}, nil
}

func (n *Normalizer) normalizePullRequest(deliveryID string, p github.PullRequestPayload) ([]Notification, error) {
	if p.PullRequest.Number == 0 {
		return nil, fmt.Errorf("%w: pull_request without number", ErrMalformedPayload)
	}

	var kind Kind
	switch p.Action {
	case "opened":
		kind = KindPullRequestOpened
	case "closed":
		// merged is load-bearing: closed-with-merge and closed-unmerged get
		// different kinds, and present-but-false must map to closed.
		if p.PullRequest.Merged {
			kind = KindPullRequestMerged
		} else {
			kind = KindPullRequestClosed
		}
	case "reopened":
		kind = KindPullRequestReopened
	default:
		return nil, nil
	}

	number := p.PullRequest.Number
	verb := map[Kind]string{
		KindPullRequestOpened:   "opened",
		KindPullRequestClosed:   "closed",
		KindPullRequestMerged:   "merged",
		KindPullRequestReopened: "reopened",
	}[kind]

	return []Notification{{
		Kind:       kind,
		DedupKey:   dedupKey(deliveryID, []string{string(kind), p.Repository.FullName, fmt.Sprint(number)}),
		Actor:      p.Sender.Login,
		Subject:    fmt.Sprintf("pr/%d", number),
		Summary:    fmt.Sprintf("PR #%d %s: %s", number, verb, truncate(p.PullRequest.Title, 100)),
		URL:        p.PullRequest.HTMLURL,
		OccurredAt: n.now().UTC(),
		Extra: Extra{
			Repo:       p.Repository.Name,
			Title:      p.PullRequest.Title,
			Branch:     p.PullRequest.Head.Ref,
			BaseBranch: p.PullRequest.Base.Ref,
		},
	}}, nil
}

func (n *Normalizer) normalizeReview(deliveryID string, p github.PullRequestReviewPayload) ([]Notification, error) {
	if p.Action != "submitted" {
		return nil, nil
	}
	if p.PullRequest.Number == 0 {
		return nil, fmt.Errorf("%w: review without pull request number", ErrMalformedPayload)
	}

	number := p.PullRequest.Number
	return []Notification{{
		Kind:       KindReviewSubmitted,
		DedupKey:   dedupKey(deliveryID, []string{"review", p.Repository.FullName, fmt.Sprint(p.Review.ID)}),
		Actor:      p.Review.User.Login,
		Subject:    fmt.Sprintf("pr/%d", number),
		Summary:    fmt.Sprintf("Review on PR #%d: %s", number, p.Review.State),
		URL:        p.Review.HTMLURL,
		OccurredAt: n.now().UTC(),
		Extra: Extra{
			Repo:        p.Repository.Name,
			Title:       p.PullRequest.Title,
			ReviewState: p.Review.State,
			Comment:     truncate(p.Review.Body, 200),
		},
	}}, nil
}

func (n *Normalizer) normalizeReviewComment(deliveryID string, p github.PullRequestReviewCommentPayload) ([]Notification, error) {
	if p.Action != "created" {
		return nil, nil
	}
	if p.PullRequest.Number == 0 {
		return nil, fmt.Errorf("%w: review comment without pull request number", ErrMalformedPayload)
	}

	number := p.PullRequest.Number
	return []Notification{{
		Kind:       KindReviewComment,
		DedupKey:   dedupKey(deliveryID, []string{"review_comment", p.Repository.FullName, fmt.Sprint(p.Comment.ID)}),
		Actor:      p.Comment.User.Login,
		Subject:    fmt.Sprintf("pr/%d", number),
		Summary:    fmt.Sprintf("Review comment on PR #%d", number),
		URL:        p.Comment.HTMLURL,
		OccurredAt: n.now().UTC(),
		Extra: Extra{
			Repo:    p.Repository.Name,
			Title:   p.PullRequest.Title,
			Comment: truncate(p.Comment.Body, 200),
		},
	}}, nil
}

func (n *Normalizer) normalizeIssue(deliveryID string, p github.IssuesPayload) ([]Notification, error) {
	if p.Issue.Number == 0 {
		return nil, fmt.Errorf("%w: issues without number", ErrMalformedPayload)
	}

	var kind Kind
	var verb string
	switch p.Action {
	case "opened", "reopened":
		kind, verb = KindIssueOpened, p.Action
	case "closed":
		kind, verb = KindIssueClosed, "closed"
	default:
		return nil, nil
	}

	number := p.Issue.Number
	return []Notification{{
		Kind:       kind,
		DedupKey:   dedupKey(deliveryID, []string{string(kind), p.Repository.FullName, fmt.Sprint(number), p.Action}),
		Actor:      p.Sender.Login,
		Subject:    fmt.Sprintf("issue/%d", number),
		Summary:    fmt.Sprintf("Issue #%d %s: %s", number, verb, truncate(p.Issue.Title, 100)),
		URL:        p.Issue.HTMLURL,
		OccurredAt: n.now().UTC(),
		Extra: Extra{
			Repo:  p.Repository.Name,
			Title: p.Issue.Title,
		},
	}}, nil
}

func (n *Normalizer) normalizeIssueComment(deliveryID string, p github.IssueCommentPayload) ([]Notification, error) {
	if p.Action != "created" {
		return nil, nil
	}
	if p.Issue.Number == 0 {
		return nil, fmt.Errorf("%w: issue_comment without number", ErrMalformedPayload)
	}

	number := p.Issue.Number
	return []Notification{{
		Kind:       KindIssueCommented,
		DedupKey:   dedupKey(deliveryID, []string{"issue_comment", p.Repository.FullName, fmt.Sprint(p.Comment.ID)}),
		Actor:      p.Comment.User.Login,
		Subject:    fmt.Sprintf("issue/%d", number),
		Summary:    fmt.Sprintf("Comment on issue #%d", number),
		URL:        p.Comment.HTMLURL,
		OccurredAt: n.now().UTC(),
		Extra: Extra{
			Repo:    p.Repository.Name,
			Title:   p.Issue.Title,
			Comment: truncate(p.Comment.Body, 200),
		},
	}}, nil
}

func (n *Normalizer) normalizeRef(deliveryID, ref, refType, actor, repo, repoURL string, deleted bool) ([]Notification, error) {
	if ref == "" || refType == "" {
		return nil, fmt.Errorf("%w: ref event without ref or ref_type", ErrMalformedPayload)
	}
	// Tag churn is noise for a team channel; only branch lifecycle is relayed.
	if refType != "branch" {
		return nil, nil
	}

	kind := KindRefCreated
	verb := "created"
	if deleted {
		kind = KindRefDeleted
		verb = "deleted"
	}

	return []Notification{{
		Kind:       kind,
		DedupKey:   dedupKey(deliveryID, []string{string(kind), repo, ref}),
		Actor:      actor,
		Subject:    "branch/" + ref,
		Summary:    fmt.Sprintf("Branch %s %s", ref, verb),
		URL:        repoURL,
		OccurredAt: n.now().UTC(),
		Extra: Extra{
			Repo:    repo,
			Branch:  ref,
			RefType: refType,
		},
	}}, nil
}
