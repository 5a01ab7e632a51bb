package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Kind identifies the canonical notification type.
type Kind string

const (
	KindCommitPush          Kind = "commit_push"
	KindPullRequestOpened   Kind = "pull_request_opened"
	KindPullRequestClosed   Kind = "pull_request_closed"
	KindPullRequestMerged   Kind = "pull_request_merged"
	KindPullRequestReopened Kind = "pull_request_reopened"
	KindReviewSubmitted     Kind = "review_submitted"
	KindReviewComment       Kind = "review_comment"
	KindIssueOpened         Kind = "issue_opened"
	KindIssueClosed         Kind = "issue_closed"
	KindIssueCommented      Kind = "issue_commented"
	KindRefCreated          Kind = "ref_created"
	KindRefDeleted          Kind = "ref_deleted"
)

// Notification is the canonical, provider-agnostic unit of output. The
// normalizer creates it; dedup, queue, and dispatcher consume it read-only.
type Notification struct {
	Kind       Kind      `json:"kind"`
	DedupKey   string    `json:"dedup_key"`
	Actor      string    `json:"actor"`
	Subject    string    `json:"subject"`
	Summary    string    `json:"summary"`
	URL        string    `json:"url"`
	OccurredAt time.Time `json:"occurred_at"`
	Extra      Extra     `json:"extra"`
}

// Extra carries kind-specific detail. Only the fields relevant to the
// notification's kind are populated.
type Extra struct {
	Repo          string      `json:"repo,omitempty"`
	Title         string      `json:"title,omitempty"`
	Branch        string      `json:"branch,omitempty"`
	BaseBranch    string      `json:"base_branch,omitempty"`
	RefType       string      `json:"ref_type,omitempty"`
	CommitCount   int         `json:"commit_count,omitempty"`
	Commits       []CommitRef `json:"commits,omitempty"`
	FilesAdded    int         `json:"files_added,omitempty"`
	FilesRemoved  int         `json:"files_removed,omitempty"`
	FilesModified int         `json:"files_modified,omitempty"`
	ReviewState   string      `json:"review_state,omitempty"`
	Comment       string      `json:"comment,omitempty"`
}

// CommitRef is a single commit inside a push notification.
type CommitRef struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
	URL     string `json:"url"`
}

// dedupKey builds a stable key for a logical event. GitHub reuses the
// X-GitHub-Delivery GUID on redeliveries, so the delivery id alone
// identifies the event; the semantic hash is the fallback when the header
// is absent. Extra parts distinguish multiple notifications produced by a
// single delivery.
func dedupKey(deliveryID string, semantic []string, parts ...string) string {
	if deliveryID != "" {
		if len(parts) == 0 {
			return "gh:" + deliveryID
		}
		return "gh:" + deliveryID + ":" + strings.Join(parts, ":")
	}
	sum := sha256.Sum256([]byte(strings.Join(append(semantic, parts...), "|")))
	return "sha:" + hex.EncodeToString(sum[:])
}

// shortRef strips the refs/heads/ or refs/tags/ prefix from a git ref.
// Nested branch names like feature/cache are kept whole.
func shortRef(ref string) string {
	ref = strings.TrimPrefix(ref, "refs/heads/")
	return strings.TrimPrefix(ref, "refs/tags/")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
