package internal

import (
	"fmt"
	"strconv"
	"time"

	"gitrelay/pkg/chat"
)

// Embed colors matching GitHub's palette.
const (
	colorBlue   = 0x0366d6
	colorGreen  = 0x28a745
	colorRed    = 0xd73a49
	colorPurple = 0x6f42c1
	colorOrange = 0xfb8500
)

// Render maps a notification to a destination message. Pure function, one
// rendering per kind.
func Render(n Notification) chat.Message {
	embed := chat.Embed{
		URL:       n.URL,
		Timestamp: n.OccurredAt.UTC().Format(time.RFC3339),
	}
	if n.Extra.Repo != "" {
		embed.Footer = &chat.EmbedFooter{Text: n.Extra.Repo}
	}

	switch n.Kind {
	case KindCommitPush:
		plural := ""
		if n.Extra.CommitCount > 1 {
			plural = "s"
		}
		embed.Title = fmt.Sprintf("New Commit%s to `%s`", plural, n.Extra.Branch)
		if len(n.Extra.Commits) > 0 {
			embed.Description = fmt.Sprintf("**%s**", n.Extra.Commits[len(n.Extra.Commits)-1].Message)
		}
		embed.Color = colorBlue
		embed.Fields = []chat.EmbedField{
			{Name: "Author", Value: n.Actor, Inline: true},
			{Name: "Branch", Value: "`" + n.Extra.Branch + "`", Inline: true},
			{Name: "Commits", Value: strconv.Itoa(n.Extra.CommitCount), Inline: true},
			{Name: "Changes", Value: fmt.Sprintf("+%d -%d ~%d files", n.Extra.FilesAdded, n.Extra.FilesRemoved, n.Extra.FilesModified), Inline: true},
		}

	case KindPullRequestOpened, KindPullRequestClosed, KindPullRequestMerged, KindPullRequestReopened:
		status := "Awaiting Review"
		embed.Color = colorBlue
		switch n.Kind {
		case KindPullRequestMerged:
			status = "Merged"
			embed.Color = colorPurple
		case KindPullRequestClosed:
			status = "Closed"
			embed.Color = colorRed
		case KindPullRequestReopened:
			status = "Reopened"
			embed.Color = colorOrange
		}
		embed.Title = n.Summary
		embed.Description = fmt.Sprintf("**%s**", n.Extra.Title)
		embed.Fields = []chat.EmbedField{
			{Name: "Author", Value: n.Actor, Inline: true},
			{Name: "Status", Value: status, Inline: true},
			{Name: "Branch", Value: fmt.Sprintf("`%s -> %s`", n.Extra.Branch, n.Extra.BaseBranch)},
		}

	case KindReviewSubmitted:
		status := "Commented"
		embed.Color = colorBlue
		switch n.Extra.ReviewState {
		case "approved":
			status = "Approved"
			embed.Color = colorGreen
		case "changes_requested":
			status = "Changes Requested"
			embed.Color = colorRed
		}
		embed.Title = n.Summary
		embed.Description = fmt.Sprintf("**%s**", n.Extra.Title)
		comment := n.Extra.Comment
		if comment == "" {
			comment = "No comment provided"
		}
		embed.Fields = []chat.EmbedField{
			{Name: "Reviewer", Value: n.Actor, Inline: true},
			{Name: "Status", Value: status, Inline: true},
			{Name: "Comment", Value: comment},
		}

	case KindReviewComment, KindIssueCommented:
		embed.Title = n.Summary
		embed.Description = fmt.Sprintf("**%s**", n.Extra.Title)
		embed.Color = colorBlue
		embed.Fields = []chat.EmbedField{
			{Name: "Author", Value: n.Actor, Inline: true},
		}
		if n.Extra.Comment != "" {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Comment", Value: n.Extra.Comment})
		}

	case KindIssueOpened, KindIssueClosed:
		embed.Title = n.Summary
		embed.Description = fmt.Sprintf("**%s**", n.Extra.Title)
		embed.Color = colorGreen
		if n.Kind == KindIssueClosed {
			embed.Color = colorRed
		}
		embed.Fields = []chat.EmbedField{
			{Name: "Author", Value: n.Actor, Inline: true},
		}

	case KindRefCreated, KindRefDeleted:
		embed.Title = n.Summary
		embed.Description = fmt.Sprintf("**`%s`**", n.Extra.Branch)
		embed.Color = colorGreen
		if n.Kind == KindRefDeleted {
			embed.Color = colorRed
		}
		embed.Fields = []chat.EmbedField{
			{Name: "By", Value: n.Actor, Inline: true},
		}

	default:
		embed.Title = n.Summary
		embed.Color = colorBlue
	}

	return chat.Message{Embeds: []chat.Embed{embed}}
}
