package github

import (
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

// Record normalization. Each helper maps one API entity to the flat
// field set the downstream centrality analysis consumes. The core is
// agnostic to these schemas; sinks serialize the fields as-is.

func repoRecord(key string, repo *gh.Repository) domain.Record {
	return domain.Record{
		UnitKey: key,
		Kind:    domain.KindRepo,
		Fields: map[string]any{
			"full_name":   repo.GetFullName(),
			"language":    repo.GetLanguage(),
			"stars":       repo.GetStargazersCount(),
			"forks":       repo.GetForksCount(),
			"watchers":    repo.GetSubscribersCount(),
			"open_issues": repo.GetOpenIssuesCount(),
			"created_at":  timestamp(repo.GetCreatedAt()),
			"pushed_at":   timestamp(repo.GetPushedAt()),
		},
	}
}

func contributorRecords(key string, contributors []*gh.Contributor) []domain.Record {
	records := make([]domain.Record, 0, len(contributors))
	for _, c := range contributors {
		records = append(records, domain.Record{
			UnitKey: key,
			Kind:    domain.KindContributors,
			Fields: map[string]any{
				"login":         c.GetLogin(),
				"id":            c.GetID(),
				"type":          c.GetType(),
				"contributions": c.GetContributions(),
			},
		})
	}
	return records
}

func pullRecords(key string, pulls []*gh.PullRequest) []domain.Record {
	records := make([]domain.Record, 0, len(pulls))
	for _, pr := range pulls {
		records = append(records, domain.Record{
			UnitKey: key,
			Kind:    domain.KindPulls,
			Fields: map[string]any{
				"number":     pr.GetNumber(),
				"user":       pr.GetUser().GetLogin(),
				"state":      pr.GetState(),
				"created_at": timestamp(pr.GetCreatedAt()),
				"closed_at":  timestamp(pr.GetClosedAt()),
				"merged_at":  timestamp(pr.GetMergedAt()),
			},
		})
	}
	return records
}

func issueRecords(key string, issues []*gh.Issue) []domain.Record {
	records := make([]domain.Record, 0, len(issues))
	for _, issue := range issues {
		// The issues endpoint also returns pull requests; PRs are
		// harvested separately.
		if issue.IsPullRequest() {
			continue
		}
		records = append(records, domain.Record{
			UnitKey: key,
			Kind:    domain.KindIssues,
			Fields: map[string]any{
				"number":     issue.GetNumber(),
				"user":       issue.GetUser().GetLogin(),
				"state":      issue.GetState(),
				"comments":   issue.GetComments(),
				"created_at": timestamp(issue.GetCreatedAt()),
				"closed_at":  timestamp(issue.GetClosedAt()),
			},
		})
	}
	return records
}

func commentRecords(key string, comments []*gh.IssueComment) []domain.Record {
	records := make([]domain.Record, 0, len(comments))
	for _, c := range comments {
		records = append(records, domain.Record{
			UnitKey: key,
			Kind:    domain.KindComments,
			Fields: map[string]any{
				"id":         c.GetID(),
				"user":       c.GetUser().GetLogin(),
				"issue_url":  c.GetIssueURL(),
				"created_at": timestamp(c.GetCreatedAt()),
			},
		})
	}
	return records
}

func reviewCommentRecords(key string, comments []*gh.PullRequestComment) []domain.Record {
	records := make([]domain.Record, 0, len(comments))
	for _, c := range comments {
		records = append(records, domain.Record{
			UnitKey: key,
			Kind:    domain.KindReviewComments,
			Fields: map[string]any{
				"id":               c.GetID(),
				"user":             c.GetUser().GetLogin(),
				"pull_request_url": c.GetPullRequestURL(),
				"path":             c.GetPath(),
				"created_at":       timestamp(c.GetCreatedAt()),
			},
		})
	}
	return records
}

func commitRecords(key string, commits []*gh.RepositoryCommit) []domain.Record {
	records := make([]domain.Record, 0, len(commits))
	for _, c := range commits {
		fields := map[string]any{
			"sha":    c.GetSHA(),
			"author": c.GetAuthor().GetLogin(),
		}
		if commit := c.GetCommit(); commit != nil {
			fields["date"] = timestamp(commit.GetAuthor().GetDate())
			if fields["author"] == "" {
				// Unlinked commits still carry the git author name.
				fields["author"] = commit.GetAuthor().GetName()
			}
		}
		records = append(records, domain.Record{
			UnitKey: key,
			Kind:    domain.KindCommits,
			Fields:  fields,
		})
	}
	return records
}

func stargazerRecords(key string, stargazers []*gh.Stargazer) []domain.Record {
	records := make([]domain.Record, 0, len(stargazers))
	for _, s := range stargazers {
		records = append(records, domain.Record{
			UnitKey: key,
			Kind:    domain.KindStargazers,
			Fields: map[string]any{
				"user":       s.GetUser().GetLogin(),
				"starred_at": timestamp(s.GetStarredAt()),
			},
		})
	}
	return records
}

func forkRecords(key string, forks []*gh.Repository) []domain.Record {
	records := make([]domain.Record, 0, len(forks))
	for _, fork := range forks {
		records = append(records, domain.Record{
			UnitKey: key,
			Kind:    domain.KindForks,
			Fields: map[string]any{
				"full_name":  fork.GetFullName(),
				"owner":      fork.GetOwner().GetLogin(),
				"stars":      fork.GetStargazersCount(),
				"created_at": timestamp(fork.GetCreatedAt()),
			},
		})
	}
	return records
}

// timestamp renders a go-github timestamp as RFC3339, empty when unset.
func timestamp(ts gh.Timestamp) string {
	if ts.Time.IsZero() {
		return ""
	}
	return ts.Time.UTC().Format(time.RFC3339)
}
