package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v80/github"

	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
)

// Fetch issues one API request for the spec using the given token and
// normalizes the response into records. The next page number is taken
// from the response's pagination links; 0 means the target is complete.
func (f *Fetcher) Fetch(ctx context.Context, spec domain.FetchSpec, token string) (*driven.FetchResult, error) {
	client, err := f.client(token)
	if err != nil {
		return nil, err
	}

	key := domain.UnitKey(spec)
	list := gh.ListOptions{Page: spec.Page, PerPage: spec.PerPage}

	var (
		records []domain.Record
		resp    *gh.Response
	)

	switch spec.Kind {
	case domain.KindRepo:
		var repo *gh.Repository
		repo, resp, err = client.Repositories.Get(ctx, spec.Owner, spec.Repo)
		if err == nil {
			records = []domain.Record{repoRecord(key, repo)}
		}

	case domain.KindContributors:
		var contributors []*gh.Contributor
		opts := &gh.ListContributorsOptions{ListOptions: list}
		contributors, resp, err = client.Repositories.ListContributors(ctx, spec.Owner, spec.Repo, opts)
		if err == nil {
			records = contributorRecords(key, contributors)
		}

	case domain.KindPulls:
		var pulls []*gh.PullRequest
		opts := &gh.PullRequestListOptions{State: "all", ListOptions: list}
		pulls, resp, err = client.PullRequests.List(ctx, spec.Owner, spec.Repo, opts)
		if err == nil {
			records = pullRecords(key, pulls)
		}

	case domain.KindIssues:
		var issues []*gh.Issue
		opts := &gh.IssueListByRepoOptions{State: "all", ListOptions: list}
		issues, resp, err = client.Issues.ListByRepo(ctx, spec.Owner, spec.Repo, opts)
		if err == nil {
			records = issueRecords(key, issues)
		}

	case domain.KindComments:
		var comments []*gh.IssueComment
		opts := &gh.IssueListCommentsOptions{ListOptions: list}
		// Issue number 0 lists comments across every issue and pull
		// request in the repository.
		comments, resp, err = client.Issues.ListComments(ctx, spec.Owner, spec.Repo, 0, opts)
		if err == nil {
			records = commentRecords(key, comments)
		}

	case domain.KindReviewComments:
		var comments []*gh.PullRequestComment
		opts := &gh.PullRequestListCommentsOptions{ListOptions: list}
		comments, resp, err = client.PullRequests.ListComments(ctx, spec.Owner, spec.Repo, 0, opts)
		if err == nil {
			records = reviewCommentRecords(key, comments)
		}

	case domain.KindCommits:
		var commits []*gh.RepositoryCommit
		opts := &gh.CommitsListOptions{ListOptions: list}
		commits, resp, err = client.Repositories.ListCommits(ctx, spec.Owner, spec.Repo, opts)
		if err == nil {
			records = commitRecords(key, commits)
		}

	case domain.KindStargazers:
		var stargazers []*gh.Stargazer
		stargazers, resp, err = client.Activity.ListStargazers(ctx, spec.Owner, spec.Repo, &list)
		if err == nil {
			records = stargazerRecords(key, stargazers)
		}

	case domain.KindForks:
		var forks []*gh.Repository
		opts := &gh.RepositoryListForksOptions{ListOptions: list}
		forks, resp, err = client.Repositories.ListForks(ctx, spec.Owner, spec.Repo, opts)
		if err == nil {
			records = forkRecords(key, forks)
		}

	default:
		return nil, fmt.Errorf("%w: unknown entity kind %q", domain.ErrInvalidInput, spec.Kind)
	}

	if err != nil {
		return nil, f.wrapError(err)
	}

	result := &driven.FetchResult{
		Records: records,
		Quota:   quotaFromResponse(resp),
	}
	if resp != nil {
		result.NextPage = resp.NextPage
	}
	return result, nil
}
