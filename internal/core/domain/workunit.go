package domain

import (
	"fmt"
	"strings"
)

// EntityKind identifies what a work unit fetches.
type EntityKind string

const (
	KindRepo         EntityKind = "repo"
	KindContributors EntityKind = "contributors"
	KindPulls        EntityKind = "prs"
	KindIssues       EntityKind = "issues"
	KindCommits      EntityKind = "commits"
	KindStargazers   EntityKind = "stars"
	KindForks        EntityKind = "forks"

	// KindComments covers conversation comments on issues and pull
	// requests; KindReviewComments covers inline review comments on
	// pull request diffs. Both are harvested repo-wide.
	KindComments       EntityKind = "comments"
	KindReviewComments EntityKind = "review_comments"
)

// AllEntityKinds returns every harvestable entity kind.
func AllEntityKinds() []EntityKind {
	return []EntityKind{
		KindRepo, KindContributors, KindPulls, KindIssues,
		KindComments, KindReviewComments,
		KindCommits, KindStargazers, KindForks,
	}
}

// ParseEntityKinds parses a comma-separated kinds string.
func ParseEntityKinds(s string) ([]EntityKind, error) {
	valid := map[string]EntityKind{}
	for _, k := range AllEntityKinds() {
		valid[string(k)] = k
	}

	parts := strings.Split(s, ",")
	kinds := make([]EntityKind, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToLower(part))
		if part == "" {
			continue
		}
		k, ok := valid[part]
		if !ok {
			return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, part)
		}
		kinds = append(kinds, k)
	}

	if len(kinds) == 0 {
		return AllEntityKinds(), nil
	}
	return kinds, nil
}

// WorkState is the lifecycle state of a work unit.
type WorkState string

const (
	WorkPending  WorkState = "pending"
	WorkInFlight WorkState = "in-flight"
	WorkDone     WorkState = "done"
	WorkFailed   WorkState = "failed"
)

// FetchSpec describes one API fetch target. It is the payload of a work
// unit; the executor hands it to the transport untouched.
type FetchSpec struct {
	Kind    EntityKind
	Owner   string
	Repo    string
	Page    int
	PerPage int
}

// WorkUnit is a single schedulable fetch target. Its key is stable across
// runs so the checkpoint store can skip completed units on resume.
type WorkUnit struct {
	// Key uniquely identifies the unit, e.g. "prs:golang/go:3".
	Key string

	// ParentKey links a dynamically-enqueued page to the unit that
	// discovered it. Empty for seed units.
	ParentKey string

	// Spec describes what to request.
	Spec FetchSpec

	// Attempts counts execution attempts consumed by transient failures.
	Attempts int

	// State is the current lifecycle state.
	State WorkState
}

// UnitKey builds the stable key for a fetch spec.
func UnitKey(spec FetchSpec) string {
	if spec.Kind == KindRepo {
		return fmt.Sprintf("%s:%s/%s", spec.Kind, spec.Owner, spec.Repo)
	}
	return fmt.Sprintf("%s:%s/%s:%d", spec.Kind, spec.Owner, spec.Repo, spec.Page)
}

// NewWorkUnit creates a Pending work unit for a fetch spec.
func NewWorkUnit(spec FetchSpec) WorkUnit {
	return WorkUnit{
		Key:   UnitKey(spec),
		Spec:  spec,
		State: WorkPending,
	}
}

// NextPage derives the follow-up unit for the next page of this unit's
// target. The child records this unit as its parent.
func (u WorkUnit) NextPage(page int) WorkUnit {
	spec := u.Spec
	spec.Page = page
	return WorkUnit{
		Key:       UnitKey(spec),
		ParentKey: u.Key,
		Spec:      spec,
		State:     WorkPending,
	}
}
