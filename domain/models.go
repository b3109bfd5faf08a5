package domain

import (
	"fmt"
	"strings"
)

// RepositoryRef identifies a hosted repository together with its candidate
// clone URLs. The candidate set is computed once at construction time and the
// value is immutable afterwards, so it is safe to share across goroutines.
type RepositoryRef struct {
	ID            string
	Owner         string
	Name          string
	DefaultBranch string
	CloneURL      string // canonical HTTPS clone URL
	GitURL        string // anonymous git:// URL, if the host publishes one
	SSHURL        string
	HTMLURL       string
	ProviderName  string

	candidateURLs map[string]struct{}
}

// NewRepositoryRef builds a RepositoryRef and precomputes its URL-equivalence
// set: every clone URL variant, each with and without the trailing ".git"
// suffix, normalized to lower case.
func NewRepositoryRef(ref RepositoryRef) RepositoryRef {
	candidates := make(map[string]struct{})
	for _, u := range []string{ref.CloneURL, ref.GitURL, ref.SSHURL, ref.HTMLURL} {
		if u == "" {
			continue
		}
		for _, variant := range urlVariants(u) {
			candidates[variant] = struct{}{}
		}
	}
	ref.candidateURLs = candidates
	return ref
}

// urlVariants normalizes a single clone URL into its comparable forms.
// SCP-like SSH URLs (git@host:owner/repo.git) are also expanded into the
// ssh:// form, and vice versa.
func urlVariants(rawURL string) []string {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	variants := []string{u}

	if after, ok := strings.CutPrefix(u, "ssh://"); ok {
		if host, path, found := strings.Cut(after, "/"); found {
			variants = append(variants, host+":"+path)
		}
	} else if !strings.Contains(u, "://") && strings.Contains(u, "@") {
		if host, path, found := strings.Cut(u, ":"); found {
			variants = append(variants, "ssh://"+host+"/"+path)
		}
	}

	all := make([]string, 0, len(variants)*2)
	for _, v := range variants {
		all = append(all, v)
		if trimmed, ok := strings.CutSuffix(v, ".git"); ok {
			all = append(all, trimmed)
		} else {
			all = append(all, v+".git")
		}
	}
	return all
}

// FullName returns the repository identity in "owner/name" form.
func (r RepositoryRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// MatchesRemoteURL reports whether the given remote URL belongs to this
// repository's URL-equivalence set.
func (r RepositoryRef) MatchesRemoteURL(remoteURL string) bool {
	for _, variant := range urlVariants(remoteURL) {
		if _, ok := r.candidateURLs[variant]; ok {
			return true
		}
	}
	return false
}

// SameRemote reports whether two references point at the same remote, i.e.
// their candidate URL sets intersect.
func (r RepositoryRef) SameRemote(other RepositoryRef) bool {
	for u := range other.candidateURLs {
		if _, ok := r.candidateURLs[u]; ok {
			return true
		}
	}
	return false
}

// BranchSpecKind selects how a target branch token is resolved.
type BranchSpecKind int

const (
	// BranchExact requires the named branch to exist; absence is a
	// configuration error.
	BranchExact BranchSpecKind = iota
	// BranchOptional drops the target silently when the branch is absent.
	BranchOptional
	// BranchLatestBySuffix scans branches starting with the given prefix and
	// picks the one with the numerically largest trailing decimal suffix.
	BranchLatestBySuffix
)

// BranchSpec is a branch token plus its resolution mode. For
// BranchLatestBySuffix the Name field holds the prefix.
type BranchSpec struct {
	Kind BranchSpecKind
	Name string
}

// TargetSelector is a raw (repository, branch-spec) pair as given on the
// command line, before resolution against the hosting service.
type TargetSelector struct {
	Owner  string
	Name   string
	Branch BranchSpec
}

// ResolvedTarget is a concrete (repository, branch) pair produced by the
// reference resolver.
type ResolvedTarget struct {
	Repository RepositoryRef
	Branch     string
}

// Branch is a named branch and its head commit.
type Branch struct {
	Name string
	SHA  string
}

// Identity is the author/committer signature applied to generated commits.
type Identity struct {
	Name  string
	Email string
}

func (i Identity) String() string {
	return fmt.Sprintf("%s <%s>", i.Name, i.Email)
}

// RefKind classifies a source reference.
type RefKind string

const (
	RefBranch RefKind = "branch"
	RefTag    RefKind = "tag"
)

// SourceRef is a resolved reference of the source repository. CommitSHA is
// always the underlying commit: annotated tags are dereferenced at
// resolution time.
type SourceRef struct {
	Repository RepositoryRef
	Ref        string // full ref, e.g. refs/tags/v1.2.3
	Name       string // short name, e.g. v1.2.3
	Kind       RefKind
	CommitSHA  string
	// TagObjectSHA is set when the ref points at an annotated tag object
	// rather than directly at a commit.
	TagObjectSHA string
}

// ShortSHA returns the abbreviated commit id used in generated branch names.
func (s SourceRef) ShortSHA() string {
	const short = 7
	if len(s.CommitSHA) < short {
		return s.CommitSHA
	}
	return s.CommitSHA[:short]
}

// SubmoduleEntry describes one submodule declared in a working copy that
// points at the source repository. Depth 0 entries belong to the target
// repository itself; deeper entries were found by descending into
// submodules of submodules.
type SubmoduleEntry struct {
	Path       string
	Name       string
	URL        string
	CurrentSHA string
	Depth      int
}

// UpdateResult is the outcome of building one aggregate submodule-update
// commit in a working copy.
type UpdateResult struct {
	Workdir        string
	CommitSHA      string
	MaterialChange bool
	UpdatedPaths   []string
}

// OutcomeKind tags how a target was published.
type OutcomeKind int

const (
	// OutcomeNoOp means every matched submodule was already at the target
	// commit.
	OutcomeNoOp OutcomeKind = iota
	// OutcomePushedDirectly means the update commit was pushed onto the
	// target branch.
	OutcomePushedDirectly
	// OutcomeReviewRequestOpened means a review request was opened from a
	// fork branch.
	OutcomeReviewRequestOpened
	// OutcomeDryRunBranch means a branch was pushed to the fork but no
	// review request was opened (dry-run mode).
	OutcomeDryRunBranch
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoOp:
		return "no-op"
	case OutcomePushedDirectly:
		return "pushed"
	case OutcomeReviewRequestOpened:
		return "review-request"
	case OutcomeDryRunBranch:
		return "dry-run-branch"
	default:
		return "unknown"
	}
}

// PublicationOutcome records what happened to a single target.
type PublicationOutcome struct {
	Target    ResolvedTarget
	Kind      OutcomeKind
	CommitSHA string
	// ReviewRequest is set for OutcomeReviewRequestOpened.
	ReviewRequest *ReviewRequest
	// Fork and ForkBranch are set for OutcomeDryRunBranch and
	// OutcomeReviewRequestOpened.
	Fork       *RepositoryRef
	ForkBranch string
	// StatusReportFailed marks a degraded success: the push or review
	// request succeeded but the commit status could not be posted.
	StatusReportFailed bool
}

// ReviewRequest represents a pull/merge request returned by a provider.
type ReviewRequest struct {
	ID     int
	Title  string
	URL    string
	Status string
}

// ReviewRequestInput contains the data needed to open a review request from
// a fork branch against a target branch.
type ReviewRequestInput struct {
	// SourceRepository is the fork holding the source branch.
	SourceRepository RepositoryRef
	SourceBranch     string
	TargetBranch     string
	Title            string
	Description      string
}

// CommitStatus is posted on the source commit to describe a publication
// outcome.
type CommitStatus struct {
	State       string
	TargetURL   string
	Description string
	Context     string
}
