package domain

import "context"

// Provider abstracts a Git hosting service (GitHub, GitLab, etc.). Each
// implementation handles authentication, repository lookup, fork and review
// request management, and commit statuses for its platform.
type Provider interface {
	// Name returns the provider identifier (e.g. "github", "gitlab").
	Name() string

	// LookupRepository resolves an owner/name pair into a RepositoryRef with
	// its candidate clone URLs populated. Returns ErrRepositoryNotFound when
	// the repository does not exist or is not visible.
	LookupRepository(ctx context.Context, owner, name string) (RepositoryRef, error)

	// ListBranches returns all branches of a repository with their head
	// commits.
	ListBranches(ctx context.Context, repo RepositoryRef) ([]Branch, error)

	// GetBranch looks up a single branch. Returns ErrBranchNotFound when the
	// branch is absent.
	GetBranch(ctx context.Context, repo RepositoryRef, name string) (Branch, error)

	// ResolveRef resolves a fully qualified ref (refs/heads/... or
	// refs/tags/...) into a SourceRef, dereferencing annotated tags to their
	// underlying commit.
	ResolveRef(ctx context.Context, repo RepositoryRef, ref string) (SourceRef, error)

	// ListForks lists the forks of a repository.
	ListForks(ctx context.Context, repo RepositoryRef) ([]RepositoryRef, error)

	// CreateFork creates a fork of the repository owned by the acting
	// identity. Fork creation may be asynchronous on the server side;
	// implementations return the fork reference as soon as it is addressable.
	CreateFork(ctx context.Context, repo RepositoryRef) (RepositoryRef, error)

	// CreateReviewRequest opens a pull/merge request against the repository.
	CreateReviewRequest(ctx context.Context, repo RepositoryRef, input ReviewRequestInput) (*ReviewRequest, error)

	// CreateCommitStatus posts a status on a commit of the repository.
	CreateCommitStatus(ctx context.Context, repo RepositoryRef, sha string, status CommitStatus) error

	// CommitURL returns a browsable URL for a commit.
	CommitURL(ctx context.Context, repo RepositoryRef, sha string) (string, error)

	// CurrentLogin returns the login name of the acting identity.
	CurrentLogin(ctx context.Context) (string, error)

	// PushURL derives an authenticated HTTPS push URL for the repository
	// from the configured credential.
	PushURL(ctx context.Context, repo RepositoryRef) (string, error)
}
