// Package testdoubles provides test doubles (spies, stubs, dummies) for domain
// interfaces. These are hand-crafted implementations, no mock frameworks.
package testdoubles

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgeops/subsync/domain"
)

// ---------------------------------------------------------------------------
// SpyProvider
// ---------------------------------------------------------------------------

// SpyProvider implements domain.Provider as a configurable spy.
// Configure the response fields for the methods your test exercises,
// then inspect the call-tracking fields to verify behavior.
type SpyProvider struct {
	mu sync.Mutex

	// --- identity ---
	ProviderName string
	Login        string
	LoginErr     error

	// --- LookupRepository ---
	Repositories map[string]domain.RepositoryRef // "owner/name" -> ref
	LookupErr    error
	// spy: full names that were requested
	LookedUp []string

	// --- ListBranches / GetBranch ---
	Branches      map[string][]domain.Branch // "owner/name" -> branches
	ListBranchErr error

	// --- ResolveRef ---
	Source        domain.SourceRef
	ResolveRefErr error

	// --- ListForks / CreateFork ---
	Forks         []domain.RepositoryRef
	ListForksErr  error
	CreatedFork   domain.RepositoryRef
	CreateForkErr error
	// spy: repositories that were forked
	ForkedRepos []string

	// --- CreateReviewRequest ---
	CreatedReview   *domain.ReviewRequest
	CreateReviewErr error
	// spy: inputs received per repository
	ReviewInputs []domain.ReviewRequestInput

	// --- CreateCommitStatus ---
	StatusErr error
	// spy: statuses posted, keyed by sha
	Statuses map[string][]domain.CommitStatus

	// --- CommitURL / PushURL ---
	CommitURLErr error
	PushURLs     map[string]string // "owner/name" -> push URL
	PushURLErr   error
}

var _ domain.Provider = (*SpyProvider)(nil)

func (p *SpyProvider) Name() string {
	if p.ProviderName == "" {
		return "spy"
	}
	return p.ProviderName
}

func (p *SpyProvider) LookupRepository(
	_ context.Context,
	owner, name string,
) (domain.RepositoryRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fullName := owner + "/" + name
	p.LookedUp = append(p.LookedUp, fullName)
	if p.LookupErr != nil {
		return domain.RepositoryRef{}, p.LookupErr
	}
	if repo, ok := p.Repositories[fullName]; ok {
		return repo, nil
	}
	return domain.RepositoryRef{}, fmt.Errorf("%w: %s", domain.ErrRepositoryNotFound, fullName)
}

func (p *SpyProvider) ListBranches(
	_ context.Context,
	repo domain.RepositoryRef,
) ([]domain.Branch, error) {
	if p.ListBranchErr != nil {
		return nil, p.ListBranchErr
	}
	return p.Branches[repo.FullName()], nil
}

func (p *SpyProvider) GetBranch(
	_ context.Context,
	repo domain.RepositoryRef,
	name string,
) (domain.Branch, error) {
	for _, branch := range p.Branches[repo.FullName()] {
		if branch.Name == name {
			return branch, nil
		}
	}
	return domain.Branch{}, fmt.Errorf("%w: %s", domain.ErrBranchNotFound, name)
}

func (p *SpyProvider) ResolveRef(
	_ context.Context,
	_ domain.RepositoryRef,
	_ string,
) (domain.SourceRef, error) {
	if p.ResolveRefErr != nil {
		return domain.SourceRef{}, p.ResolveRefErr
	}
	return p.Source, nil
}

func (p *SpyProvider) ListForks(
	_ context.Context,
	_ domain.RepositoryRef,
) ([]domain.RepositoryRef, error) {
	return p.Forks, p.ListForksErr
}

func (p *SpyProvider) CreateFork(
	_ context.Context,
	repo domain.RepositoryRef,
) (domain.RepositoryRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ForkedRepos = append(p.ForkedRepos, repo.FullName())
	if p.CreateForkErr != nil {
		return domain.RepositoryRef{}, p.CreateForkErr
	}
	return p.CreatedFork, nil
}

func (p *SpyProvider) CreateReviewRequest(
	_ context.Context,
	_ domain.RepositoryRef,
	input domain.ReviewRequestInput,
) (*domain.ReviewRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ReviewInputs = append(p.ReviewInputs, input)
	if p.CreateReviewErr != nil {
		return nil, p.CreateReviewErr
	}
	if p.CreatedReview != nil {
		return p.CreatedReview, nil
	}
	return &domain.ReviewRequest{ID: 1, Title: input.Title, Status: "open"}, nil
}

func (p *SpyProvider) CreateCommitStatus(
	_ context.Context,
	_ domain.RepositoryRef,
	sha string,
	status domain.CommitStatus,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Statuses == nil {
		p.Statuses = make(map[string][]domain.CommitStatus)
	}
	p.Statuses[sha] = append(p.Statuses[sha], status)
	return p.StatusErr
}

func (p *SpyProvider) CommitURL(
	_ context.Context,
	repo domain.RepositoryRef,
	sha string,
) (string, error) {
	if p.CommitURLErr != nil {
		return "", p.CommitURLErr
	}
	return fmt.Sprintf("https://example.test/%s/commit/%s", repo.FullName(), sha), nil
}

func (p *SpyProvider) CurrentLogin(_ context.Context) (string, error) {
	if p.LoginErr != nil {
		return "", p.LoginErr
	}
	return p.Login, nil
}

func (p *SpyProvider) PushURL(
	_ context.Context,
	repo domain.RepositoryRef,
) (string, error) {
	if p.PushURLErr != nil {
		return "", p.PushURLErr
	}
	if url, ok := p.PushURLs[repo.FullName()]; ok {
		return url, nil
	}
	return "https://token@example.test/" + repo.FullName() + ".git", nil
}

// ---------------------------------------------------------------------------
// StubSyncer
// ---------------------------------------------------------------------------

// StubSyncer implements domain.Syncer without touching the filesystem.
type StubSyncer struct {
	mu sync.Mutex

	// --- PrepareUpdate ---
	// Results maps "owner/name" to the prepared update; a missing entry
	// means the target is already up to date (nil result).
	Results    map[string]*domain.UpdateResult
	PrepareErr error
	// PrepareErrs fails PrepareUpdate for specific targets only.
	PrepareErrs map[string]error

	// --- PushCommit / PushBranch ---
	PushCommitErr error
	PushBranchErr error
	// spy: "branch@pushURL" per direct push, "remote/branch" per fork push
	CommitPushes []string
	BranchPushes []string

	// spy: working copies released
	CleanedUp []string
}

var _ domain.Syncer = (*StubSyncer)(nil)

func (s *StubSyncer) PrepareUpdate(
	_ context.Context,
	target domain.ResolvedTarget,
	_ domain.SourceRef,
	_ domain.Identity,
) (*domain.UpdateResult, error) {
	if s.PrepareErr != nil {
		return nil, s.PrepareErr
	}
	if err, ok := s.PrepareErrs[target.Repository.FullName()]; ok {
		return nil, err
	}
	return s.Results[target.Repository.FullName()], nil
}

func (s *StubSyncer) PushCommit(
	_ context.Context,
	_ *domain.UpdateResult,
	branch, pushURL string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CommitPushes = append(s.CommitPushes, branch+"@"+pushURL)
	return s.PushCommitErr
}

func (s *StubSyncer) PushBranch(
	_ context.Context,
	_ *domain.UpdateResult,
	branchName, remoteName, _ string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BranchPushes = append(s.BranchPushes, remoteName+"/"+branchName)
	return s.PushBranchErr
}

func (s *StubSyncer) Cleanup(result *domain.UpdateResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result != nil {
		s.CleanedUp = append(s.CleanedUp, result.Workdir)
	}
}
