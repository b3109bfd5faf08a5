package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	gh "github.com/google/go-github/v66/github"

	"github.com/forgeops/subsync/domain"
)

const (
	providerName = "github"
	perPage      = 100
)

// Provider implements domain.Provider for GitHub.
type Provider struct {
	credential domain.Credential
	client     *gh.Client

	loginOnce sync.Once
	login     string
	loginErr  error
}

// New creates a new GitHub provider with the given credential.
func New(credential domain.Credential) (domain.Provider, error) {
	var client *gh.Client
	if credential.IsToken() {
		client = gh.NewClient(nil).WithAuthToken(credential.Token())
	} else {
		username, password, err := credential.Resolve(nil)
		if err != nil {
			return nil, err
		}
		transport := &gh.BasicAuthTransport{Username: username, Password: password}
		client = gh.NewClient(transport.Client())
	}
	return &Provider{credential: credential, client: client}, nil
}

func (p *Provider) Name() string { return providerName }

// LookupRepository resolves an owner/name pair via the GitHub API.
func (p *Provider) LookupRepository(ctx context.Context, owner, name string) (domain.RepositoryRef, error) {
	repo, resp, err := p.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		if isNotFound(resp, err) {
			return domain.RepositoryRef{}, fmt.Errorf("%w: %s/%s", domain.ErrRepositoryNotFound, owner, name)
		}
		return domain.RepositoryRef{}, fmt.Errorf("failed to look up %s/%s: %w", owner, name, err)
	}
	return toRepositoryRef(repo), nil
}

// ListBranches returns all branches with their head commits.
func (p *Provider) ListBranches(ctx context.Context, repo domain.RepositoryRef) ([]domain.Branch, error) {
	var all []domain.Branch
	opts := &gh.BranchListOptions{
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	for {
		branches, resp, err := p.client.Repositories.ListBranches(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list branches of %s: %w", repo.FullName(), err)
		}

		for _, b := range branches {
			all = append(all, domain.Branch{
				Name: b.GetName(),
				SHA:  b.GetCommit().GetSHA(),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// GetBranch looks up a single branch.
func (p *Provider) GetBranch(ctx context.Context, repo domain.RepositoryRef, name string) (domain.Branch, error) {
	branch, resp, err := p.client.Repositories.GetBranch(ctx, repo.Owner, repo.Name, name, 0)
	if err != nil {
		if isNotFound(resp, err) {
			return domain.Branch{}, fmt.Errorf("%w: %s:%s", domain.ErrBranchNotFound, repo.FullName(), name)
		}
		return domain.Branch{}, fmt.Errorf("failed to look up branch %s:%s: %w", repo.FullName(), name, err)
	}
	return domain.Branch{
		Name: branch.GetName(),
		SHA:  branch.GetCommit().GetSHA(),
	}, nil
}

// ResolveRef resolves a fully qualified ref, dereferencing annotated tag
// objects (including chained tags) to the underlying commit.
func (p *Provider) ResolveRef(ctx context.Context, repo domain.RepositoryRef, ref string) (domain.SourceRef, error) {
	ghRef, resp, err := p.client.Git.GetRef(ctx, repo.Owner, repo.Name, ref)
	if err != nil {
		if isNotFound(resp, err) {
			return domain.SourceRef{}, fmt.Errorf("%w: no ref %s in %s", domain.ErrRefNotFound, ref, repo.FullName())
		}
		return domain.SourceRef{}, fmt.Errorf("failed to resolve %s in %s: %w", ref, repo.FullName(), err)
	}

	name, kind := trimRef(ref)
	source := domain.SourceRef{
		Repository: repo,
		Ref:        ref,
		Name:       name,
		Kind:       kind,
		CommitSHA:  ghRef.GetObject().GetSHA(),
	}

	// Annotated tags point at a tag object; peel until a commit is reached.
	objType := ghRef.GetObject().GetType()
	objSHA := ghRef.GetObject().GetSHA()
	for objType == "tag" {
		if source.TagObjectSHA == "" {
			source.TagObjectSHA = objSHA
		}
		tag, _, tagErr := p.client.Git.GetTag(ctx, repo.Owner, repo.Name, objSHA)
		if tagErr != nil {
			return domain.SourceRef{}, fmt.Errorf("failed to dereference tag %s: %w", objSHA, tagErr)
		}
		objType = tag.GetObject().GetType()
		objSHA = tag.GetObject().GetSHA()
	}
	source.CommitSHA = objSHA

	return source, nil
}

// ListForks lists the forks of a repository.
func (p *Provider) ListForks(ctx context.Context, repo domain.RepositoryRef) ([]domain.RepositoryRef, error) {
	var all []domain.RepositoryRef
	opts := &gh.RepositoryListForksOptions{
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	for {
		forks, resp, err := p.client.Repositories.ListForks(ctx, repo.Owner, repo.Name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list forks of %s: %w", repo.FullName(), err)
		}

		for _, fork := range forks {
			all = append(all, toRepositoryRef(fork))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// CreateFork forks the repository under the acting identity. GitHub forks
// asynchronously; a 202 still means the fork is addressable shortly, so it
// is treated as success.
func (p *Provider) CreateFork(ctx context.Context, repo domain.RepositoryRef) (domain.RepositoryRef, error) {
	fork, _, err := p.client.Repositories.CreateFork(ctx, repo.Owner, repo.Name, nil)
	if err != nil {
		var accepted *gh.AcceptedError
		if !errors.As(err, &accepted) {
			return domain.RepositoryRef{}, fmt.Errorf("failed to fork %s: %w", repo.FullName(), err)
		}
	}
	if fork != nil && fork.GetOwner() != nil {
		return toRepositoryRef(fork), nil
	}

	// Fork creation was queued; resolve it by name under our own login.
	login, err := p.CurrentLogin(ctx)
	if err != nil {
		return domain.RepositoryRef{}, err
	}
	return p.LookupRepository(ctx, login, repo.Name)
}

// CreateReviewRequest opens a pull request from a fork branch.
func (p *Provider) CreateReviewRequest(
	ctx context.Context,
	repo domain.RepositoryRef,
	input domain.ReviewRequestInput,
) (*domain.ReviewRequest, error) {
	head := input.SourceRepository.Owner + ":" + input.SourceBranch
	maintainerCanModify := true

	pr, _, err := p.client.PullRequests.Create(
		ctx, repo.Owner, repo.Name,
		&gh.NewPullRequest{
			Title:               &input.Title,
			Head:                &head,
			Base:                &input.TargetBranch,
			Body:                &input.Description,
			MaintainerCanModify: &maintainerCanModify,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request on %s: %w", repo.FullName(), err)
	}

	return &domain.ReviewRequest{
		ID:     pr.GetNumber(),
		Title:  pr.GetTitle(),
		URL:    pr.GetHTMLURL(),
		Status: pr.GetState(),
	}, nil
}

// CreateCommitStatus posts a status on a commit.
func (p *Provider) CreateCommitStatus(
	ctx context.Context,
	repo domain.RepositoryRef,
	sha string,
	status domain.CommitStatus,
) error {
	_, _, err := p.client.Repositories.CreateStatus(
		ctx, repo.Owner, repo.Name, sha,
		&gh.RepoStatus{
			State:       &status.State,
			TargetURL:   &status.TargetURL,
			Description: &status.Description,
			Context:     &status.Context,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create status for %s@%s: %w", repo.FullName(), sha, err)
	}
	return nil
}

// CommitURL returns the browsable URL of a commit.
func (p *Provider) CommitURL(ctx context.Context, repo domain.RepositoryRef, sha string) (string, error) {
	commit, _, err := p.client.Repositories.GetCommit(ctx, repo.Owner, repo.Name, sha, nil)
	if err != nil {
		return "", fmt.Errorf("failed to look up commit %s@%s: %w", repo.FullName(), sha, err)
	}
	return commit.GetHTMLURL(), nil
}

// CurrentLogin returns the authenticated user's login, cached after the
// first call.
func (p *Provider) CurrentLogin(ctx context.Context) (string, error) {
	p.loginOnce.Do(func() {
		user, _, err := p.client.Users.Get(ctx, "")
		if err != nil {
			p.loginErr = fmt.Errorf("failed to resolve authenticated user: %w", err)
			return
		}
		p.login = user.GetLogin()
	})
	return p.login, p.loginErr
}

// PushURL derives an authenticated HTTPS push URL for the repository.
func (p *Provider) PushURL(ctx context.Context, repo domain.RepositoryRef) (string, error) {
	username, secret, err := p.credential.Resolve(func() (string, error) {
		return p.CurrentLogin(ctx)
	})
	if err != nil {
		return "", err
	}

	cloneURL := repo.CloneURL
	if cloneURL == "" {
		cloneURL = fmt.Sprintf("https://github.com/%s/%s.git", repo.Owner, repo.Name)
	}
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse clone URL %q: %w", cloneURL, err)
	}
	u.User = url.UserPassword(username, secret)
	return u.String(), nil
}

func toRepositoryRef(repo *gh.Repository) domain.RepositoryRef {
	return domain.NewRepositoryRef(domain.RepositoryRef{
		ID:            strconv.FormatInt(repo.GetID(), 10),
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		DefaultBranch: repo.GetDefaultBranch(),
		CloneURL:      repo.GetCloneURL(),
		GitURL:        repo.GetGitURL(),
		SSHURL:        repo.GetSSHURL(),
		HTMLURL:       repo.GetHTMLURL(),
		ProviderName:  providerName,
	})
}

func trimRef(ref string) (string, domain.RefKind) {
	switch {
	case strings.HasPrefix(ref, "refs/heads/"):
		return strings.TrimPrefix(ref, "refs/heads/"), domain.RefBranch
	case strings.HasPrefix(ref, "refs/tags/"):
		return strings.TrimPrefix(ref, "refs/tags/"), domain.RefTag
	default:
		return ref, domain.RefBranch
	}
}

func isNotFound(resp *gh.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var errResp *gh.ErrorResponse
	return errors.As(err, &errResp) &&
		errResp.Response != nil &&
		errResp.Response.StatusCode == http.StatusNotFound
}
