package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	logger "github.com/sirupsen/logrus"
	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/forgeops/subsync/domain"
)

const (
	providerName = "gitlab"
	perPage      = 100
)

// Provider implements domain.Provider for GitLab.
type Provider struct {
	credential domain.Credential
	client     *gl.Client
}

// New creates a new GitLab provider with the given credential.
func New(credential domain.Credential) (domain.Provider, error) {
	var (
		client *gl.Client
		err    error
	)
	if credential.IsToken() {
		client, err = gl.NewClient(credential.Token())
	} else {
		username, password, resolveErr := credential.Resolve(nil)
		if resolveErr != nil {
			return nil, resolveErr
		}
		client, err = gl.NewBasicAuthClient(username, password)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gitlab client: %w", err)
	}
	return &Provider{credential: credential, client: client}, nil
}

func (p *Provider) Name() string { return providerName }

// LookupRepository resolves an owner/name pair into a project reference.
func (p *Provider) LookupRepository(ctx context.Context, owner, name string) (domain.RepositoryRef, error) {
	project, resp, err := p.client.Projects.GetProject(
		owner+"/"+name, &gl.GetProjectOptions{}, gl.WithContext(ctx),
	)
	if err != nil {
		if isNotFound(resp) {
			return domain.RepositoryRef{}, fmt.Errorf("%w: %s/%s", domain.ErrRepositoryNotFound, owner, name)
		}
		return domain.RepositoryRef{}, fmt.Errorf("failed to look up %s/%s: %w", owner, name, err)
	}
	return toRepositoryRef(project), nil
}

// ListBranches returns all branches with their head commits.
func (p *Provider) ListBranches(ctx context.Context, repo domain.RepositoryRef) ([]domain.Branch, error) {
	var all []domain.Branch
	opts := &gl.ListBranchesOptions{
		ListOptions: gl.ListOptions{PerPage: perPage},
	}

	for {
		branches, resp, err := p.client.Branches.ListBranches(
			repo.FullName(), opts, gl.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list branches of %s: %w", repo.FullName(), err)
		}

		for _, b := range branches {
			branch := domain.Branch{Name: b.Name}
			if b.Commit != nil {
				branch.SHA = b.Commit.ID
			}
			all = append(all, branch)
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
	branch, resp, err := p.client.Branches.GetBranch(repo.FullName(), name, gl.WithContext(ctx))
	if err != nil {
		if isNotFound(resp) {
			return domain.Branch{}, fmt.Errorf("%w: %s:%s", domain.ErrBranchNotFound, repo.FullName(), name)
		}
		return domain.Branch{}, fmt.Errorf("failed to look up branch %s:%s: %w", repo.FullName(), name, err)
	}

	result := domain.Branch{Name: branch.Name}
	if branch.Commit != nil {
		result.SHA = branch.Commit.ID
	}
	return result, nil
}

// ResolveRef resolves a fully qualified branch or tag ref. GitLab reports
// the underlying commit for annotated tags, so no local dereference step is
// needed.
func (p *Provider) ResolveRef(ctx context.Context, repo domain.RepositoryRef, ref string) (domain.SourceRef, error) {
	name, kind := trimRef(ref)

	source := domain.SourceRef{
		Repository: repo,
		Ref:        ref,
		Name:       name,
		Kind:       kind,
	}

	switch kind {
	case domain.RefTag:
		tag, resp, err := p.client.Tags.GetTag(repo.FullName(), name, gl.WithContext(ctx))
		if err != nil {
			if isNotFound(resp) {
				return domain.SourceRef{}, fmt.Errorf("%w: no ref %s in %s", domain.ErrRefNotFound, ref, repo.FullName())
			}
			return domain.SourceRef{}, fmt.Errorf("failed to resolve %s in %s: %w", ref, repo.FullName(), err)
		}
		if tag.Commit == nil {
			return domain.SourceRef{}, fmt.Errorf("%w: tag %s has no commit", domain.ErrRefNotFound, name)
		}
		source.CommitSHA = tag.Commit.ID
		if tag.Target != "" && tag.Target != tag.Commit.ID {
			source.TagObjectSHA = tag.Target
		}
	default:
		branch, err := p.GetBranch(ctx, repo, name)
		if err != nil {
			return domain.SourceRef{}, err
		}
		source.CommitSHA = branch.SHA
	}

	return source, nil
}

// ListForks lists the forks of a project.
func (p *Provider) ListForks(ctx context.Context, repo domain.RepositoryRef) ([]domain.RepositoryRef, error) {
	var all []domain.RepositoryRef
	opts := &gl.ListProjectsOptions{
		ListOptions: gl.ListOptions{PerPage: perPage},
	}

	for {
		forks, resp, err := p.client.Projects.ListProjectForks(
			repo.FullName(), opts, gl.WithContext(ctx),
		)
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

// CreateFork forks the project under the acting identity.
func (p *Provider) CreateFork(ctx context.Context, repo domain.RepositoryRef) (domain.RepositoryRef, error) {
	fork, _, err := p.client.Projects.ForkProject(
		repo.FullName(), &gl.ForkProjectOptions{}, gl.WithContext(ctx),
	)
	if err != nil {
		return domain.RepositoryRef{}, fmt.Errorf("failed to fork %s: %w", repo.FullName(), err)
	}
	return toRepositoryRef(fork), nil
}

// CreateReviewRequest opens a merge request from the fork branch against the
// target project.
func (p *Provider) CreateReviewRequest(
	ctx context.Context,
	repo domain.RepositoryRef,
	input domain.ReviewRequestInput,
) (*domain.ReviewRequest, error) {
	targetProjectID, err := strconv.ParseInt(repo.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid project id %q for %s: %w", repo.ID, repo.FullName(), err)
	}

	// Cross-project merge requests are created on the fork, targeting the
	// upstream project by id.
	mr, _, err := p.client.MergeRequests.CreateMergeRequest(
		input.SourceRepository.FullName(),
		&gl.CreateMergeRequestOptions{
			Title:           gl.Ptr(input.Title),
			Description:     gl.Ptr(input.Description),
			SourceBranch:    gl.Ptr(input.SourceBranch),
			TargetBranch:    gl.Ptr(input.TargetBranch),
			TargetProjectID: gl.Ptr(targetProjectID),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create merge request on %s: %w", repo.FullName(), err)
	}

	return &domain.ReviewRequest{
		ID:     int(mr.IID),
		Title:  mr.Title,
		URL:    mr.WebURL,
		Status: mr.State,
	}, nil
}

// CreateCommitStatus posts a status on a commit.
func (p *Provider) CreateCommitStatus(
	ctx context.Context,
	repo domain.RepositoryRef,
	sha string,
	status domain.CommitStatus,
) error {
	_, _, err := p.client.Commits.SetCommitStatus(
		repo.FullName(), sha,
		&gl.SetCommitStatusOptions{
			State:       gl.BuildStateValue(status.State),
			Context:     gl.Ptr(status.Context),
			TargetURL:   gl.Ptr(status.TargetURL),
			Description: gl.Ptr(status.Description),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to create status for %s@%s: %w", repo.FullName(), sha, err)
	}
	return nil
}

// CommitURL returns the browsable URL of a commit.
func (p *Provider) CommitURL(ctx context.Context, repo domain.RepositoryRef, sha string) (string, error) {
	commit, _, err := p.client.Commits.GetCommit(
		repo.FullName(), sha, &gl.GetCommitOptions{}, gl.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("failed to look up commit %s@%s: %w", repo.FullName(), sha, err)
	}
	return commit.WebURL, nil
}

// CurrentLogin returns the authenticated user's username.
func (p *Provider) CurrentLogin(ctx context.Context) (string, error) {
	user, _, err := p.client.Users.CurrentUser(gl.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to resolve authenticated user: %w", err)
	}
	return user.Username, nil
}

// PushURL derives an authenticated HTTPS push URL for the project.
func (p *Provider) PushURL(ctx context.Context, repo domain.RepositoryRef) (string, error) {
	username, secret, err := p.credential.Resolve(func() (string, error) {
		return p.CurrentLogin(ctx)
	})
	if err != nil {
		return "", err
	}

	cloneURL := repo.CloneURL
	if cloneURL == "" {
		cloneURL = fmt.Sprintf("https://gitlab.com/%s.git", repo.FullName())
	}
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse clone URL %q: %w", cloneURL, err)
	}
	u.User = url.UserPassword(username, secret)
	return u.String(), nil
}

func toRepositoryRef(project *gl.Project) domain.RepositoryRef {
	owner := ""
	if project.Namespace != nil {
		owner = project.Namespace.FullPath
	}

	ref := domain.NewRepositoryRef(domain.RepositoryRef{
		ID:            strconv.FormatInt(int64(project.ID), 10),
		Owner:         owner,
		Name:          project.Path,
		DefaultBranch: project.DefaultBranch,
		CloneURL:      project.HTTPURLToRepo,
		SSHURL:        project.SSHURLToRepo,
		HTMLURL:       project.WebURL,
		ProviderName:  providerName,
	})
	if ref.DefaultBranch == "" {
		logger.Debugf("Project %s has no default branch set", ref.FullName())
	}
	return ref
}

func trimRef(ref string) (string, domain.RefKind) {
	if after, ok := strings.CutPrefix(ref, "refs/tags/"); ok {
		return after, domain.RefTag
	}
	if after, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
		return after, domain.RefBranch
	}
	return ref, domain.RefBranch
}

func isNotFound(resp *gl.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}
