package application

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/forgeops/subsync/config"
	"github.com/forgeops/subsync/domain"
)

// SyncService orchestrates the full propagation flow: resolve the source
// reference, resolve every target, and for each target clone, update, and
// publish by direct push or review request.
type SyncService struct {
	provider domain.Provider
	syncer   domain.Syncer
}

// NewSyncService creates a new service with the given provider and syncer.
func NewSyncService(provider domain.Provider, syncer domain.Syncer) *SyncService {
	return &SyncService{provider: provider, syncer: syncer}
}

// Run executes one propagation run. Configuration problems abort before any
// target is touched; after that, a failing target is logged and the
// remaining targets still run. The returned outcomes cover every target
// that completed, in no particular order when running in parallel.
func (s *SyncService) Run(ctx context.Context, cfg *config.Config) ([]domain.PublicationOutcome, error) {
	sourceRepo, err := s.provider.LookupRepository(ctx, cfg.SourceOwner, cfg.SourceName)
	if err != nil {
		return nil, fmt.Errorf("%w: source repository %s/%s: %v",
			domain.ErrConfiguration, cfg.SourceOwner, cfg.SourceName, err)
	}

	source, err := s.provider.ResolveRef(ctx, sourceRepo, cfg.Ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	logger.Infof("Source %s at %s resolves to %s", sourceRepo.FullName(), cfg.Ref, source.CommitSHA)

	targets, err := ResolveTargets(ctx, s.provider, cfg.Targets)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		outcomes []domain.PublicationOutcome
		errCount int
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.Parallel)

	for _, target := range targets {
		group.Go(func() error {
			logger.Infof("Updating %s:%s...", target.Repository.FullName(), target.Branch)

			outcome, targetErr := s.processTarget(groupCtx, target, source, cfg)

			mu.Lock()
			defer mu.Unlock()
			if targetErr != nil {
				// One target failing must not prevent the others from
				// being attempted.
				logger.Errorf("Failed to update %s:%s: %v",
					target.Repository.FullName(), target.Branch, targetErr)
				errCount++
				return nil
			}
			outcomes = append(outcomes, *outcome)
			return nil
		})
	}
	_ = group.Wait()

	summarize(outcomes, errCount)
	return outcomes, nil
}

// processTarget runs the publication state machine for one target:
//
//	Planned -> NoOp
//	Planned -> Pushing -> Pushed
//	Planned -> Pushing -> PushFailed -> OpeningReview
//	Planned -> OpeningReview -> {ReviewRequestOpened | DryRunBranch}
func (s *SyncService) processTarget(
	ctx context.Context,
	target domain.ResolvedTarget,
	source domain.SourceRef,
	cfg *config.Config,
) (*domain.PublicationOutcome, error) {
	result, err := s.syncer.PrepareUpdate(ctx, target, source, cfg.Committer)
	if err != nil {
		return nil, err
	}
	if result == nil {
		logger.Infof("Submodules in %s:%s are up to date",
			target.Repository.FullName(), target.Branch)
		return &domain.PublicationOutcome{Target: target, Kind: domain.OutcomeNoOp}, nil
	}
	defer s.syncer.Cleanup(result)

	if !result.MaterialChange && !cfg.DryRun {
		// A commit-id-only change leaves tree contents identical, so it does
		// not need review and the commit may land directly on the branch.
		outcome, pushErr := s.pushDirectly(ctx, target, source, result)
		if pushErr == nil {
			return outcome, nil
		}
		// The push failing (usually for lack of write access) is an
		// expected alternate outcome: fall through to a review request.
		logger.Warnf("Failed to push %s to %s:%s; opening a review request instead: %v",
			result.CommitSHA, target.Repository.FullName(), target.Branch, pushErr)
	}

	return s.openReview(ctx, target, source, result, cfg)
}

// pushDirectly lands the update commit on the target branch and reports a
// status on the source commit.
func (s *SyncService) pushDirectly(
	ctx context.Context,
	target domain.ResolvedTarget,
	source domain.SourceRef,
	result *domain.UpdateResult,
) (*domain.PublicationOutcome, error) {
	pushURL, err := s.provider.PushURL(ctx, target.Repository)
	if err != nil {
		return nil, err
	}

	if pushErr := s.syncer.PushCommit(ctx, result, target.Branch, pushURL); pushErr != nil {
		return nil, pushErr
	}

	commitURL, urlErr := s.provider.CommitURL(ctx, target.Repository, result.CommitSHA)
	if urlErr != nil {
		logger.Warnf("Failed to resolve commit URL for %s: %v", result.CommitSHA, urlErr)
	}

	statusFailed := s.reportStatus(ctx, source, domain.CommitStatus{
		State:     "success",
		TargetURL: commitURL,
		Description: fmt.Sprintf(
			"Pushed a commit to %s:%s, which updates submodules referring to %s.",
			target.Repository.FullName(), target.Branch, source.Repository.FullName(),
		),
		Context: "subsync/push/" + target.Repository.Name,
	})

	return &domain.PublicationOutcome{
		Target:             target,
		Kind:               domain.OutcomePushedDirectly,
		CommitSHA:          result.CommitSHA,
		StatusReportFailed: statusFailed,
	}, nil
}

// openReview pushes a uniquely named branch to a fork of the target and,
// unless running dry, opens a review request against the target branch.
func (s *SyncService) openReview(
	ctx context.Context,
	target domain.ResolvedTarget,
	source domain.SourceRef,
	result *domain.UpdateResult,
	cfg *config.Config,
) (*domain.PublicationOutcome, error) {
	fork, err := s.ensureFork(ctx, target.Repository)
	if err != nil {
		return nil, err
	}

	branchName := fmt.Sprintf("submodule-update/%s/%s--%s",
		source.Repository.Name, source.Name, source.ShortSHA())
	remoteName := "fork-" + fork.Owner

	forkPushURL, err := s.provider.PushURL(ctx, fork)
	if err != nil {
		return nil, err
	}
	if pushErr := s.syncer.PushBranch(ctx, result, branchName, remoteName, forkPushURL); pushErr != nil {
		return nil, pushErr
	}

	if cfg.DryRun {
		logger.Infof("Dry run: no review request opened; branch %s was pushed to %s",
			branchName, fork.FullName())
		return &domain.PublicationOutcome{
			Target:     target,
			Kind:       domain.OutcomeDryRunBranch,
			CommitSHA:  result.CommitSHA,
			Fork:       &fork,
			ForkBranch: branchName,
		}, nil
	}

	title, description, err := renderTemplates(cfg, source)
	if err != nil {
		return nil, err
	}

	review, err := s.provider.CreateReviewRequest(ctx, target.Repository, domain.ReviewRequestInput{
		SourceRepository: fork,
		SourceBranch:     branchName,
		TargetBranch:     target.Branch,
		Title:            title,
		Description:      description,
	})
	if err != nil {
		return nil, err
	}

	statusFailed := s.reportStatus(ctx, source, domain.CommitStatus{
		State:     "success",
		TargetURL: review.URL,
		Description: fmt.Sprintf(
			"Created a review request in %s to update submodules referring to %s.",
			target.Repository.FullName(), source.Repository.FullName(),
		),
		Context: "subsync/pull/" + target.Repository.Name,
	})

	return &domain.PublicationOutcome{
		Target:             target,
		Kind:               domain.OutcomeReviewRequestOpened,
		CommitSHA:          result.CommitSHA,
		ReviewRequest:      review,
		Fork:               &fork,
		ForkBranch:         branchName,
		StatusReportFailed: statusFailed,
	}, nil
}

// ensureFork returns the acting identity's fork of the repository, creating
// one when no existing fork matches.
func (s *SyncService) ensureFork(ctx context.Context, repo domain.RepositoryRef) (domain.RepositoryRef, error) {
	login, err := s.provider.CurrentLogin(ctx)
	if err != nil {
		return domain.RepositoryRef{}, err
	}

	forks, err := s.provider.ListForks(ctx, repo)
	if err != nil {
		return domain.RepositoryRef{}, err
	}
	for _, fork := range forks {
		if fork.Owner == login {
			return fork, nil
		}
	}

	logger.Infof("Forking %s for %s...", repo.FullName(), login)
	return s.provider.CreateFork(ctx, repo)
}

// reportStatus posts a commit status on the source commit. A failure here
// never fails the target: the push or review request already happened and
// is authoritative.
func (s *SyncService) reportStatus(ctx context.Context, source domain.SourceRef, status domain.CommitStatus) bool {
	err := s.provider.CreateCommitStatus(ctx, source.Repository, source.CommitSHA, status)
	if err != nil {
		logger.Warnf("Failed to create a status for %s@%s; check the agent's permissions: %v",
			source.Repository.FullName(), source.CommitSHA, err)
		return true
	}
	return false
}

// templateContext is the data exposed to the title and description
// templates.
type templateContext struct {
	SourceRepository string
	SourceName       string
	SourceURL        string
	RefName          string
	RefType          string
	CommitSHA        string
	ShortSHA         string
}

func renderTemplates(cfg *config.Config, source domain.SourceRef) (string, string, error) {
	data := templateContext{
		SourceRepository: source.Repository.FullName(),
		SourceName:       source.Repository.Name,
		SourceURL:        source.Repository.HTMLURL,
		RefName:          source.Name,
		RefType:          string(source.Kind),
		CommitSHA:        source.CommitSHA,
		ShortSHA:         source.ShortSHA(),
	}

	title, err := renderTemplate(cfg.TitleTemplate, data)
	if err != nil {
		return "", "", err
	}
	description, err := renderTemplate(cfg.DescriptionTemplate, data)
	if err != nil {
		return "", "", err
	}
	return title, description, nil
}

func renderTemplate(tmpl *template.Template, data templateContext) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}

func summarize(outcomes []domain.PublicationOutcome, errCount int) {
	counts := make(map[domain.OutcomeKind]int)
	for _, outcome := range outcomes {
		counts[outcome.Kind]++
	}
	logger.Infof(
		"Run complete: %d pushed, %d review requests, %d dry-run branches, %d up to date, %d errors",
		counts[domain.OutcomePushedDirectly],
		counts[domain.OutcomeReviewRequestOpened],
		counts[domain.OutcomeDryRunBranch],
		counts[domain.OutcomeNoOp],
		errCount,
	)
}
