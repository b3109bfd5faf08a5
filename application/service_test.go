package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeops/subsync/application"
	"github.com/forgeops/subsync/config"
	"github.com/forgeops/subsync/domain"
	doubles "github.com/forgeops/subsync/test"
)

const sourceSHA = "0123456789abcdef0123456789abcdef01234567"

// fixture wires a spy provider and a stub syncer around one source
// repository (acme/libfoo at refs/heads/main) and one target (acme/app:main).
type fixture struct {
	provider *doubles.SpyProvider
	syncer   *doubles.StubSyncer
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	source := repoRef("acme", "libfoo", "main")
	target := repoRef("acme", "app", "main")
	fork := repoRef("sync-bot", "app", "main")

	provider := &doubles.SpyProvider{
		Login: "sync-bot",
		Repositories: map[string]domain.RepositoryRef{
			"acme/libfoo":  source,
			"acme/app":     target,
			"sync-bot/app": fork,
		},
		Branches: map[string][]domain.Branch{
			"acme/app": {{Name: "main", SHA: "headsha"}},
		},
		Source: domain.SourceRef{
			Repository: source,
			Ref:        "refs/heads/main",
			Name:       "main",
			Kind:       domain.RefBranch,
			CommitSHA:  sourceSHA,
		},
		CreatedFork: fork,
	}

	syncer := &doubles.StubSyncer{
		Results: map[string]*domain.UpdateResult{},
	}

	cfg, err := config.Options{
		Token:     "secret",
		Source:    "acme/libfoo",
		Ref:       "refs/heads/main",
		Committer: "Sync Bot <bot@example.com>",
		Targets:   []string{"acme/app:main"},
	}.Build()
	require.NoError(t, err)

	return &fixture{provider: provider, syncer: syncer, cfg: cfg}
}

func (f *fixture) run(t *testing.T) []domain.PublicationOutcome {
	t.Helper()

	service := application.NewSyncService(f.provider, f.syncer)
	outcomes, err := service.Run(context.Background(), f.cfg)
	require.NoError(t, err)
	return outcomes
}

func TestSyncServiceRun(t *testing.T) {
	t.Parallel()

	t.Run("should report a no-op when submodules are already up to date", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)

		// when
		outcomes := f.run(t)

		// then
		require.Len(t, outcomes, 1)
		assert.Equal(t, domain.OutcomeNoOp, outcomes[0].Kind)
		assert.Empty(t, f.syncer.CommitPushes)
		assert.Empty(t, f.provider.ReviewInputs)
	})

	t.Run("should push a metadata-only update directly and report a status", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		f.syncer.Results["acme/app"] = &domain.UpdateResult{
			Workdir:        "/tmp/wc",
			CommitSHA:      "newcommit",
			MaterialChange: false,
			UpdatedPaths:   []string{"vendor/libfoo"},
		}

		// when
		outcomes := f.run(t)

		// then
		require.Len(t, outcomes, 1)
		assert.Equal(t, domain.OutcomePushedDirectly, outcomes[0].Kind)
		assert.Equal(t, "newcommit", outcomes[0].CommitSHA)
		assert.False(t, outcomes[0].StatusReportFailed)
		require.Len(t, f.syncer.CommitPushes, 1)
		assert.Contains(t, f.syncer.CommitPushes[0], "main@")

		statuses := f.provider.Statuses[sourceSHA]
		require.Len(t, statuses, 1)
		assert.Equal(t, "success", statuses[0].State)
		assert.Equal(t, "subsync/push/app", statuses[0].Context)

		assert.Equal(t, []string{"/tmp/wc"}, f.syncer.CleanedUp)
	})

	t.Run("should open a review request for a material change", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		f.syncer.Results["acme/app"] = &domain.UpdateResult{
			Workdir:        "/tmp/wc",
			CommitSHA:      "newcommit",
			MaterialChange: true,
		}

		// when
		outcomes := f.run(t)

		// then
		require.Len(t, outcomes, 1)
		assert.Equal(t, domain.OutcomeReviewRequestOpened, outcomes[0].Kind)
		require.NotNil(t, outcomes[0].Fork)
		assert.Equal(t, "sync-bot/app", outcomes[0].Fork.FullName())
		assert.Equal(t, "submodule-update/libfoo/main--0123456", outcomes[0].ForkBranch)
		assert.Empty(t, f.syncer.CommitPushes)

		require.Len(t, f.provider.ReviewInputs, 1)
		input := f.provider.ReviewInputs[0]
		assert.Equal(t, "submodule-update/libfoo/main--0123456", input.SourceBranch)
		assert.Equal(t, "main", input.TargetBranch)
		assert.Equal(t, "Update libfoo submodule to main", input.Title)

		statuses := f.provider.Statuses[sourceSHA]
		require.Len(t, statuses, 1)
		assert.Equal(t, "subsync/pull/app", statuses[0].Context)
	})

	t.Run("should fall back to a review request when the direct push fails", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		f.syncer.Results["acme/app"] = &domain.UpdateResult{
			Workdir:   "/tmp/wc",
			CommitSHA: "newcommit",
		}
		f.syncer.PushCommitErr = domain.ErrPushFailed

		// when
		outcomes := f.run(t)

		// then
		require.Len(t, outcomes, 1)
		assert.Equal(t, domain.OutcomeReviewRequestOpened, outcomes[0].Kind)
		require.Len(t, f.syncer.BranchPushes, 1)
		assert.Equal(t, "fork-sync-bot/submodule-update/libfoo/main--0123456", f.syncer.BranchPushes[0])
	})

	t.Run("should create a fork when the acting identity has none", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		f.syncer.Results["acme/app"] = &domain.UpdateResult{
			Workdir:        "/tmp/wc",
			CommitSHA:      "newcommit",
			MaterialChange: true,
		}
		f.provider.Forks = nil

		// when
		outcomes := f.run(t)

		// then
		require.Len(t, outcomes, 1)
		assert.Equal(t, []string{"acme/app"}, f.provider.ForkedRepos)
	})

	t.Run("should reuse an existing fork owned by the acting identity", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		f.syncer.Results["acme/app"] = &domain.UpdateResult{
			Workdir:        "/tmp/wc",
			CommitSHA:      "newcommit",
			MaterialChange: true,
		}
		f.provider.Forks = []domain.RepositoryRef{
			repoRef("someone-else", "app", "main"),
			repoRef("sync-bot", "app", "main"),
		}

		// when
		f.run(t)

		// then
		assert.Empty(t, f.provider.ForkedRepos)
	})

	t.Run("should stop at the fork branch in dry-run mode", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		f.cfg.DryRun = true
		f.syncer.Results["acme/app"] = &domain.UpdateResult{
			Workdir:        "/tmp/wc",
			CommitSHA:      "newcommit",
			MaterialChange: true,
		}

		// when
		outcomes := f.run(t)

		// then
		require.Len(t, outcomes, 1)
		assert.Equal(t, domain.OutcomeDryRunBranch, outcomes[0].Kind)
		assert.Equal(t, "submodule-update/libfoo/main--0123456", outcomes[0].ForkBranch)
		require.Len(t, f.syncer.BranchPushes, 1)
		assert.Empty(t, f.provider.ReviewInputs)
		assert.Empty(t, f.provider.Statuses)
	})

	t.Run("should withhold a metadata-only push in dry-run mode", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		f.cfg.DryRun = true
		f.syncer.Results["acme/app"] = &domain.UpdateResult{
			Workdir:   "/tmp/wc",
			CommitSHA: "newcommit",
		}

		// when
		outcomes := f.run(t)

		// then
		require.Len(t, outcomes, 1)
		assert.Equal(t, domain.OutcomeDryRunBranch, outcomes[0].Kind)
		assert.Empty(t, f.syncer.CommitPushes)
	})

	t.Run("should mark the outcome degraded when the status cannot be posted", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		f.syncer.Results["acme/app"] = &domain.UpdateResult{
			Workdir:   "/tmp/wc",
			CommitSHA: "newcommit",
		}
		f.provider.StatusErr = errors.New("403 forbidden")

		// when
		outcomes := f.run(t)

		// then
		require.Len(t, outcomes, 1)
		assert.Equal(t, domain.OutcomePushedDirectly, outcomes[0].Kind)
		assert.True(t, outcomes[0].StatusReportFailed)
	})

	t.Run("should keep processing other targets when one fails", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		broken := repoRef("acme", "broken", "main")
		f.provider.Repositories["acme/broken"] = broken
		f.provider.Branches["acme/broken"] = []domain.Branch{{Name: "main", SHA: "x"}}
		targets, err := config.ParseTargetSpecs([]string{"acme/broken:main", "acme/app:main"})
		require.NoError(t, err)
		f.cfg.Targets = targets

		f.syncer.Results["acme/app"] = &domain.UpdateResult{
			Workdir:   "/tmp/wc",
			CommitSHA: "newcommit",
		}
		f.syncer.PrepareErrs = map[string]error{
			"acme/broken": domain.ErrCloneFailed,
		}

		// when
		outcomes := f.run(t)

		// then
		require.Len(t, outcomes, 1)
		assert.Equal(t, domain.OutcomePushedDirectly, outcomes[0].Kind)
		assert.Equal(t, "acme/app", outcomes[0].Target.Repository.FullName())
	})

	t.Run("should abort before any target when the source ref cannot be resolved", func(t *testing.T) {
		t.Parallel()

		// given
		f := newFixture(t)
		f.provider.ResolveRefErr = domain.ErrRefNotFound

		// when
		service := application.NewSyncService(f.provider, f.syncer)
		_, err := service.Run(context.Background(), f.cfg)

		// then
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})
}
