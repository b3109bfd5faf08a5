package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeops/subsync/application"
	"github.com/forgeops/subsync/domain"
	doubles "github.com/forgeops/subsync/test"
)

func repoRef(owner, name, defaultBranch string) domain.RepositoryRef {
	return domain.NewRepositoryRef(domain.RepositoryRef{
		Owner:         owner,
		Name:          name,
		DefaultBranch: defaultBranch,
		CloneURL:      "https://example.test/" + owner + "/" + name + ".git",
	})
}

func TestResolveTargets(t *testing.T) {
	t.Parallel()

	t.Run("should resolve an exact branch", func(t *testing.T) {
		t.Parallel()

		// given
		app := repoRef("acme", "app", "main")
		spy := &doubles.SpyProvider{
			Repositories: map[string]domain.RepositoryRef{"acme/app": app},
			Branches: map[string][]domain.Branch{
				"acme/app": {{Name: "main", SHA: "aaa"}},
			},
		}
		selectors := []domain.TargetSelector{
			{Owner: "acme", Name: "app", Branch: domain.BranchSpec{Kind: domain.BranchExact, Name: "main"}},
		}

		// when
		targets, err := application.ResolveTargets(context.Background(), spy, selectors)

		// then
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.Equal(t, "main", targets[0].Branch)
		assert.Equal(t, "acme/app", targets[0].Repository.FullName())
	})

	t.Run("should fall back to the default branch for an empty exact name", func(t *testing.T) {
		t.Parallel()

		// given
		app := repoRef("acme", "app", "develop")
		spy := &doubles.SpyProvider{
			Repositories: map[string]domain.RepositoryRef{"acme/app": app},
			Branches: map[string][]domain.Branch{
				"acme/app": {{Name: "develop", SHA: "aaa"}},
			},
		}
		selectors := []domain.TargetSelector{
			{Owner: "acme", Name: "app", Branch: domain.BranchSpec{Kind: domain.BranchExact, Name: ""}},
		}

		// when
		targets, err := application.ResolveTargets(context.Background(), spy, selectors)

		// then
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.Equal(t, "develop", targets[0].Branch)
	})

	t.Run("should fail the run when an exact branch is missing", func(t *testing.T) {
		t.Parallel()

		// given
		app := repoRef("acme", "app", "main")
		spy := &doubles.SpyProvider{
			Repositories: map[string]domain.RepositoryRef{"acme/app": app},
		}
		selectors := []domain.TargetSelector{
			{Owner: "acme", Name: "app", Branch: domain.BranchSpec{Kind: domain.BranchExact, Name: "gone"}},
		}

		// when
		_, err := application.ResolveTargets(context.Background(), spy, selectors)

		// then
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("should drop an optional target whose branch is missing", func(t *testing.T) {
		t.Parallel()

		// given
		app := repoRef("acme", "app", "main")
		other := repoRef("acme", "other", "main")
		spy := &doubles.SpyProvider{
			Repositories: map[string]domain.RepositoryRef{
				"acme/app":   app,
				"acme/other": other,
			},
			Branches: map[string][]domain.Branch{
				"acme/other": {{Name: "main", SHA: "bbb"}},
			},
		}
		selectors := []domain.TargetSelector{
			{Owner: "acme", Name: "app", Branch: domain.BranchSpec{Kind: domain.BranchOptional, Name: "staging"}},
			{Owner: "acme", Name: "other", Branch: domain.BranchSpec{Kind: domain.BranchExact, Name: "main"}},
		}

		// when
		targets, err := application.ResolveTargets(context.Background(), spy, selectors)

		// then
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.Equal(t, "acme/other", targets[0].Repository.FullName())
	})

	t.Run("should fail the run when a repository does not exist", func(t *testing.T) {
		t.Parallel()

		// given
		spy := &doubles.SpyProvider{}
		selectors := []domain.TargetSelector{
			{Owner: "acme", Name: "gone", Branch: domain.BranchSpec{Kind: domain.BranchExact, Name: "main"}},
		}

		// when
		_, err := application.ResolveTargets(context.Background(), spy, selectors)

		// then
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("should de-duplicate by repository with the last resolution winning", func(t *testing.T) {
		t.Parallel()

		// given
		app := repoRef("acme", "app", "main")
		spy := &doubles.SpyProvider{
			Repositories: map[string]domain.RepositoryRef{"acme/app": app},
			Branches: map[string][]domain.Branch{
				"acme/app": {{Name: "main", SHA: "aaa"}, {Name: "develop", SHA: "bbb"}},
			},
		}
		selectors := []domain.TargetSelector{
			{Owner: "acme", Name: "app", Branch: domain.BranchSpec{Kind: domain.BranchExact, Name: "main"}},
			{Owner: "acme", Name: "app", Branch: domain.BranchSpec{Kind: domain.BranchExact, Name: "develop"}},
		}

		// when
		targets, err := application.ResolveTargets(context.Background(), spy, selectors)

		// then
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.Equal(t, "develop", targets[0].Branch)
	})

	t.Run("should resolve latest-by-suffix numerically", func(t *testing.T) {
		t.Parallel()

		// given
		app := repoRef("acme", "app", "main")
		spy := &doubles.SpyProvider{
			Repositories: map[string]domain.RepositoryRef{"acme/app": app},
			Branches: map[string][]domain.Branch{
				"acme/app": {
					{Name: "release-3", SHA: "c3"},
					{Name: "release-10", SHA: "c10"},
					{Name: "release-2", SHA: "c2"},
					{Name: "main", SHA: "m"},
				},
			},
		}
		selectors := []domain.TargetSelector{
			{Owner: "acme", Name: "app", Branch: domain.BranchSpec{Kind: domain.BranchLatestBySuffix, Name: "release-"}},
		}

		// when
		targets, err := application.ResolveTargets(context.Background(), spy, selectors)

		// then
		require.NoError(t, err)
		require.Len(t, targets, 1)
		assert.Equal(t, "release-10", targets[0].Branch)
	})
}

func TestLatestBySuffix(t *testing.T) {
	t.Parallel()

	t.Run("should compare suffixes numerically, not lexicographically", func(t *testing.T) {
		t.Parallel()

		// given
		branches := []domain.Branch{
			{Name: "release-3"},
			{Name: "release-10"},
			{Name: "release-2"},
		}

		// when
		name, err := application.LatestBySuffix(branches, "release-", "acme/app")

		// then
		require.NoError(t, err)
		assert.Equal(t, "release-10", name)
	})

	t.Run("should ignore branches without a numeric suffix", func(t *testing.T) {
		t.Parallel()

		// given
		branches := []domain.Branch{
			{Name: "release-candidate"},
			{Name: "release-7"},
		}

		// when
		name, err := application.LatestBySuffix(branches, "release-", "acme/app")

		// then
		require.NoError(t, err)
		assert.Equal(t, "release-7", name)
	})

	t.Run("should fail when no branch matches the prefix", func(t *testing.T) {
		t.Parallel()

		// given
		branches := []domain.Branch{{Name: "main"}}

		// when
		_, err := application.LatestBySuffix(branches, "release-", "acme/app")

		// then
		assert.ErrorIs(t, err, domain.ErrBranchNotFound)
	})
}
