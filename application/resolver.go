package application

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/forgeops/subsync/domain"
)

// trailingDigits captures the maximal run of decimal digits at the end of a
// branch name.
var trailingDigits = regexp.MustCompile(`(\d+)$`)

// ResolveTargets turns the raw target selectors into concrete (repository,
// branch) pairs. Exact lookups that fail are configuration errors and abort
// the run; optional targets whose branch is absent are dropped with a
// warning. The result is de-duplicated by repository identity with the last
// resolution winning.
func ResolveTargets(
	ctx context.Context,
	provider domain.Provider,
	selectors []domain.TargetSelector,
) ([]domain.ResolvedTarget, error) {
	resolved := make([]domain.ResolvedTarget, 0, len(selectors))
	indexByRepo := make(map[string]int)

	for _, selector := range selectors {
		repo, err := provider.LookupRepository(ctx, selector.Owner, selector.Name)
		if err != nil {
			if errors.Is(err, domain.ErrRepositoryNotFound) {
				return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
			}
			return nil, err
		}

		branch, err := resolveBranch(ctx, provider, repo, selector.Branch)
		if err != nil {
			if selector.Branch.Kind == domain.BranchOptional && errors.Is(err, domain.ErrBranchNotFound) {
				logger.Warnf("Optional target %s:%s has no such branch; skipping",
					repo.FullName(), selector.Branch.Name)
				continue
			}
			if errors.Is(err, domain.ErrBranchNotFound) {
				return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
			}
			return nil, err
		}

		target := domain.ResolvedTarget{Repository: repo, Branch: branch}
		if i, seen := indexByRepo[repo.FullName()]; seen {
			resolved[i] = target
			continue
		}
		indexByRepo[repo.FullName()] = len(resolved)
		resolved = append(resolved, target)
	}

	return resolved, nil
}

func resolveBranch(
	ctx context.Context,
	provider domain.Provider,
	repo domain.RepositoryRef,
	spec domain.BranchSpec,
) (string, error) {
	switch spec.Kind {
	case domain.BranchLatestBySuffix:
		branches, err := provider.ListBranches(ctx, repo)
		if err != nil {
			return "", err
		}
		return LatestBySuffix(branches, spec.Name, repo.FullName())
	default:
		name := spec.Name
		if name == "" {
			name = repo.DefaultBranch
		}
		branch, err := provider.GetBranch(ctx, repo, name)
		if err != nil {
			return "", err
		}
		return branch.Name, nil
	}
}

// LatestBySuffix selects, among branches whose name starts with prefix, the
// one with the numerically largest trailing decimal suffix. The comparison
// is numeric, so release-10 beats release-3.
func LatestBySuffix(branches []domain.Branch, prefix, repoFullName string) (string, error) {
	best := ""
	bestSuffix := -1

	for _, branch := range branches {
		after, ok := strings.CutPrefix(branch.Name, prefix)
		if !ok {
			continue
		}
		m := trailingDigits.FindStringSubmatch(after)
		if m == nil {
			continue
		}
		suffix, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if suffix > bestSuffix {
			bestSuffix = suffix
			best = branch.Name
		}
	}

	if best == "" {
		return "", fmt.Errorf("%w: no branch of %s matches prefix %q with a numeric suffix",
			domain.ErrBranchNotFound, repoFullName, prefix)
	}
	return best, nil
}
