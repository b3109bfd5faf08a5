package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	logger "github.com/sirupsen/logrus"

	"github.com/forgeops/subsync/domain"
)

// buildUpdateCommit advances every matched submodule to the source commit
// and produces one aggregate commit in the working copy. It returns nil when
// no entry actually changed. MaterialChange is true when at least one
// updated entry's tree content differs from its previous tree content; a
// commit-id-only change keeps it false.
func (w *workingCopy) buildUpdateCommit(
	ctx context.Context,
	entries []*submoduleEntry,
	source domain.SourceRef,
	committer domain.Identity,
) (*domain.UpdateResult, error) {
	idx, err := w.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	materialChange := false
	var updatedPaths []string

	for _, entry := range entries {
		if entry.Depth > 0 {
			// A nested reference cannot be recorded by the aggregate commit
			// of this working copy; it is picked up when its own parent
			// repository is listed as a target.
			logger.Warnf(
				"Nested submodule %s (depth %d) also references %s; it is not updated by this run",
				entry.Path, entry.Depth, source.Repository.FullName(),
			)
			continue
		}

		if entry.CurrentSHA == source.CommitSHA {
			logger.Infof("Submodule %s is already at %s", entry.Path, source.ShortSHA())
			continue
		}

		targetCommit, resolveErr := w.resolveTargetCommit(ctx, entry, source)
		if resolveErr != nil {
			return nil, resolveErr
		}

		currentCommit, currentErr := entry.repo.CommitObject(plumbing.NewHash(entry.CurrentSHA))
		if currentErr != nil {
			return nil, fmt.Errorf(
				"failed to read current commit %s of submodule %q: %w",
				entry.CurrentSHA, entry.Path, currentErr,
			)
		}
		if currentCommit.TreeHash != targetCommit.TreeHash {
			materialChange = true
		}

		subWorktree, worktreeErr := entry.repo.Worktree()
		if worktreeErr != nil {
			return nil, fmt.Errorf("failed to open worktree of submodule %q: %w", entry.Path, worktreeErr)
		}
		if resetErr := subWorktree.Reset(&gogit.ResetOptions{
			Commit: targetCommit.Hash,
			Mode:   gogit.HardReset,
		}); resetErr != nil {
			return nil, fmt.Errorf("failed to reset submodule %q to %s: %w", entry.Path, targetCommit.Hash, resetErr)
		}

		indexEntry, entryErr := idx.Entry(entry.Path)
		if entryErr != nil {
			return nil, fmt.Errorf("no index entry for submodule %q: %w", entry.Path, entryErr)
		}
		indexEntry.Hash = targetCommit.Hash

		updatedPaths = append(updatedPaths, entry.Path)
	}

	if len(updatedPaths) == 0 {
		return nil, nil
	}

	if setErr := w.repo.Storer.SetIndex(idx); setErr != nil {
		return nil, fmt.Errorf("failed to write index: %w", setErr)
	}

	worktree, err := w.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}

	signature := &object.Signature{
		Name:  committer.Name,
		Email: committer.Email,
		When:  time.Now(),
	}
	commitHash, err := worktree.Commit(commitMessage(source, updatedPaths), &gogit.CommitOptions{
		Author:    signature,
		Committer: signature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create update commit: %w", err)
	}

	logger.Infof("Built commit %s updating %d submodule(s)", commitHash, len(updatedPaths))

	return &domain.UpdateResult{
		Workdir:        w.root,
		CommitSHA:      commitHash.String(),
		MaterialChange: materialChange,
		UpdatedPaths:   updatedPaths,
	}, nil
}

// resolveTargetCommit resolves the source commit inside the submodule's own
// object store, fetching the single missing object from each configured
// remote (first success wins) when it is absent, and dereferencing annotated
// tag objects to their underlying commit.
func (w *workingCopy) resolveTargetCommit(
	ctx context.Context,
	entry *submoduleEntry,
	source domain.SourceRef,
) (*object.Commit, error) {
	sha := source.CommitSHA
	commit, err := dereferenceCommit(entry.repo, plumbing.NewHash(sha))
	if err == nil {
		return commit, nil
	}
	if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return nil, fmt.Errorf("failed to resolve %s in submodule %q: %w", sha, entry.Path, err)
	}

	logger.Infof("%s is not present in submodule %s; fetching...", sha, entry.Path)
	if fetchErr := w.fetchObject(ctx, entry, sha); fetchErr != nil {
		return nil, fetchErr
	}

	commit, err = dereferenceCommit(entry.repo, plumbing.NewHash(sha))
	if err != nil {
		return nil, fmt.Errorf("%w: %s still absent from submodule %q after fetch", domain.ErrRefNotFound, sha, entry.Path)
	}
	return commit, nil
}

// fetchObject fetches a single object by id from the submodule's remotes in
// declared order, stopping at the first success.
func (w *workingCopy) fetchObject(ctx context.Context, entry *submoduleEntry, sha string) error {
	remotes, err := entry.repo.Remotes()
	if err != nil {
		return fmt.Errorf("failed to list remotes of submodule %q: %w", entry.Path, err)
	}
	if len(remotes) == 0 {
		return fmt.Errorf("%w: submodule %q has no remotes", domain.ErrFetchFailed, entry.Path)
	}

	for _, remote := range remotes {
		cfg := remote.Config()
		logger.Infof("Fetching %s from %s...", sha, cfg.Name)
		if _, _, runErr := runGit(ctx, entry.dir, "fetch", cfg.Name, sha); runErr != nil {
			logger.Warnf("Fetch from %s failed: %v", cfg.Name, runErr)
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: could not fetch %s from any remote of submodule %q", domain.ErrFetchFailed, sha, entry.Path)
}

// dereferenceCommit resolves a hash to a commit, peeling an annotated tag
// object when the hash points at one.
func dereferenceCommit(repo *gogit.Repository, hash plumbing.Hash) (*object.Commit, error) {
	if tag, err := repo.TagObject(hash); err == nil {
		return tag.Commit()
	}
	return repo.CommitObject(hash)
}

func commitMessage(source domain.SourceRef, updatedPaths []string) string {
	plural := ""
	if len(updatedPaths) > 1 {
		plural = "s"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Update %s submodule%s to %s@%s\n\n",
		source.Repository.Name, plural, source.Repository.FullName(), source.CommitSHA)
	for _, path := range updatedPaths {
		fmt.Fprintf(&b, "- %s\n", path)
	}
	b.WriteString("\nThis commit was automatically generated by subsync.\n")
	return b.String()
}
