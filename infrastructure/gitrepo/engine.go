package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"

	gogit "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	logger "github.com/sirupsen/logrus"

	"github.com/forgeops/subsync/domain"
)

// Engine implements domain.Syncer on top of go-git and the git binary.
// Clones, object fetches, submodule initialization, and pushes shell out to
// git with their output persisted to log files; everything that inspects or
// mutates repository state in place goes through go-git.
type Engine struct {
	keepWorkdirs bool
}

// NewEngine creates an Engine. With keepWorkdirs set, working copies are
// left behind on disk for inspection instead of being removed.
func NewEngine(keepWorkdirs bool) *Engine {
	return &Engine{keepWorkdirs: keepWorkdirs}
}

// PrepareUpdate clones the target branch, walks its submodules for entries
// pointing at the source repository, and builds the aggregate update commit.
func (e *Engine) PrepareUpdate(
	ctx context.Context,
	target domain.ResolvedTarget,
	source domain.SourceRef,
	committer domain.Identity,
) (*domain.UpdateResult, error) {
	dir, err := os.MkdirTemp("", "subsync-wc-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	result, err := e.prepareIn(ctx, dir, target, source, committer)
	if err != nil || result == nil {
		e.removeDir(dir)
	}
	return result, err
}

func (e *Engine) prepareIn(
	ctx context.Context,
	dir string,
	target domain.ResolvedTarget,
	source domain.SourceRef,
	committer domain.Identity,
) (*domain.UpdateResult, error) {
	logger.Infof("Cloning %s:%s to %s...", target.Repository.FullName(), target.Branch, dir)
	if _, _, runErr := runGit(ctx, "",
		"clone", "--branch", target.Branch, "--single-branch", target.Repository.CloneURL, dir,
	); runErr != nil {
		return nil, fmt.Errorf("%w: %s:%s: %v", domain.ErrCloneFailed, target.Repository.FullName(), target.Branch, runErr)
	}

	wc, err := openWorkingCopy(dir)
	if err != nil {
		return nil, err
	}

	entries, err := wc.matchingSubmodules(ctx, source.Repository)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		logger.Infof("No submodules in %s:%s refer to %s",
			target.Repository.FullName(), target.Branch, source.Repository.FullName())
		return nil, nil
	}

	return wc.buildUpdateCommit(ctx, entries, source, committer)
}

// PushCommit fast-forwards the target branch with the built commit, going
// through a temporary local branch and an ephemeral authenticated remote.
func (e *Engine) PushCommit(
	ctx context.Context,
	result *domain.UpdateResult,
	branch, pushURL string,
) error {
	short := shortSHA(result.CommitSHA)
	tempBranch := fmt.Sprintf("submodule-update/%s--%s", branch, short)
	remoteName := "tmp-push--" + short

	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", tempBranch, branch)
	return e.pushRef(ctx, result, tempBranch, remoteName, pushURL, refspec)
}

// PushBranch publishes the built commit under branchName on the given
// remote, keeping the same ref name on both sides.
func (e *Engine) PushBranch(
	ctx context.Context,
	result *domain.UpdateResult,
	branchName, remoteName, pushURL string,
) error {
	refspec := fmt.Sprintf("refs/heads/%s:refs/heads/%s", branchName, branchName)
	return e.pushRef(ctx, result, branchName, remoteName, pushURL, refspec)
}

func (e *Engine) pushRef(
	ctx context.Context,
	result *domain.UpdateResult,
	localBranch, remoteName, pushURL, refspec string,
) error {
	repo, err := gogit.PlainOpen(result.Workdir)
	if err != nil {
		return fmt.Errorf("failed to open working copy at %q: %w", result.Workdir, err)
	}

	branchRef := plumbing.NewHashReference(
		plumbing.NewBranchReferenceName(localBranch),
		plumbing.NewHash(result.CommitSHA),
	)
	if setErr := repo.Storer.SetReference(branchRef); setErr != nil {
		return fmt.Errorf("failed to create branch %q: %w", localBranch, setErr)
	}

	if _, remoteErr := repo.CreateRemote(&gitcfg.RemoteConfig{
		Name: remoteName,
		URLs: []string{pushURL},
	}); remoteErr != nil && !errors.Is(remoteErr, gogit.ErrRemoteExists) {
		return fmt.Errorf("failed to create remote %q: %w", remoteName, remoteErr)
	}

	if _, _, runErr := runGit(ctx, result.Workdir, "push", remoteName, refspec); runErr != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPushFailed, refspec, runErr)
	}

	logger.Infof("Pushed %s to remote %s", refspec, remoteName)
	return nil
}

// Cleanup releases the working copy behind a result.
func (e *Engine) Cleanup(result *domain.UpdateResult) {
	if result == nil {
		return
	}
	e.removeDir(result.Workdir)
}

func (e *Engine) removeDir(dir string) {
	if e.keepWorkdirs {
		logger.Infof("Keeping working copy at %s", dir)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Warnf("Failed to remove working copy %q: %v", dir, err)
	}
}

func shortSHA(sha string) string {
	const short = 7
	if len(sha) < short {
		return sha
	}
	return sha[:short]
}
