package domain

import "context"

// Syncer owns the local git plumbing: provisioning working copies, walking
// submodules, building the aggregate update commit, and pushing refs.
type Syncer interface {
	// PrepareUpdate clones the target branch into a fresh working copy,
	// locates submodules pointing at the source repository, and builds one
	// aggregate update commit. It returns nil when every matched submodule
	// is already at the source commit (the working copy is discarded in that
	// case). The caller owns the returned working copy and must release it
	// with Cleanup.
	PrepareUpdate(ctx context.Context, target ResolvedTarget, source SourceRef, committer Identity) (*UpdateResult, error)

	// PushCommit pushes the built commit onto the named branch of the remote
	// reachable at pushURL, via a temporary local branch. A failure is an
	// expected alternate outcome, reported as an error wrapping
	// ErrPushFailed.
	PushCommit(ctx context.Context, result *UpdateResult, branch, pushURL string) error

	// PushBranch pushes the built commit as branchName to the remote
	// reachable at pushURL (typically a fork), keeping the same ref name on
	// both sides.
	PushBranch(ctx context.Context, result *UpdateResult, branchName, remoteName, pushURL string) error

	// Cleanup releases the working copy behind a result.
	Cleanup(result *UpdateResult)
}
