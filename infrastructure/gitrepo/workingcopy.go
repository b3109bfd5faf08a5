package gitrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	logger "github.com/sirupsen/logrus"

	"github.com/forgeops/subsync/domain"
)

const gitmodulesFile = ".gitmodules"

// workingCopy wraps an on-disk clone of a target branch.
type workingCopy struct {
	root string
	repo *gogit.Repository
}

func openWorkingCopy(root string) (*workingCopy, error) {
	repo, err := gogit.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open working copy at %q: %w", root, err)
	}
	return &workingCopy{root: root, repo: repo}, nil
}

// submoduleEntry is a matched submodule plus the handles needed to update it.
type submoduleEntry struct {
	domain.SubmoduleEntry

	ownerRoot string // root of the working copy declaring this entry
	dir       string // absolute path of the submodule worktree
	repo      *gogit.Repository
}

// matchingSubmodules walks the submodule graph of the working copy and
// returns every entry whose remote URL belongs to the source repository's
// URL-equivalence set. Matched entries are initialized on demand; the walk
// then descends into them, so nested references to the source are found
// too. The descent uses an explicit worklist with a visited set, which
// bounds stack depth and breaks cycles in pathological submodule graphs.
func (w *workingCopy) matchingSubmodules(
	ctx context.Context,
	source domain.RepositoryRef,
) ([]*submoduleEntry, error) {
	type workItem struct {
		root  string
		repo  *gogit.Repository
		depth int
	}

	visited := make(map[string]bool)
	worklist := []workItem{{root: w.root, repo: w.repo, depth: 0}}
	var matches []*submoduleEntry

	for len(worklist) > 0 {
		item := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		absRoot, err := filepath.Abs(item.root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working copy path: %w", err)
		}
		if visited[absRoot] {
			logger.Warnf("Submodule graph revisits %q; skipping to avoid a cycle", absRoot)
			continue
		}
		visited[absRoot] = true

		entries, err := w.scanSubmodules(ctx, item.root, item.repo, item.depth, source)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			matches = append(matches, entry)
			worklist = append(worklist, workItem{
				root:  entry.dir,
				repo:  entry.repo,
				depth: item.depth + 1,
			})
		}
	}

	return matches, nil
}

// scanSubmodules inspects one working copy's submodule manifest and returns
// its entries that point at the source repository, initialized and opened.
func (w *workingCopy) scanSubmodules(
	ctx context.Context,
	root string,
	repo *gogit.Repository,
	depth int,
	source domain.RepositoryRef,
) ([]*submoduleEntry, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree at %q: %w", root, err)
	}

	submodules, err := worktree.Submodules()
	if err != nil {
		return nil, fmt.Errorf("failed to list submodules in %q: %w", root, err)
	}

	var matches []*submoduleEntry
	for _, sub := range submodules {
		cfg := sub.Config()
		url := cfg.URL
		if url == "" {
			// The submodule has not been initialized yet and the merged
			// config has no URL for it; fall back to the manifest on disk.
			url, err = submoduleURLFromManifest(root, cfg.Name)
			if err != nil {
				return nil, err
			}
		}

		if !source.MatchesRemoteURL(url) {
			continue
		}

		entry := &submoduleEntry{
			SubmoduleEntry: domain.SubmoduleEntry{
				Path:  cfg.Path,
				Name:  cfg.Name,
				URL:   url,
				Depth: depth,
			},
			ownerRoot: root,
			dir:       filepath.Join(root, cfg.Path),
		}

		if initErr := w.ensureInitialized(ctx, entry); initErr != nil {
			return nil, initErr
		}

		head, headErr := entry.repo.Head()
		if headErr != nil {
			return nil, fmt.Errorf("failed to read HEAD of submodule %q: %w", entry.Path, headErr)
		}
		entry.CurrentSHA = head.Hash().String()

		logger.Infof("Submodule %s points at %s (currently %s)", entry.Path, source.FullName(), entry.CurrentSHA)
		matches = append(matches, entry)
	}

	return matches, nil
}

// ensureInitialized populates the submodule worktree if it is absent and
// opens its repository. Deprecated git:// URLs are rewritten to HTTPS in the
// manifest before the init runs.
func (w *workingCopy) ensureInitialized(ctx context.Context, entry *submoduleEntry) error {
	if _, err := os.Stat(filepath.Join(entry.dir, ".git")); err != nil {
		logger.Infof("Initializing submodule %s...", entry.Path)

		if rewriteErr := rewriteAnonymousGitURL(entry.ownerRoot, entry.Name, entry.URL); rewriteErr != nil {
			return rewriteErr
		}

		if _, _, runErr := runGit(ctx, entry.ownerRoot, "submodule", "update", "--init", "--", entry.Path); runErr != nil {
			return fmt.Errorf("failed to initialize submodule %q: %w", entry.Path, runErr)
		}
	}

	repo, err := gogit.PlainOpen(entry.dir)
	if err != nil {
		return fmt.Errorf("failed to open submodule %q: %w", entry.Path, err)
	}
	entry.repo = repo
	return nil
}

// submoduleURLFromManifest reads a submodule URL straight from .gitmodules.
func submoduleURLFromManifest(root, name string) (string, error) {
	modules, err := readManifest(root)
	if err != nil {
		return "", err
	}
	sub, ok := modules.Submodules[name]
	if !ok || sub.URL == "" {
		return "", fmt.Errorf("no url for submodule %q in %s", name, filepath.Join(root, gitmodulesFile))
	}
	return sub.URL, nil
}

// rewriteAnonymousGitURL replaces a deprecated git://github.com/ submodule
// URL with its HTTPS equivalent, persisting the rewrite to the manifest.
func rewriteAnonymousGitURL(root, name, url string) error {
	const anonymousPrefix = "git://github.com/"
	if !strings.HasPrefix(url, anonymousPrefix) {
		return nil
	}

	logger.Warnf(
		"Submodule %q refers to a git:// URL, which GitHub no longer serves; continuing with an HTTPS URL instead",
		name,
	)

	modules, err := readManifest(root)
	if err != nil {
		return err
	}
	sub, ok := modules.Submodules[name]
	if !ok {
		return fmt.Errorf("no entry for submodule %q in %s", name, filepath.Join(root, gitmodulesFile))
	}
	sub.URL = "https://github.com/" + strings.TrimPrefix(url, anonymousPrefix)

	data, err := modules.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", gitmodulesFile, err)
	}
	if writeErr := os.WriteFile(filepath.Join(root, gitmodulesFile), data, 0o644); writeErr != nil {
		return fmt.Errorf("failed to update %s: %w", gitmodulesFile, writeErr)
	}
	return nil
}

func readManifest(root string) (*gitcfg.Modules, error) {
	path := filepath.Join(root, gitmodulesFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	modules := gitcfg.NewModules()
	if unmarshalErr := modules.Unmarshal(data); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, unmarshalErr)
	}
	return modules, nil
}
