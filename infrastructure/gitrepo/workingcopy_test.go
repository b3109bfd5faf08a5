package gitrepo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeops/subsync/domain"
)

func writeManifest(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, gitmodulesFile), []byte(content), 0o644))
}

func TestSubmoduleURLFromManifest(t *testing.T) {
	t.Parallel()

	t.Run("should read the url of a declared submodule", func(t *testing.T) {
		t.Parallel()

		// given
		root := t.TempDir()
		writeManifest(t, root, `[submodule "vendor/libfoo"]
	path = vendor/libfoo
	url = https://github.com/acme/libfoo.git
`)

		// when
		url, err := submoduleURLFromManifest(root, "vendor/libfoo")

		// then
		require.NoError(t, err)
		assert.Equal(t, "https://github.com/acme/libfoo.git", url)
	})

	t.Run("should fail for an undeclared submodule", func(t *testing.T) {
		t.Parallel()

		// given
		root := t.TempDir()
		writeManifest(t, root, `[submodule "vendor/libfoo"]
	path = vendor/libfoo
	url = https://github.com/acme/libfoo.git
`)

		// when
		_, err := submoduleURLFromManifest(root, "vendor/other")

		// then
		assert.Error(t, err)
	})

	t.Run("should fail when the manifest is absent", func(t *testing.T) {
		t.Parallel()

		// when
		_, err := submoduleURLFromManifest(t.TempDir(), "vendor/libfoo")

		// then
		assert.Error(t, err)
	})
}

func TestRewriteAnonymousGitURL(t *testing.T) {
	t.Parallel()

	t.Run("should rewrite a git scheme github url to https in the manifest", func(t *testing.T) {
		t.Parallel()

		// given
		root := t.TempDir()
		writeManifest(t, root, `[submodule "vendor/libfoo"]
	path = vendor/libfoo
	url = git://github.com/acme/libfoo.git
`)

		// when
		err := rewriteAnonymousGitURL(root, "vendor/libfoo", "git://github.com/acme/libfoo.git")

		// then
		require.NoError(t, err)
		url, readErr := submoduleURLFromManifest(root, "vendor/libfoo")
		require.NoError(t, readErr)
		assert.Equal(t, "https://github.com/acme/libfoo.git", url)
	})

	t.Run("should leave non github git urls untouched", func(t *testing.T) {
		t.Parallel()

		// given
		root := t.TempDir()
		writeManifest(t, root, `[submodule "vendor/libfoo"]
	path = vendor/libfoo
	url = https://github.com/acme/libfoo.git
`)

		// when
		err := rewriteAnonymousGitURL(root, "vendor/libfoo", "https://github.com/acme/libfoo.git")

		// then
		require.NoError(t, err)
		url, readErr := submoduleURLFromManifest(root, "vendor/libfoo")
		require.NoError(t, readErr)
		assert.Equal(t, "https://github.com/acme/libfoo.git", url)
	})

	t.Run("should fail when the manifest lacks the submodule", func(t *testing.T) {
		t.Parallel()

		// given
		root := t.TempDir()
		writeManifest(t, root, `[submodule "vendor/other"]
	path = vendor/other
	url = git://github.com/acme/other.git
`)

		// when
		err := rewriteAnonymousGitURL(root, "vendor/libfoo", "git://github.com/acme/libfoo.git")

		// then
		assert.Error(t, err)
	})
}

func TestCommitMessage(t *testing.T) {
	t.Parallel()

	source := domain.SourceRef{
		Repository: domain.NewRepositoryRef(domain.RepositoryRef{Owner: "acme", Name: "libfoo"}),
		CommitSHA:  "0123456789abcdef0123456789abcdef01234567",
	}

	t.Run("should use the singular for one updated path", func(t *testing.T) {
		t.Parallel()

		// when
		message := commitMessage(source, []string{"vendor/libfoo"})

		// then
		assert.Contains(t, message, "Update libfoo submodule to acme/libfoo@0123456789abcdef0123456789abcdef01234567")
		assert.Contains(t, message, "- vendor/libfoo\n")
	})

	t.Run("should use the plural for several updated paths", func(t *testing.T) {
		t.Parallel()

		// when
		message := commitMessage(source, []string{"vendor/libfoo", "third_party/libfoo"})

		// then
		assert.Contains(t, message, "Update libfoo submodules to")
		assert.Contains(t, message, "- vendor/libfoo\n")
		assert.Contains(t, message, "- third_party/libfoo\n")
	})
}

func TestShortSHA(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0123456", shortSHA("0123456789abcdef"))
	assert.Equal(t, "abc", shortSHA("abc"))
}
