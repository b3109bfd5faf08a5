package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeops/subsync/domain"
	providerPkg "github.com/forgeops/subsync/infrastructure/provider"
	doubles "github.com/forgeops/subsync/test"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("should return a configured provider for a registered name", func(t *testing.T) {
		t.Parallel()

		// given
		registry := providerPkg.NewRegistry()
		registry.Register("spy", func(_ domain.Credential) (domain.Provider, error) {
			return &doubles.SpyProvider{ProviderName: "spy"}, nil
		})

		// when
		instance, err := registry.Get("spy", domain.NewTokenCredential("secret"))

		// then
		require.NoError(t, err)
		assert.Equal(t, "spy", instance.Name())
	})

	t.Run("should fail with a configuration error for an unknown name", func(t *testing.T) {
		t.Parallel()

		// given
		registry := providerPkg.NewRegistry()

		// when
		_, err := registry.Get("bitbucket", domain.NewTokenCredential("secret"))

		// then
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("should list the registered names", func(t *testing.T) {
		t.Parallel()

		// given
		registry := providerPkg.NewRegistry()
		registry.Register("github", func(_ domain.Credential) (domain.Provider, error) {
			return &doubles.SpyProvider{}, nil
		})
		registry.Register("gitlab", func(_ domain.Credential) (domain.Provider, error) {
			return &doubles.SpyProvider{}, nil
		})

		// when
		names := registry.Names()

		// then
		assert.ElementsMatch(t, []string{"github", "gitlab"}, names)
	})
}
