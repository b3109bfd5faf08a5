package cmd

import (
	"fmt"
	"os"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/dig"

	"github.com/forgeops/subsync/application"
	"github.com/forgeops/subsync/config"
	"github.com/forgeops/subsync/domain"
	"github.com/forgeops/subsync/infrastructure/gitrepo"
	providerPkg "github.com/forgeops/subsync/infrastructure/provider"
	ghProv "github.com/forgeops/subsync/infrastructure/provider/github"
	glProv "github.com/forgeops/subsync/infrastructure/provider/gitlab"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var (
	sourceRepository string
	ref              string
	committer        string
	prTitle          string
	prDescription    string
	parallel         int
	keepWorkDirs     bool
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var runCmd = &cobra.Command{
	Use:   "run [target...]",
	Short: "Synchronize submodule pointers across the target repositories",
	Long: `Resolve the source ref to a commit, then update every target
repository whose submodules point at the source.

Targets are given as owner/name[:branch] specs. A branch ending in "?" is
skipped when absent; a branch ending in "*" selects the highest numeric
suffix among the matching branches (release-* picks release-12 over
release-9). Targets may also come from the config file.`,
	RunE: runSync,
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	runCmd.Flags().StringVarP(
		&sourceRepository, "source-repository", "s", "",
		"Source repository as owner/name",
	)
	runCmd.Flags().StringVarP(
		&ref, "ref", "r", "",
		"Fully qualified source ref (refs/heads/... or refs/tags/...)",
	)
	runCmd.Flags().StringVarP(
		&committer, "committer", "c", "",
		"Commit author as 'Name <email>'",
	)
	runCmd.Flags().StringVar(
		&prTitle, "pr-title", "",
		"Review request title template",
	)
	runCmd.Flags().StringVar(
		&prDescription, "pr-description", "",
		"Review request description template",
	)
	runCmd.Flags().IntVar(
		&parallel, "parallel", 0,
		"Number of targets processed concurrently (default 1)",
	)
	runCmd.Flags().BoolVar(
		&keepWorkDirs, "keep-work-dirs", false,
		"Keep the temporary working copies for inspection",
	)
	rootCmd.AddCommand(runCmd)
}

func runSync(command *cobra.Command, args []string) error {
	cfg, err := buildConfig(args)
	if err != nil {
		return err
	}
	command.SilenceUsage = true

	container, err := buildContainer(cfg)
	if err != nil {
		return fmt.Errorf("failed to assemble the application: %w", err)
	}

	return container.Invoke(func(service *application.SyncService) error {
		outcomes, runErr := service.Run(command.Context(), cfg)
		if runErr != nil {
			return runErr
		}
		for _, outcome := range outcomes {
			if outcome.StatusReportFailed {
				logger.Warnf("commit status for '%s' was not reported", outcome.Target.Repository.FullName())
			}
		}
		return nil
	})
}

func buildConfig(targets []string) (*config.Config, error) {
	options := config.Options{
		Provider:          providerName,
		Token:             token,
		Username:          username,
		Password:          password,
		Source:            sourceRepository,
		Ref:               ref,
		Committer:         committer,
		PRTitle:           prTitle,
		PRDescription:     prDescription,
		Targets:           targets,
		DryRun:            dryRun,
		Parallel:          parallel,
		KeepWorkingCopies: keepWorkDirs,
	}
	if options.Token == "" {
		options.Token = os.Getenv("SUBSYNC_TOKEN")
	}

	// The config file is optional: only an explicitly given --config path
	// may fail the run by being absent or unparsable.
	path := configPath
	if path == "" {
		detected, err := config.FindConfigFile()
		if err != nil {
			logger.Debugf("No config file found; continuing with flags only")
		} else {
			path = detected
		}
	}
	if path != "" {
		file, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debugf("merged configuration from '%s'", path)
		options = options.Merge(file)
	}

	return options.Build()
}

// buildContainer registers all layers bottom-up: provider registry ->
// provider -> sync engine -> application service.
func buildContainer(cfg *config.Config) (*dig.Container, error) {
	container := dig.New()

	providers := []interface{}{
		func() *providerPkg.Registry {
			registry := providerPkg.NewRegistry()
			registry.Register("github", ghProv.New)
			registry.Register("gitlab", glProv.New)
			return registry
		},
		func(registry *providerPkg.Registry) (domain.Provider, error) {
			return registry.Get(cfg.Provider, cfg.Credential)
		},
		func() domain.Syncer {
			return gitrepo.NewEngine(cfg.KeepWorkingCopies)
		},
		application.NewSyncService,
	}
	for _, provide := range providers {
		if err := container.Provide(provide); err != nil {
			return nil, err
		}
	}

	return container, nil
}
