package cmd

import (
	"os"

	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forgeops/subsync/infrastructure/actions"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var (
	configPath   string
	providerName string
	token        string
	username     string
	password     string
	dryRun       bool
	verbose      bool
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var rootCmd = &cobra.Command{
	Use:   "subsync",
	Short: "Submodule synchronization and publication engine",
	Long: `A CLI tool that propagates a source repository's branch or tag into the
git-submodule pointers of other repositories.

For each target repository it clones the requested branch, finds every
submodule that points at the source repository, moves those pointers to the
resolved commit and records a single commit. Metadata-only updates are pushed
straight to the target branch; updates that change the submodule's tree are
published on a fork branch with a review request so a human can look first.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		//nolint:exhaustruct // Minimal TextFormatter initialization with required fields only
		logger.SetFormatter(&logger.TextFormatter{
			ForceColors:   true,
			FullTimestamp: true,
		})
		if verbose || os.Getenv("DEBUG") == "true" {
			logger.SetLevel(logger.DebugLevel)
		}
		if actions.Enabled() {
			logger.AddHook(actions.NewHook())
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config file (default: auto-detect .subsync.yaml)")
	rootCmd.PersistentFlags().StringVar(&providerName, "provider", "",
		"Git hosting provider (github, gitlab)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "",
		"Auth token for the provider (or set SUBSYNC_TOKEN env var)")
	rootCmd.PersistentFlags().StringVar(&username, "username", "",
		"Basic-auth username (alternative to --token)")
	rootCmd.PersistentFlags().StringVar(&password, "password", "",
		"Basic-auth password (alternative to --token)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false,
		"Prepare commits and branches but open no review requests")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose output")
}
