package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/forgeops/subsync/domain"
)

// DefaultTitleTemplate is the review request title used when no override is
// configured.
const DefaultTitleTemplate = "Update {{.SourceName}} submodule to {{.RefName}}"

// DefaultDescriptionTemplate is the review request body used when no
// override is configured.
const DefaultDescriptionTemplate = `This updates the [{{.SourceRepository}}]({{.SourceURL}}) submodule to {{.RefType}} ` +
	"`{{.RefName}}`" + ` ({{.CommitSHA}}).

This pull request was automatically generated by subsync.
`

// Config is the fully validated run configuration.
type Config struct {
	Provider            string
	Credential          domain.Credential
	SourceOwner         string
	SourceName          string
	Ref                 string
	Committer           domain.Identity
	Targets             []domain.TargetSelector
	TitleTemplate       *template.Template
	DescriptionTemplate *template.Template
	DryRun              bool
	Parallel            int
	KeepWorkingCopies   bool
}

// File mirrors the optional YAML configuration file. Every field can be
// overridden by a command line flag.
type File struct {
	Provider      string   `yaml:"provider"`
	Token         string   `yaml:"token"`    // inline, ${ENV_VAR}, or file path
	Username      string   `yaml:"username"` // with password: basic credential
	Password      string   `yaml:"password"`
	Source        string   `yaml:"source"`
	Ref           string   `yaml:"ref"`
	Committer     string   `yaml:"committer"`
	PRTitle       string   `yaml:"pr_title"`
	PRDescription string   `yaml:"pr_description"`
	Targets       []string `yaml:"targets"`
	Parallel      int      `yaml:"parallel"`
}

// envVarPattern matches ${VAR_NAME} placeholders.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)}`)

// LoadFile reads and parses a configuration file, expanding environment
// variables and resolving token file paths.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	var f File
	if unmarshalErr := yaml.Unmarshal(data, &f); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", unmarshalErr)
	}

	f.Token = resolveSecret(f.Token)
	f.Password = resolveSecret(f.Password)

	return &f, nil
}

// FindConfigFile searches for a configuration file in standard locations.
// Returns the path to the first file found or an error if none is found.
func FindConfigFile() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}

	locations := []string{".", ".config"}
	if homeDir != "" {
		locations = append(locations, homeDir, filepath.Join(homeDir, ".config"))
	}

	patterns := []string{".subsync.yaml", ".subsync.yml", "subsync.yaml", "subsync.yml"}

	for _, loc := range locations {
		for _, pat := range patterns {
			p := filepath.Join(loc, pat)
			if _, statErr := os.Stat(p); statErr == nil {
				return p, nil
			}
		}
	}

	return "", errors.New("config file not found in default locations")
}

// resolveSecret expands environment variable references (${VAR}) and, if the
// resulting string is a path to an existing file, reads the secret from the
// file.
func resolveSecret(raw string) string {
	if raw == "" {
		return raw
	}

	resolved := envVarPattern.ReplaceAllStringFunc(raw, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		logger.Warnf("Environment variable %q is not set", varName)
		return ""
	})

	if info, statErr := os.Stat(resolved); statErr == nil && !info.IsDir() {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			logger.Warnf("Failed to read secret file %q: %v", resolved, readErr)
			return resolved
		}
		return strings.TrimSpace(string(data))
	}

	return resolved
}

var (
	// repositoryPattern validates "owner/name" repository identifiers.
	repositoryPattern = regexp.MustCompile(
		`^(?i)([a-z\d](?:[a-z\d]|-[a-z\d]){0,38})/([a-z\d][a-z\d._-]*)$`,
	)

	// signaturePattern validates "NAME <EMAIL>" committer identities.
	signaturePattern = regexp.MustCompile(
		`^\s*([^<>]+?)\s+<([^<>@\s]+@[^<>@\s]+)>\s*$`,
	)
)

// ParseRepository splits and validates an "owner/name" identifier.
func ParseRepository(s string) (string, string, error) {
	m := repositoryPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", fmt.Errorf("%w: invalid repository %q; expected owner/name", domain.ErrConfiguration, s)
	}
	return m[1], m[2], nil
}

// ParseSignature parses a committer identity in "NAME <EMAIL>" form.
func ParseSignature(s string) (domain.Identity, error) {
	m := signaturePattern.FindStringSubmatch(s)
	if m == nil {
		return domain.Identity{}, fmt.Errorf(
			"%w: invalid signature %q; must be in the form `NAME <EMAIL>'", domain.ErrConfiguration, s,
		)
	}
	return domain.Identity{Name: m[1], Email: m[2]}, nil
}

// ValidateRef checks that a ref is fully qualified as a branch or tag.
func ValidateRef(ref string) error {
	if !strings.HasPrefix(ref, "refs/heads/") && !strings.HasPrefix(ref, "refs/tags/") {
		return fmt.Errorf(
			"%w: invalid ref %q; must start with refs/heads/ or refs/tags/", domain.ErrConfiguration, ref,
		)
	}
	return nil
}

// ParseTargetSpec parses one "owner/repo:branch" target specifier. A
// trailing "?" on the branch token marks it optional, a trailing "*" selects
// the branch with the largest numeric suffix after the remaining prefix, and
// an empty token selects the repository's default branch.
func ParseTargetSpec(spec string) (domain.TargetSelector, error) {
	repo, branch, found := strings.Cut(spec, ":")
	if !found {
		return domain.TargetSelector{}, fmt.Errorf(
			"%w: no branch name in target %q; expected owner/repo:branch", domain.ErrConfiguration, spec,
		)
	}

	owner, name, err := ParseRepository(repo)
	if err != nil {
		return domain.TargetSelector{}, err
	}

	branchSpec := domain.BranchSpec{Kind: domain.BranchExact, Name: branch}
	switch {
	case strings.HasSuffix(branch, "?"):
		branchSpec = domain.BranchSpec{
			Kind: domain.BranchOptional,
			Name: strings.TrimSuffix(branch, "?"),
		}
	case strings.HasSuffix(branch, "*"):
		branchSpec = domain.BranchSpec{
			Kind: domain.BranchLatestBySuffix,
			Name: strings.TrimSuffix(branch, "*"),
		}
	}
	if branchSpec.Name == "" && branchSpec.Kind != domain.BranchExact {
		return domain.TargetSelector{}, fmt.Errorf(
			"%w: target %q has a branch marker but no branch name", domain.ErrConfiguration, spec,
		)
	}

	return domain.TargetSelector{Owner: owner, Name: name, Branch: branchSpec}, nil
}

// ParseTargetSpecs parses all target specifiers, failing on the first
// invalid one.
func ParseTargetSpecs(specs []string) ([]domain.TargetSelector, error) {
	targets := make([]domain.TargetSelector, 0, len(specs))
	for _, spec := range specs {
		target, err := ParseTargetSpec(spec)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// Options carries the raw values collected from flags and the optional
// config file before validation.
type Options struct {
	Provider          string
	Token             string
	Username          string
	Password          string
	Source            string
	Ref               string
	Committer         string
	PRTitle           string
	PRDescription     string
	Targets           []string
	DryRun            bool
	Parallel          int
	KeepWorkingCopies bool
}

// Merge overlays non-empty file values under the flag values.
func (o Options) Merge(f *File) Options {
	if f == nil {
		return o
	}
	if o.Provider == "" {
		o.Provider = f.Provider
	}
	if o.Token == "" {
		o.Token = f.Token
	}
	if o.Username == "" {
		o.Username = f.Username
	}
	if o.Password == "" {
		o.Password = f.Password
	}
	if o.Source == "" {
		o.Source = f.Source
	}
	if o.Ref == "" {
		o.Ref = f.Ref
	}
	if o.Committer == "" {
		o.Committer = f.Committer
	}
	if o.PRTitle == "" {
		o.PRTitle = f.PRTitle
	}
	if o.PRDescription == "" {
		o.PRDescription = f.PRDescription
	}
	if len(o.Targets) == 0 {
		o.Targets = f.Targets
	}
	if o.Parallel == 0 {
		o.Parallel = f.Parallel
	}
	return o
}

// Build validates the collected options into a run configuration. Every
// failure here is a configuration error: the run aborts before any target
// is touched.
func (o Options) Build() (*Config, error) {
	if o.Provider == "" {
		o.Provider = "github"
	}

	var credential domain.Credential
	switch {
	case o.Username != "" || o.Password != "":
		credential = domain.NewBasicCredential(o.Username, o.Password)
	default:
		credential = domain.NewTokenCredential(o.Token)
	}
	if err := credential.Validate(); err != nil {
		return nil, err
	}

	sourceOwner, sourceName, err := ParseRepository(o.Source)
	if err != nil {
		return nil, err
	}

	if refErr := ValidateRef(o.Ref); refErr != nil {
		return nil, refErr
	}

	committer, err := ParseSignature(o.Committer)
	if err != nil {
		return nil, err
	}

	if len(o.Targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target is required", domain.ErrConfiguration)
	}
	targets, err := ParseTargetSpecs(o.Targets)
	if err != nil {
		return nil, err
	}

	titleTmpl, err := parseTemplate("pr-title", o.PRTitle, DefaultTitleTemplate)
	if err != nil {
		return nil, err
	}
	descriptionTmpl, err := parseTemplate("pr-description", o.PRDescription, DefaultDescriptionTemplate)
	if err != nil {
		return nil, err
	}

	parallel := o.Parallel
	if parallel < 1 {
		parallel = 1
	}

	return &Config{
		Provider:            o.Provider,
		Credential:          credential,
		SourceOwner:         sourceOwner,
		SourceName:          sourceName,
		Ref:                 o.Ref,
		Committer:           committer,
		Targets:             targets,
		TitleTemplate:       titleTmpl,
		DescriptionTemplate: descriptionTmpl,
		DryRun:              o.DryRun,
		Parallel:            parallel,
		KeepWorkingCopies:   o.KeepWorkingCopies,
	}, nil
}

func parseTemplate(name, text, fallback string) (*template.Template, error) {
	if text == "" {
		text = fallback
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s template: %v", domain.ErrConfiguration, name, err)
	}
	return tmpl, nil
}
