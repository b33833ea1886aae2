package flags

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/releng-tools/mergewarden/pkg/config"
	"github.com/releng-tools/mergewarden/pkg/gitlab"
)

// GitLabFlags holds the review platform connection configuration.
type GitLabFlags struct {
	GitLabURL       string
	GitLabTokenFile string
}

func NewGitLabFlags() *GitLabFlags {
	return &GitLabFlags{
		GitLabURL: "https://gitlab.com/",
	}
}

func (f *GitLabFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.GitLabURL, "gitlab-url", f.GitLabURL, "GitLab base URL")
	fs.StringVar(&f.GitLabTokenFile,
		"gitlab-token-file",
		f.GitLabTokenFile,
		"file containing the GitLab API token")
}

// GetGitLabClient builds the platform collaborator for the configured
// project. The token comes from the token file when given, otherwise from
// the GITLAB_TOKEN environment variable.
func (f *GitLabFlags) GetGitLabClient(cfg *config.Config, dryRun bool) (*gitlab.Client, error) {
	var token string

	if f.GitLabTokenFile != "" {
		tokenBytes, err := os.ReadFile(f.GitLabTokenFile)
		if err != nil {
			log.WithError(err).Error("failed to read gitlab token file")
			return nil, err
		}
		token = strings.TrimSpace(string(tokenBytes))
	}

	if token == "" {
		token = os.Getenv("GITLAB_TOKEN")
	}

	return gitlab.New(f.GitLabURL, token, cfg.Project, cfg.BotUser, dryRun)
}
