package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/releng-tools/mergewarden/pkg/checks"
	"github.com/releng-tools/mergewarden/pkg/dispatcher"
	"github.com/releng-tools/mergewarden/pkg/flags"
	"github.com/releng-tools/mergewarden/pkg/jiratracker"
	"github.com/releng-tools/mergewarden/pkg/orchestrator"
	"github.com/releng-tools/mergewarden/pkg/pipelinectl"
	"github.com/releng-tools/mergewarden/pkg/rules"
)

type BotRunFlags struct {
	GitLabFlags *flags.GitLabFlags
	JiraFlags   *flags.JiraFlags
	BotFlags    *flags.BotFlags
}

func NewBotRunFlags() *BotRunFlags {
	return &BotRunFlags{
		GitLabFlags: flags.NewGitLabFlags(),
		JiraFlags:   flags.NewJiraFlags(),
		BotFlags:    flags.NewBotFlags(),
	}
}

func (f *BotRunFlags) BindFlags(fs *pflag.FlagSet) {
	f.GitLabFlags.BindFlags(fs)
	f.JiraFlags.BindFlags(fs)
	f.BotFlags.BindFlags(fs)
}

// GetDispatcher wires the full engine from the flag values.
func (f *BotRunFlags) GetDispatcher() (*dispatcher.Dispatcher, error) {
	cfg, err := f.BotFlags.GetConfig()
	if err != nil {
		return nil, err
	}

	platform, err := f.GitLabFlags.GetGitLabClient(cfg, f.BotFlags.DryRun)
	if err != nil {
		return nil, err
	}

	jiraClient, err := f.JiraFlags.GetJiraClient()
	if err != nil {
		return nil, err
	}
	if jiraClient == nil {
		return nil, errors.New("an issue tracker client is required, set --jira-token-file or JIRA_TOKEN")
	}
	tracker := jiratracker.New(jiraClient, cfg)

	return dispatcher.New(dispatcher.Deps{
		Platform:     platform,
		RulePlatform: platform,
		Checks:       checks.NewTracker(platform, rules.MessageIDs()),
		Pipeline:     pipelinectl.NewController(platform),
		Orchestrator: orchestrator.New(platform, tracker, cfg),
		Config:       cfg,
	}), nil
}

func init() {
	f := NewBotRunFlags()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot as a daemon",
		Run: func(cmd *cobra.Command, args []string) {
			d, err := f.GetDispatcher()
			if err != nil {
				log.WithError(err).Fatal("could not initialize the bot")
			}

			if f.BotFlags.ListenMetrics != "" {
				go func() {
					http.Handle("/metrics", promhttp.Handler())
					log.WithField("addr", f.BotFlags.ListenMetrics).Info("serving metrics")
					if err := http.ListenAndServe(f.BotFlags.ListenMetrics, nil); err != nil {
						log.WithError(err).Error("metrics listener failed")
					}
				}()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := d.Run(ctx, f.BotFlags.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Fatal("dispatcher stopped")
			}
		},
	}

	f.BindFlags(cmd.Flags())
	rootCmd.AddCommand(cmd)
}
