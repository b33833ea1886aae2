package flags

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/releng-tools/mergewarden/pkg/config"
)

// BotFlags holds the engine's own settings.
type BotFlags struct {
	ConfigFile    string
	DryRun        bool
	PollInterval  time.Duration
	ListenMetrics string
}

func NewBotFlags() *BotFlags {
	return &BotFlags{
		PollInterval: 5 * time.Minute,
	}
}

func (f *BotFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigFile, "config", f.ConfigFile, "path to the project configuration YAML")
	fs.BoolVar(&f.DryRun, "dry-run", f.DryRun, "log writes instead of performing them")
	fs.DurationVar(&f.PollInterval, "poll-interval", f.PollInterval,
		"how often to re-enumerate the open merge request backlog")
	fs.StringVar(&f.ListenMetrics, "listen-metrics", f.ListenMetrics,
		"address to serve /metrics on, empty disables the listener")
}

// GetConfig loads and validates the project configuration.
func (f *BotFlags) GetConfig() (*config.Config, error) {
	return config.Load(f.ConfigFile)
}
