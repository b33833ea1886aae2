// Package config loads the per-project bot configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Logical issue-tracker statuses. Each project maps these to its own literal
// status names through the status_names table.
const (
	StatusOpen         = "open"
	StatusInProgress   = "in_progress"
	StatusInReview     = "in_review"
	StatusReadyToMerge = "ready_to_merge"
	StatusQA           = "qa"
	StatusClosed       = "closed"
)

// ReviewJob ties a gating rule to the CI job whose outcome drives it and the
// approvers whose approval can override a failed job.
type ReviewJob struct {
	// JobName is the CI job this review rule observes.
	JobName string `yaml:"job"`
	// Approvers may substitute an approval for a failed automated check.
	Approvers []string `yaml:"approvers"`
}

// Config is the validated configuration the engine receives at start-up.
type Config struct {
	// BotUser is the platform username the bot acts as. Only MRs assigned to
	// this user are processed.
	BotUser string `yaml:"bot_user"`

	// Project is the review platform project path, e.g. "group/repo".
	Project string `yaml:"project"`

	// TrackerProject is the issue tracker project key, e.g. "CORE".
	TrackerProject string `yaml:"tracker_project"`

	// StatusNames maps logical tracker statuses to the project's literal
	// status strings.
	StatusNames map[string]string `yaml:"status_names"`

	// BranchPattern renders a tracker release version into a branch name.
	// The default "release/%s" turns version 2.4 into release/2.4.
	BranchPattern string `yaml:"branch_pattern"`

	// VersionBranches overrides the pattern for individual versions.
	VersionBranches map[string]string `yaml:"version_branches"`

	// DefaultBranch is the branch development versions map to.
	DefaultBranch string `yaml:"default_branch"`

	// ReviewJobs configures the job-outcome gating rules, keyed by rule name
	// (open_source_review, code_owner_review, apidoc_review).
	ReviewJobs map[string]ReviewJob `yaml:"review_jobs"`

	// CommitSubjectLimit is the maximum commit subject length enforced by the
	// commit message rule.
	CommitSubjectLimit int `yaml:"commit_subject_limit"`

	// CommitApprovers may override a failed commit message check with their
	// approval.
	CommitApprovers []string `yaml:"commit_approvers"`

	// SubmoduleProjects maps submodule paths in the repository to the
	// platform project that hosts them, for the consistency rule.
	SubmoduleProjects map[string]string `yaml:"submodule_projects"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "could not parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BotUser == "" {
		return fmt.Errorf("bot_user is required")
	}
	if c.Project == "" {
		return fmt.Errorf("project is required")
	}
	if c.TrackerProject == "" {
		return fmt.Errorf("tracker_project is required")
	}

	if c.BranchPattern == "" {
		c.BranchPattern = "release/%s"
	}
	if c.DefaultBranch == "" {
		c.DefaultBranch = "master"
	}
	if c.CommitSubjectLimit == 0 {
		c.CommitSubjectLimit = 72
	}

	for _, logical := range []string{StatusOpen, StatusInProgress, StatusInReview, StatusReadyToMerge, StatusQA, StatusClosed} {
		if _, ok := c.StatusNames[logical]; !ok {
			return fmt.Errorf("status_names is missing an entry for %q", logical)
		}
	}

	for name, rj := range c.ReviewJobs {
		if rj.JobName == "" {
			return fmt.Errorf("review job %q has no job name", name)
		}
	}

	return nil
}

// StatusName resolves a logical status to the project's literal string.
func (c *Config) StatusName(logical string) (string, error) {
	name, ok := c.StatusNames[logical]
	if !ok {
		return "", fmt.Errorf("no status name configured for %q", logical)
	}
	return name, nil
}

// BranchForVersion maps a tracker release version to a branch name.
func (c *Config) BranchForVersion(version string) string {
	if branch, ok := c.VersionBranches[version]; ok {
		return branch
	}
	return fmt.Sprintf(c.BranchPattern, version)
}
