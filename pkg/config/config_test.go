package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
bot_user: warden-bot
project: platform/core
tracker_project: CORE
status_names:
  open: "Open"
  in_progress: "In Progress"
  in_review: "In Review"
  ready_to_merge: "Ready To Merge"
  qa: "Quality Assurance"
  closed: "Done"
version_branches:
  "2.0": legacy/2.0
review_jobs:
  open_source_review:
    job: scan-licenses
    approvers: [oss-officer]
commit_approvers: [release-manager]
submodule_projects:
  vendor/core-protocol: platform/core-protocol
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "warden-bot", cfg.BotUser)
	assert.Equal(t, "platform/core", cfg.Project)
	assert.Equal(t, "CORE", cfg.TrackerProject)

	// defaults kick in when unset
	assert.Equal(t, "release/%s", cfg.BranchPattern)
	assert.Equal(t, "master", cfg.DefaultBranch)
	assert.Equal(t, 72, cfg.CommitSubjectLimit)

	assert.Equal(t, ReviewJob{JobName: "scan-licenses", Approvers: []string{"oss-officer"}}, cfg.ReviewJobs["open_source_review"])
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr string
	}{
		{name: "missing bot user", mutate: "bot_user: \"\"", wantErr: "bot_user"},
		{name: "missing project", mutate: "project: \"\"", wantErr: "project"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, sampleConfig+"\n"+tc.mutate+"\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateRequiresAllLogicalStatuses(t *testing.T) {
	cfg := &Config{
		BotUser:        "warden-bot",
		Project:        "platform/core",
		TrackerProject: "CORE",
		StatusNames: map[string]string{
			StatusOpen: "Open",
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status_names")
}

func TestStatusName(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	name, err := cfg.StatusName(StatusQA)
	require.NoError(t, err)
	assert.Equal(t, "Quality Assurance", name)

	_, err = cfg.StatusName("no-such-status")
	assert.Error(t, err)
}

func TestBranchForVersion(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "release/2.4", cfg.BranchForVersion("2.4"))
	// explicit override wins over the pattern
	assert.Equal(t, "legacy/2.0", cfg.BranchForVersion("2.0"))
}
