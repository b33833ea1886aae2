// Package jiratracker is the issue tracker collaborator. Status names are
// project-specific and resolved through the configuration's status table;
// the engine only ever speaks in logical statuses.
package jiratracker

import (
	"fmt"

	jira "github.com/andygrunwald/go-jira"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/releng-tools/mergewarden/pkg/config"
	"github.com/releng-tools/mergewarden/pkg/util"
	"github.com/releng-tools/mergewarden/pkg/util/sets"
)

// Issue is the projection of a tracker ticket the engine works with.
type Issue struct {
	Key         string
	Status      string
	Resolution  string
	Labels      sets.String
	FixVersions []string
}

// ErrNoTransition is the domain error for "the workflow offers no path from
// the current status to the requested one". It is surfaced as a ticket
// comment, never as a batch failure.
type ErrNoTransition struct {
	Key    string
	Target string
}

func (e *ErrNoTransition) Error() string {
	return fmt.Sprintf("no transition available on %s toward status %q", e.Key, e.Target)
}

type projectVersion struct {
	Name     string
	Released bool
}

type Client struct {
	cfg *config.Config

	getIssue       func(key string) (*jira.Issue, error)
	getTransitions func(key string) ([]jira.Transition, error)
	doTransition   func(key, transitionID string) error
	updateIssue    func(key string, data map[string]interface{}) error
	addComment     func(key, body string) error
	getVersions    func(project string) ([]projectVersion, error)
}

// New builds a Client from an authenticated go-jira SDK client.
func New(sdk *jira.Client, cfg *config.Config) *Client {
	c := &Client{cfg: cfg}

	c.getIssue = func(key string) (*jira.Issue, error) {
		issue, _, err := sdk.Issue.Get(key, nil)
		return issue, err
	}

	c.getTransitions = func(key string) ([]jira.Transition, error) {
		transitions, _, err := sdk.Issue.GetTransitions(key)
		return transitions, err
	}

	c.doTransition = func(key, transitionID string) error {
		_, err := sdk.Issue.DoTransition(key, transitionID)
		return err
	}

	c.updateIssue = func(key string, data map[string]interface{}) error {
		_, err := sdk.Issue.UpdateIssue(key, data)
		return err
	}

	c.addComment = func(key, body string) error {
		_, _, err := sdk.Issue.AddComment(key, &jira.Comment{Body: body})
		return err
	}

	c.getVersions = func(project string) ([]projectVersion, error) {
		p, _, err := sdk.Project.Get(project)
		if err != nil {
			return nil, err
		}
		versions := make([]projectVersion, 0, len(p.Versions))
		for _, v := range p.Versions {
			pv := projectVersion{Name: v.Name}
			if v.Released != nil {
				pv.Released = *v.Released
			}
			versions = append(versions, pv)
		}
		return versions, nil
	}

	return c
}

// Issue fetches one ticket.
func (c *Client) Issue(key string) (*Issue, error) {
	raw, err := c.getIssue(key)
	if err != nil {
		return nil, errors.Wrapf(err, "could not fetch issue %s", key)
	}

	issue := &Issue{
		Key:    raw.Key,
		Labels: sets.NewString(raw.Fields.Labels...),
	}
	if raw.Fields.Status != nil {
		issue.Status = raw.Fields.Status.Name
	}
	if raw.Fields.Resolution != nil {
		issue.Resolution = raw.Fields.Resolution.Name
	}
	for _, fv := range raw.Fields.FixVersions {
		issue.FixVersions = append(issue.FixVersions, fv.Name)
	}
	return issue, nil
}

// Issues fetches several tickets; a failure on one key fails the lookup.
func (c *Client) Issues(keys []string) ([]*Issue, error) {
	issues := make([]*Issue, 0, len(keys))
	for _, key := range keys {
		issue, err := c.Issue(key)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// Transition moves the issue toward the logical status, resolved through the
// project's status-name table. Returns *ErrNoTransition when the workflow
// has no edge to it.
func (c *Client) Transition(key, logicalStatus string) error {
	target, err := c.cfg.StatusName(logicalStatus)
	if err != nil {
		return err
	}

	transitions, err := c.getTransitions(key)
	if err != nil {
		return errors.Wrapf(err, "could not list transitions for %s", key)
	}

	for _, t := range transitions {
		if t.To.Name == target {
			log.WithField("issue", key).WithField("status", target).Info("transitioning issue")
			return errors.Wrapf(c.doTransition(key, t.ID), "could not transition %s to %s", key, target)
		}
	}
	return &ErrNoTransition{Key: key, Target: target}
}

// AddLabel adds a label to the issue, keeping existing labels.
func (c *Client) AddLabel(key, label string) error {
	err := c.updateIssue(key, map[string]interface{}{
		"update": map[string]interface{}{
			"labels": []map[string]interface{}{
				{"add": label},
			},
		},
	})
	return errors.Wrapf(err, "could not add label %s to %s", label, key)
}

// AddComment posts a comment on the issue.
func (c *Client) AddComment(key, body string) error {
	return errors.Wrapf(c.addComment(key, body), "could not comment on %s", key)
}

// VersionBranches maps every release version of the tracker project to the
// repository branch that carries it. Released versions follow the configured
// branch pattern; unreleased development versions live on the default
// branch. The result is memoized in the handling-cycle cache.
func (c *Client) VersionBranches(cache *util.CycleCache) (map[string]string, error) {
	v, err := cache.Get("jira-version-branches", func() (interface{}, error) {
		versions, err := c.getVersions(c.cfg.TrackerProject)
		if err != nil {
			return nil, errors.Wrapf(err, "could not list versions for project %s", c.cfg.TrackerProject)
		}

		mapping := make(map[string]string, len(versions))
		for _, version := range versions {
			if version.Released {
				mapping[version.Name] = c.cfg.BranchForVersion(version.Name)
			} else {
				mapping[version.Name] = c.cfg.DefaultBranch
			}
		}
		return mapping, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

// Branches resolves an issue's fix versions to the set of branches its fix
// must land on.
func (c *Client) Branches(issue *Issue, cache *util.CycleCache) ([]string, error) {
	mapping, err := c.VersionBranches(cache)
	if err != nil {
		return nil, err
	}

	seen := sets.NewString()
	var branches []string
	for _, version := range issue.FixVersions {
		branch, ok := mapping[version]
		if !ok {
			// fix version without release metadata, fall back to the pattern
			branch = c.cfg.BranchForVersion(version)
		}
		if !seen.Has(branch) {
			seen.Insert(branch)
			branches = append(branches, branch)
		}
	}
	return branches, nil
}
