package dispatcher

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
)

// command is one chat verb users can address to the bot in an MR comment.
type command struct {
	verb    string
	aliases []string
	help    string

	// handle returns the confirmation to post and whether the rule
	// pipeline should re-run afterwards.
	handle func(d *Dispatcher, mr *review.MergeRequest) (string, bool, error)
}

// commandTable is filled in init so the help handler may reference it.
var commandTable []command

func init() {
	commandTable = []command{
		{
			verb:    "run",
			aliases: []string{"retry", "rerun"},
			help:    "request a CI pipeline run for the current head",
			handle: func(d *Dispatcher, mr *review.MergeRequest) (string, bool, error) {
				if err := d.platform.AddTag(mr.IID, review.TagPipelineRequested); err != nil {
					return "", false, err
				}
				return "Pipeline run requested.", true, nil
			},
		},
		{
			verb: "status",
			help: "report what the bot is currently waiting for",
			handle: func(d *Dispatcher, mr *review.MergeRequest) (string, bool, error) {
				return d.statusSummary(mr)
			},
		},
		{
			verb: "help",
			help: "list the available commands",
			handle: func(d *Dispatcher, mr *review.MergeRequest) (string, bool, error) {
				return helpText(""), false, nil
			},
		},
	}
}

func lookupCommand(verb string) *command {
	for i := range commandTable {
		if commandTable[i].verb == verb {
			return &commandTable[i]
		}
		for _, alias := range commandTable[i].aliases {
			if alias == verb {
				return &commandTable[i]
			}
		}
	}
	return nil
}

func helpText(unknown string) string {
	var b strings.Builder
	if unknown != "" {
		fmt.Fprintf(&b, "Unknown command %q.\n\n", unknown)
	}
	b.WriteString("Available commands:\n")
	for _, cmd := range commandTable {
		name := cmd.verb
		if len(cmd.aliases) > 0 {
			name += " (also: " + strings.Join(cmd.aliases, ", ") + ")"
		}
		fmt.Fprintf(&b, "- `%s`: %s\n", name, cmd.help)
	}
	return b.String()
}

// handleComment interprets a comment event. Commands are comments whose
// first token mentions the bot and whose second token is a known verb.
// Reports whether the rule pipeline should re-run for this MR.
func (d *Dispatcher) handleComment(mr *review.MergeRequest, event *Event) (bool, error) {
	bot := d.platform.BotUser()
	if event.Author == bot {
		return false, nil
	}

	tokens := strings.Fields(event.Body)
	if len(tokens) < 2 || strings.TrimSuffix(tokens[0], ":") != "@"+bot {
		// an ordinary human comment; re-evaluate, it may have resolved a
		// discussion or changed what a rule sees
		return true, nil
	}

	verb := strings.ToLower(tokens[1])
	logger := log.WithField("mr", mr.IID).WithField("verb", verb).WithField("author", event.Author)

	cmd := lookupCommand(verb)
	if cmd == nil {
		logger.Info("unknown chat command")
		commandsMetric.WithLabelValues("unknown").Inc()
		return false, d.platform.CreateNote(mr.IID, helpText(verb))
	}

	logger.Info("executing chat command")
	commandsMetric.WithLabelValues(cmd.verb).Inc()

	confirmation, reevaluate, err := cmd.handle(d, mr)
	if err != nil {
		return false, err
	}
	if confirmation != "" {
		if err := d.platform.CreateNote(mr.IID, confirmation); err != nil {
			return false, err
		}
	}
	return reevaluate, nil
}

func (d *Dispatcher) statusSummary(mr *review.MergeRequest) (string, bool, error) {
	var lines []string

	waiting, err := d.platform.HasTag(mr.IID, review.TagWaiting)
	if err != nil {
		return "", false, err
	}
	requested, err := d.platform.HasTag(mr.IID, review.TagPipelineRequested)
	if err != nil {
		return "", false, err
	}

	status, exists, err := d.pipeline.HeadStatus(mr)
	if err != nil {
		return "", false, err
	}
	if exists {
		lines = append(lines, fmt.Sprintf("Pipeline for `%s`: %s.", shortRevision(mr.HeadSHA), status))
	} else {
		lines = append(lines, "No pipeline exists for the current head yet.")
	}
	if waiting {
		lines = append(lines, "Waiting for the pipeline to finish.")
	}
	if requested {
		lines = append(lines, "A pipeline run is queued for the next evaluation.")
	}
	if mr.ApprovalsRequired > len(mr.ApprovedBy) {
		lines = append(lines, fmt.Sprintf("Approvals: %d of %d.", len(mr.ApprovedBy), mr.ApprovalsRequired))
	}
	if !mr.DiscussionsResolved {
		lines = append(lines, "There are unresolved discussions.")
	}

	return strings.Join(lines, "\n"), false, nil
}

func shortRevision(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
