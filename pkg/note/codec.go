// Package note encodes machine-readable check state into otherwise
// human-readable merge request comments. Every bot comment that represents a
// check result carries a details block so the state can be recovered from
// the comment history after a restart.
package note

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/releng-tools/mergewarden/pkg/util/sets"
)

const (
	blockOpen  = "<!-- mergewarden"
	blockClose = "-->"
)

// Details is the structured payload hidden inside a bot comment. Data is a
// value node on purpose: the yaml decoder fills value nodes with the raw
// subtree but leaves pointer nodes zero.
type Details struct {
	MessageID string    `yaml:"message_id"`
	Revision  string    `yaml:"revision"`
	Data      yaml.Node `yaml:"data,omitempty"`
}

// DecodeData unmarshals the optional data payload into out. An absent
// payload leaves out untouched.
func (d *Details) DecodeData(out interface{}) error {
	if d.Data.IsZero() {
		return nil
	}
	return d.Data.Decode(out)
}

// DataNode wraps an arbitrary value for use as a details payload.
func DataNode(v interface{}) (yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return yaml.Node{}, fmt.Errorf("could not encode details payload: %w", err)
	}
	return n, nil
}

// Codec encodes and decodes details blocks. KnownIDs is the message-id
// vocabulary the codec recognizes; a decoded block with an id outside it is
// treated as carrying no details, because humans post free-text comments and
// the vocabulary evolves across bot versions.
type Codec struct {
	KnownIDs sets.String
}

// Encode appends a details block to the free-form comment body.
func (c Codec) Encode(body string, d Details) (string, error) {
	raw, err := yaml.Marshal(&d)
	if err != nil {
		return "", fmt.Errorf("could not marshal note details: %w", err)
	}

	var sb strings.Builder
	body = strings.TrimRight(body, "\n")
	if body != "" {
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	sb.WriteString(blockOpen)
	sb.WriteString("\n")
	sb.Write(raw)
	sb.WriteString(blockClose)

	return sb.String(), nil
}

// Decode extracts the details block from a comment body. Decoding is
// best-effort: a body without a block, with an unparseable block, or with an
// unrecognized message id yields (nil, false) rather than an error, and the
// caller must treat such notes as non-authoritative.
func (c Codec) Decode(body string) (*Details, bool) {
	start := strings.Index(body, blockOpen)
	if start < 0 {
		return nil, false
	}
	rest := body[start+len(blockOpen):]

	end := strings.Index(rest, blockClose)
	if end < 0 {
		return nil, false
	}

	d := &Details{}
	if err := yaml.Unmarshal([]byte(rest[:end]), d); err != nil {
		log.WithError(err).Debug("ignoring comment with unparseable details block")
		return nil, false
	}

	if d.MessageID == "" {
		return nil, false
	}
	if c.KnownIDs != nil && !c.KnownIDs.Has(d.MessageID) {
		log.WithField("messageID", d.MessageID).Debug("ignoring comment with unknown message id")
		return nil, false
	}

	return d, true
}
