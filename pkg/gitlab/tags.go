package gitlab

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/releng-tools/mergewarden/pkg/apis/review"
)

// Tags are stored as award emoji created by the bot's own account, the only
// durable boolean state the bot keeps outside of notes. The emoji vocabulary
// is fixed; anything else on the MR is ignored.
var tagEmoji = map[review.Tag]string{
	review.TagWatching:          "eyes",
	review.TagPipelineRequested: "arrows_counterclockwise",
	review.TagWaiting:           "hourglass",
	review.TagFollowUp:          "repeat",
	review.TagProcessing:        "construction",
}

var emojiTag = func() map[string]review.Tag {
	m := make(map[string]review.Tag, len(tagEmoji))
	for tag, emoji := range tagEmoji {
		m[emoji] = tag
	}
	return m
}()

// Tags returns the set of flags currently present on the MR, considering
// only awards placed by the bot itself.
func (c *Client) Tags(iid int) (map[review.Tag]bool, error) {
	awards, err := c.listAwards(iid)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list awards for merge request %d", iid)
	}

	tags := map[review.Tag]bool{}
	for _, award := range awards {
		if award.User.Username != c.botUser {
			continue
		}
		if tag, ok := emojiTag[award.Name]; ok {
			tags[tag] = true
		}
	}
	return tags, nil
}

// HasTag reports whether the flag is set on the MR.
func (c *Client) HasTag(iid int, tag review.Tag) (bool, error) {
	tags, err := c.Tags(iid)
	if err != nil {
		return false, err
	}
	return tags[tag], nil
}

// AddTag sets the flag; setting an already-present flag is a no-op.
func (c *Client) AddTag(iid int, tag review.Tag) error {
	emoji, ok := tagEmoji[tag]
	if !ok {
		return fmt.Errorf("unknown tag %q", tag)
	}

	present, err := c.HasTag(iid, tag)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	if c.dryRun {
		log.WithField("mr", iid).WithField("tag", tag).Info("dry run: would add tag")
		return nil
	}
	return errors.Wrapf(c.createAward(iid, emoji), "could not add tag %s to merge request %d", tag, iid)
}

// RemoveTag clears the flag; clearing an absent flag is a no-op.
func (c *Client) RemoveTag(iid int, tag review.Tag) error {
	emoji, ok := tagEmoji[tag]
	if !ok {
		return fmt.Errorf("unknown tag %q", tag)
	}

	awards, err := c.listAwards(iid)
	if err != nil {
		return errors.Wrapf(err, "could not list awards for merge request %d", iid)
	}

	for _, award := range awards {
		if award.Name != emoji || award.User.Username != c.botUser {
			continue
		}
		if c.dryRun {
			log.WithField("mr", iid).WithField("tag", tag).Info("dry run: would remove tag")
			return nil
		}
		if err := c.deleteAward(iid, award.ID); err != nil {
			return errors.Wrapf(err, "could not remove tag %s from merge request %d", tag, iid)
		}
		return nil
	}
	return nil
}
