// Package topics maps user-supplied topic selectors to forum topic ids.
package topics

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/telegram"
)

// PageSize is the number of topics requested per page.
const PageSize = 100

// ErrInvalidSelector is returned when a selector is neither a topic id nor
// an index into the topic list.
var ErrInvalidSelector = errors.New("invalid topic selector")

// Lister fetches one page of forum topics.
type Lister interface {
	ForumTopics(ctx context.Context, peer telegram.Peer, cursor telegram.TopicCursor, limit int) ([]telegram.Topic, error)
}

// Resolver enumerates forum topics and resolves selectors against them.
type Resolver struct {
	lister Lister
	flood  *telegram.FloodPolicy
	log    *logger.Logger
}

// NewResolver creates a resolver. flood may be nil for the default policy.
func NewResolver(lister Lister, flood *telegram.FloodPolicy, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Get()
	}
	if flood == nil {
		flood = telegram.NewFloodPolicy(telegram.DefaultFloodWait, log)
	}
	return &Resolver{lister: lister, flood: flood, log: log}
}

// Topics returns the full topic list of peer: General first, then the
// forum topics in the order the service returned them. A conversation
// without forum support yields General only.
func (r *Resolver) Topics(ctx context.Context, peer telegram.Peer) ([]telegram.Topic, error) {
	out := []telegram.Topic{{ID: telegram.GeneralTopicID, Title: telegram.GeneralTopicTitle}}
	seen := map[int]int{telegram.GeneralTopicID: 0}

	var cursor telegram.TopicCursor
	for {
		var page []telegram.Topic
		err := r.flood.Do(ctx, "forum_topics", func(ctx context.Context) (err error) {
			page, err = r.lister.ForumTopics(ctx, peer, cursor, PageSize)
			return err
		})
		if err != nil {
			if telegram.IsForumUnsupported(err) {
				r.log.Debug().Int64("peer_id", peer.ID).Msg("topics: conversation has no forum, using General only")
				return out, nil
			}
			return nil, fmt.Errorf("list topics: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, t := range page {
			if t.Title == "" {
				t.Title = fmt.Sprintf("Topic %d", t.ID)
			}
			// later pages overwrite the title but keep the first position
			if i, ok := seen[t.ID]; ok {
				out[i].Title = t.Title
				continue
			}
			seen[t.ID] = len(out)
			out = append(out, t)
		}

		last := page[len(page)-1]
		next := telegram.TopicCursor{Date: last.Date, ID: last.TopMessage, Topic: last.ID}
		if len(page) < PageSize || next == cursor {
			break
		}
		cursor = next
	}

	return out, nil
}

// Resolve maps selector to a topic id. A nil selector resolves to nil and
// 0 to General without any remote call. Otherwise an existing topic id is
// returned as is; failing that the selector is tried as a 0-based, then a
// 1-based index into Topics.
func (r *Resolver) Resolve(ctx context.Context, peer telegram.Peer, selector *int) (*int, error) {
	if selector == nil {
		return nil, nil
	}
	sel := *selector
	if sel == telegram.GeneralTopicID {
		id := telegram.GeneralTopicID
		return &id, nil
	}

	list, err := r.Topics(ctx, peer)
	if err != nil {
		return nil, err
	}

	id, err := Select(list, sel)
	if err != nil {
		return nil, err
	}

	r.log.Debug().
		Int64("peer_id", peer.ID).
		Int("selector", sel).
		Int("topic_id", id).
		Msg("topics: selector resolved")
	return &id, nil
}

// Select applies the selector rules to an already fetched list.
func Select(list []telegram.Topic, sel int) (int, error) {
	if sel == telegram.GeneralTopicID {
		return telegram.GeneralTopicID, nil
	}
	for _, t := range list {
		if t.ID == sel {
			return sel, nil
		}
	}
	if sel >= 0 && sel < len(list) {
		return list[sel].ID, nil
	}
	if sel >= 1 && sel <= len(list) {
		return list[sel-1].ID, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidSelector, sel)
}

// ID returns the resolved id or General when nil.
func ID(id *int) int {
	if id == nil {
		return telegram.GeneralTopicID
	}
	return *id
}
