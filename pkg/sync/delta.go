package sync

import (
	"sort"
	"strconv"

	"github.com/Ramsey-B/aster/pkg/zendesk"
)

// FieldChange records one field's transition between the previous and
// current snapshots. Values carry the external vocabulary, not the internal
// enums, so downstream consumers see what the platform reported.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// TagChange records the order-insensitive tag set difference
type TagChange struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// computeDelta compares the previous snapshot embedded in the event against
// the current one. Events without a previous snapshot produce an empty
// delta.
func computeDelta(previous, current *zendesk.TicketPayload) map[string]any {
	delta := make(map[string]any)
	if previous == nil || current == nil {
		return delta
	}

	if previous.Status != current.Status {
		delta["status"] = FieldChange{From: previous.Status, To: current.Status}
	}
	if previous.Priority != current.Priority {
		delta["priority"] = FieldChange{From: previous.Priority, To: current.Priority}
	}
	if previous.Subject != current.Subject {
		delta["subject"] = FieldChange{From: previous.Subject, To: current.Subject}
	}
	if !equalIDPtr(previous.AssigneeID, current.AssigneeID) {
		delta["assignee"] = FieldChange{From: idValue(previous.AssigneeID), To: idValue(current.AssigneeID)}
	}
	if added, removed := diffTags(previous.Tags, current.Tags); len(added) > 0 || len(removed) > 0 {
		delta["tags"] = TagChange{Added: added, Removed: removed}
	}

	return delta
}

func equalIDPtr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func idValue(id *int64) any {
	if id == nil {
		return nil
	}
	return strconv.FormatInt(*id, 10)
}

// diffTags returns the tags present only in current (added) and only in
// previous (removed), sorted for stable output
func diffTags(previous, current []string) (added, removed []string) {
	prev := make(map[string]struct{}, len(previous))
	for _, tag := range previous {
		prev[tag] = struct{}{}
	}
	curr := make(map[string]struct{}, len(current))
	for _, tag := range current {
		curr[tag] = struct{}{}
	}

	for tag := range curr {
		if _, ok := prev[tag]; !ok {
			added = append(added, tag)
		}
	}
	for tag := range prev {
		if _, ok := curr[tag]; !ok {
			removed = append(removed, tag)
		}
	}

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
