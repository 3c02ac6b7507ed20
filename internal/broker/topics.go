package broker

import "strings"

type topicEntry struct {
	filter string
	id     int
}

// TopicTable is a bounded flat set of (filter, subscriber-id) pairs. Matching
// iterates all entries; with the intended O(10) filters and subscribers this
// stays cheaper than maintaining a trie.
type TopicTable struct {
	entries []topicEntry
}

// NewTopicTable returns a table with capacity TopicCapacity.
func NewTopicTable() *TopicTable {
	return &TopicTable{entries: make([]topicEntry, 0, TopicCapacity)}
}

// Len returns the number of stored (filter, id) pairs.
func (t *TopicTable) Len() int { return len(t.entries) }

// Insert adds the (filter, id) pair. Inserting an existing pair is a no-op.
func (t *TopicTable) Insert(filter string, id int) error {
	if len(filter) > MaxTopicLength {
		return ErrTopicTooLong
	}
	for _, e := range t.entries {
		if e.filter == filter && e.id == id {
			return nil
		}
	}
	if len(t.entries) == TopicCapacity {
		return ErrTopicsFull
	}
	t.entries = append(t.entries, topicEntry{filter: filter, id: id})
	return nil
}

// Remove deletes the exact (filter, id) pair; absent pairs are a no-op.
func (t *TopicTable) Remove(filter string, id int) {
	for i, e := range t.entries {
		if e.filter == filter && e.id == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return
		}
	}
}

// RemoveAll deletes every pair owned by id.
func (t *TopicTable) RemoveAll(id int) {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	t.entries = kept
}

// Subscribed returns the set of subscriber ids whose filter matches topic.
func (t *TopicTable) Subscribed(topic string) BitSet {
	var subs BitSet
	for _, e := range t.entries {
		if MatchFilter(e.filter, topic) {
			subs.Set(e.id)
		}
	}
	return subs
}

// MatchFilter reports whether an MQTT topic filter matches a topic name.
// Empty segments are skipped on both sides. `+` matches exactly one level,
// a terminal `#` matches the rest; otherwise filter and topic must exhaust
// together.
func MatchFilter(filter, topic string) bool {
	f, t := filter, topic
	for {
		fseg, frest, fok := nextSegment(f)
		if fok && fseg == "#" {
			return true
		}
		tseg, trest, tok := nextSegment(t)
		if !fok {
			return !tok
		}
		if !tok {
			return false
		}
		if fseg != "+" && fseg != tseg {
			return false
		}
		f, t = frest, trest
	}
}

// nextSegment returns the first non-empty `/`-separated segment of s and the
// remainder after it.
func nextSegment(s string) (seg, rest string, ok bool) {
	for s != "" {
		i := strings.IndexByte(s, '/')
		if i < 0 {
			return s, "", true
		}
		if i > 0 {
			return s[:i], s[i+1:], true
		}
		s = s[i+1:]
	}
	return "", "", false
}
