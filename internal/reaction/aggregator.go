// Package reaction turns the flat reaction rows of a thread into per-message tallies.
package reaction

import (
	"sort"
	"sparkchat/backend/internal/config"
	"sparkchat/backend/internal/models"
)

type membership struct {
	messageID, userID, emoji string
}

// Tally is an immutable projection of one thread's reactions.
type Tally struct {
	counts  map[string]map[string]int
	users   map[string]map[string][]string
	members map[membership]struct{}
}

// Aggregate groups rows by message and then by emoji. Rows repeating a
// (message, user, emoji) triple are counted once.
func Aggregate(rows []models.Reaction) Tally {
	t := Tally{
		counts:  make(map[string]map[string]int),
		users:   make(map[string]map[string][]string),
		members: make(map[membership]struct{}, len(rows)),
	}
	for _, r := range rows {
		key := membership{r.MessageID, r.UserID, r.Emoji}
		if _, dup := t.members[key]; dup {
			continue
		}
		t.members[key] = struct{}{}

		if t.counts[r.MessageID] == nil {
			t.counts[r.MessageID] = make(map[string]int)
			t.users[r.MessageID] = make(map[string][]string)
		}
		t.counts[r.MessageID][r.Emoji]++
		t.users[r.MessageID][r.Emoji] = append(t.users[r.MessageID][r.Emoji], r.UserID)
	}
	return t
}

// Counts returns emoji → count for a message. The map is a copy.
func (t Tally) Counts(messageID string) map[string]int {
	out := make(map[string]int, len(t.counts[messageID]))
	for emoji, n := range t.counts[messageID] {
		out[emoji] = n
	}
	return out
}

// Reacted is the toggle state of one emoji button for one user.
func (t Tally) Reacted(messageID, userID, emoji string) bool {
	_, ok := t.members[membership{messageID, userID, emoji}]
	return ok
}

// Groups lists a message's reactions in palette order; unknown emojis sort last.
func (t Tally) Groups(messageID string) []models.ReactionGroup {
	byEmoji := t.counts[messageID]
	if len(byEmoji) == 0 {
		return nil
	}
	groups := make([]models.ReactionGroup, 0, len(byEmoji))
	for emoji, n := range byEmoji {
		users := append([]string(nil), t.users[messageID][emoji]...)
		sort.Strings(users)
		groups = append(groups, models.ReactionGroup{Emoji: emoji, Count: n, Users: users})
	}
	sort.Slice(groups, func(i, j int) bool {
		ri, rj := rank(groups[i].Emoji), rank(groups[j].Emoji)
		if ri != rj {
			return ri < rj
		}
		return groups[i].Emoji < groups[j].Emoji
	})
	return groups
}

// Total is the number of distinct reactions on a message.
func (t Tally) Total(messageID string) int {
	total := 0
	for _, n := range t.counts[messageID] {
		total += n
	}
	return total
}

func rank(emoji string) int {
	for i, e := range config.AllowedEmojis {
		if e == emoji {
			return i
		}
	}
	return len(config.AllowedEmojis)
}

// Toggle applies a toggle to a flat list locally: the triple is removed when
// present and appended otherwise. The input slice is not modified.
func Toggle(rows []models.Reaction, r models.Reaction) ([]models.Reaction, bool) {
	out := make([]models.Reaction, 0, len(rows)+1)
	removed := false
	for _, existing := range rows {
		if existing.MessageID == r.MessageID && existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	if removed {
		return out, false
	}
	return append(out, r), true
}
