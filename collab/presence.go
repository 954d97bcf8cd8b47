package collab

import (
	"hash/fnv"
	"strings"
	"time"
)

// palette holds the cursor colors handed out to sessions. Assignment prefers
// a slot derived from the email hash so a user keeps the same color across
// reconnects while the room is not crowded.
var palette = []string{
	"#e74c3c", // red
	"#e67e22", // orange
	"#f1c40f", // yellow
	"#2ecc71", // green
	"#1abc9c", // teal
	"#3498db", // blue
	"#9b59b6", // purple
	"#e84393", // pink
	"#16a085", // sea green
	"#d35400", // rust
	"#2c3e50", // slate
	"#7f8c8d", // gray
}

// assignColor hashes the email to a preferred palette entry. If that entry
// is taken it falls back to the first unused one; with the palette exhausted
// it returns the preferred color anyway rather than failing.
func assignColor(email string, colorsInUse map[string]bool) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	preferred := palette[int(h.Sum32())%len(palette)]

	if !colorsInUse[preferred] {
		return preferred
	}
	for _, c := range palette {
		if !colorsInUse[c] {
			return c
		}
	}
	return preferred
}

// Presence is one session's human-facing state. It is owned by the room
// loop; nothing outside the loop mutates it.
type Presence struct {
	UserID       string       `json:"userId"`
	Email        string       `json:"email"`
	DisplayName  string       `json:"displayName"`
	Color        string       `json:"color"`
	Cursor       *CursorRange `json:"cursor"`
	LastActiveAt time.Time    `json:"lastActiveAt"`
	IsIdle       bool         `json:"isIdle"`
	IsEditing    bool         `json:"isEditing"`

	lastEditAt time.Time
}

func (p *Presence) touch(now time.Time) {
	p.LastActiveAt = now
	p.IsIdle = false
}
