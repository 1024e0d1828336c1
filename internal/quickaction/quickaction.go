// Package quickaction builds the "activate and show" shortcut list offered
// by UI shells.
package quickaction

// Type identifies an item that activates a tunnel and then shows it.
const Type = "WireGuardTunnelActivateAndShow"

// MaxItems is the length of the list.
const MaxItems = 10

// Item is a single shortcut. Title is the tunnel name.
type Item struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// RecentSource supplies recently activated names, most recent first.
type RecentSource interface {
	RecentNames(limit int) []string
}

// CreateItems lists recent names first, then the remaining names from all in
// their given order, up to MaxItems and without duplicates.
func CreateItems(recent, all []string) []Item {
	names := make([]string, 0, MaxItems)
	seen := make(map[string]struct{}, MaxItems)
	add := func(n string) {
		if len(names) >= MaxItems {
			return
		}
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	for _, n := range recent {
		add(n)
	}
	for _, n := range all {
		add(n)
	}

	items := make([]Item, len(names))
	for i, n := range names {
		items[i] = Item{Type: Type, Title: n}
	}
	return items
}

// FromSource is CreateItems with the recents read from src.
func FromSource(src RecentSource, all []string) []Item {
	return CreateItems(src.RecentNames(MaxItems), all)
}
