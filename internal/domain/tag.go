package domain

// Tag labels transactions. Names are unique per user.
type Tag struct {
	ID            string  `json:"id"`
	UID           string  `json:"uid"`
	Name          string  `json:"name"`
	Automatic     bool    `json:"automatic"`
	DefaultAmount *string `json:"defaultAmount,omitempty"`
	IsAsset       *bool   `json:"isAsset,omitempty"`
}

// TagsByName indexes tags by their name.
func TagsByName(tags map[string]Tag) map[string]Tag {
	out := make(map[string]Tag, len(tags))
	for _, t := range tags {
		out[t.Name] = t
	}
	return out
}
