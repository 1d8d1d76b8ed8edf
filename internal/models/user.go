package models

// UserType distinguishes throwaway guest identities from identities backed by
// an external provider.
type UserType string

const (
	UserTypeGuest    UserType = "guest"
	UserTypeProvider UserType = "provider"
)

// LeaderboardStats is the lifetime counter block embedded in every persisted
// user. It is mutated only by the stats aggregator at game end.
type LeaderboardStats struct {
	GamesPlayed       int            `json:"gamesPlayed"`
	TotalScore        int            `json:"totalScore"`
	HighestScore      int            `json:"highestScore"`
	GamesWon          int            `json:"gamesWon"`
	TotalCombosRolled int            `json:"totalCombosRolled"`
	ComboCounts       map[string]int `json:"comboCounts,omitempty"`
	// BestCombo is the rarest combo category this user has ever rolled,
	// ranked by category, not by count.
	BestCombo string `json:"bestCombo,omitempty"`
}

// User is the durable identity record keyed by ID in every storage tier.
type User struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Type UserType `json:"type"`

	// AvatarURL is set for provider-backed users; Icon is the locally chosen
	// portrait for guests.
	AvatarURL string `json:"avatarUrl,omitempty"`
	Icon      string `json:"icon,omitempty"`

	// ProviderToken is an opaque credential blob from the identity provider.
	// Never serialized to clients.
	ProviderToken string `json:"-"`

	Stats LeaderboardStats `json:"stats"`
}

// Clone returns a deep copy, the combo-count map included, so storage tiers
// never hand out records aliasing a map another goroutine is writing.
func (u *User) Clone() *User {
	cp := *u
	if u.Stats.ComboCounts != nil {
		cp.Stats.ComboCounts = make(map[string]int, len(u.Stats.ComboCounts))
		for k, v := range u.Stats.ComboCounts {
			cp.Stats.ComboCounts[k] = v
		}
	}
	return &cp
}

// DisplayAvatar resolves the portrait shown in a started game. Provider users
// carry a remote avatar URL, guests a locally chosen icon name.
func (u *User) DisplayAvatar() string {
	if u.Type == UserTypeProvider && u.AvatarURL != "" {
		return u.AvatarURL
	}
	if u.Icon != "" {
		return u.Icon
	}
	return "icon_default"
}
