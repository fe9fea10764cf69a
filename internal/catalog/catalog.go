// Package catalog holds the static users, missions and rewards of the household.
// The tables are fixed at build time and handed out as copies
package catalog

import (
	"fmt"
	"regexp"
)

// DefaultStartingPoints seeds every new profile
const DefaultStartingPoints = 220

// User is a household member who can log in with a PIN
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	PIN         string `json:"-"`
	Theme       string `json:"theme"`
	Avatar      string `json:"avatar"`
}

// Mission is a task that credits XP once per user
type Mission struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	XP          int    `json:"xp"`
	Badge       string `json:"badge"`
	Description string `json:"description"`
}

// Reward is a purchasable item with a fixed point cost
type Reward struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Cost    int    `json:"cost"`
	Sparkle bool   `json:"sparkle,omitempty"`
}

var users = []User{
	{ID: "mom", DisplayName: "Mom", PIN: "1234", Theme: "from-pink-500 to-rose-500", Avatar: "M"},
	{ID: "dad", DisplayName: "Dad", PIN: "1234", Theme: "from-indigo-500 to-blue-500", Avatar: "D"},
	{ID: "student1", DisplayName: "Explorer", PIN: "1234", Theme: "from-emerald-500 to-teal-500", Avatar: "E"},
}

var missions = []Mission{
	{
		ID:          "math-sprint",
		Title:       "Speed Math Sprint",
		XP:          80,
		Badge:       "Math",
		Description: "Beat the 2-minute clock with 10 correct answers.",
	},
	{
		ID:          "reading-quest",
		Title:       "Reading Quest",
		XP:          70,
		Badge:       "Reading",
		Description: "Read a short story and share your favorite line.",
	},
	{
		ID:          "science-lab",
		Title:       "Kitchen Science",
		XP:          90,
		Badge:       "Science",
		Description: "Test a quick experiment and tell what you noticed.",
	},
	{
		ID:          "kindness",
		Title:       "Kindness Mission",
		XP:          60,
		Badge:       "Life",
		Description: "Do something kind for someone today.",
	},
}

var rewards = []Reward{
	{ID: "screen", Title: "20 min Screen Time", Cost: 120, Sparkle: true},
	{ID: "treat", Title: "Snack Token", Cost: 90},
	{ID: "late", Title: "Stay Up +15 min", Cost: 150},
	{ID: "song", Title: "Pick the Music", Cost: 60},
}

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

// Users returns all registered users in display order
func Users() []User {
	return append([]User(nil), users...)
}

// Missions returns all mission definitions in display order
func Missions() []Mission {
	return append([]Mission(nil), missions...)
}

// Rewards returns all reward definitions in display order
func Rewards() []Reward {
	return append([]Reward(nil), rewards...)
}

// UserByID looks up a user
func UserByID(id string) (User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// MissionByID looks up a mission
func MissionByID(id string) (Mission, bool) {
	for _, m := range missions {
		if m.ID == id {
			return m, true
		}
	}
	return Mission{}, false
}

// RewardByID looks up a reward
func RewardByID(id string) (Reward, bool) {
	for _, r := range rewards {
		if r.ID == id {
			return r, true
		}
	}
	return Reward{}, false
}

// Validate checks the static tables for duplicate ids and malformed values
func Validate() error {
	seen := make(map[string]bool)
	for _, u := range users {
		if seen["user:"+u.ID] {
			return fmt.Errorf("duplicate user id %q", u.ID)
		}
		seen["user:"+u.ID] = true
		if !pinPattern.MatchString(u.PIN) {
			return fmt.Errorf("user %q: pin must be 4 digits", u.ID)
		}
	}
	for _, m := range missions {
		if seen["mission:"+m.ID] {
			return fmt.Errorf("duplicate mission id %q", m.ID)
		}
		seen["mission:"+m.ID] = true
		if m.XP <= 0 {
			return fmt.Errorf("mission %q: xp must be positive", m.ID)
		}
	}
	for _, r := range rewards {
		if seen["reward:"+r.ID] {
			return fmt.Errorf("duplicate reward id %q", r.ID)
		}
		seen["reward:"+r.ID] = true
		if r.Cost <= 0 {
			return fmt.Errorf("reward %q: cost must be positive", r.ID)
		}
	}
	return nil
}
