package domain

import "time"

// User is the authenticated account resolved from a bearer token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Profile holds the user-editable profile.
type Profile struct {
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	ProfileImage string    `json:"profileImage"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// Favorite is a poem saved by a user.
type Favorite struct {
	Poem
	UserID      string    `json:"userId"`
	FavoritedAt time.Time `json:"favoritedAt"`
}

// PoemList is a named, user-owned collection of poems.
type PoemList struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Poems       []Poem    `json:"poems"`
	CreatedAt   time.Time `json:"createdAt"`
}
