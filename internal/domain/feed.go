package domain

import "time"

// FeedPost is a share created when a user completes a session with both an
// image and a note. The core only creates posts; the social feed subsystem
// owns them afterwards.
type FeedPost struct {
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ImageRef  string    `json:"image_ref"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}
