package domain

import "context"

// RemoteSource is the hosted data service holding the canonical posts.
type RemoteSource interface {
	// FetchFeed returns one page of the home feed. Pages start at 0.
	FetchFeed(ctx context.Context, page, limit int) ([]Post, error)

	// FetchPost returns a single post by ID.
	FetchPost(ctx context.Context, id string) (Post, error)

	// FetchUserPosts returns every post owned by userID.
	FetchUserPosts(ctx context.Context, userID string) ([]Post, error)

	// Like and Unlike return the remote's view of the post after the change.
	// A duplicate like or a missing like is reported as ErrConflict.
	Like(ctx context.Context, postID string) (Post, error)
	Unlike(ctx context.Context, postID string) (Post, error)

	// CreateComment adds a comment and returns it with the updated post.
	CreateComment(ctx context.Context, postID, text string) (CommentResult, error)

	// DeleteComment removes a comment and returns the updated post.
	DeleteComment(ctx context.Context, commentID string) (Post, error)
}

// LocalStore is the on-device persistent store.
type LocalStore interface {
	// ValidateAndFixLikeState clears the liked flag of every stored post whose
	// likes count is zero. Returns the number of records changed.
	ValidateAndFixLikeState(ctx context.Context) (int64, error)

	// GetAllPostStates returns every stored per-post record keyed by post ID.
	GetAllPostStates(ctx context.Context) (map[string]LocalState, error)

	// GetPostState returns the record for one post, if any.
	GetPostState(ctx context.Context, postID string) (LocalState, bool, error)

	// SavePostState writes a per-post record as one unit. Nil parts keep the
	// stored value.
	SavePostState(ctx context.Context, postID string, state LocalState) error

	SaveAuthToken(ctx context.Context, token string) error
	GetAuthToken(ctx context.Context) (string, bool, error)
	SaveUserData(ctx context.Context, profile UserProfile) error
	GetUserData(ctx context.Context) (UserProfile, bool, error)

	// ClearAll wipes every key. Subsequent reads observe either everything or
	// nothing.
	ClearAll(ctx context.Context) error
}

// PostCache is the process-wide map of the latest known post snapshots.
type PostCache interface {
	Get(id string) (Post, bool)
	Set(id string, post Post)

	// Update merges patch into an existing entry. Without an entry it only
	// creates one when patch carries the post's identity.
	Update(id string, patch PostPatch)

	// Purge drops every entry.
	Purge()
}
