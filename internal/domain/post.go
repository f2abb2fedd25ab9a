package domain

import "time"

// Post is a shareable image or 3D capture with its social counters.
type Post struct {
	// ID is the remote identifier of the post.
	ID string `json:"id"`

	// UserID is the owner of the post.
	UserID string `json:"user_id"`

	// Author is a display summary of the owner, when the remote embeds it.
	Author *Author `json:"author,omitempty"`

	ImageURL  string    `json:"image_url,omitempty"`
	ImageURLs []string  `json:"image_urls,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Location  string    `json:"location,omitempty"`
	Hashtags  []string  `json:"hashtags,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Is3D marks posts whose capture has been processed into a splat scene.
	Is3D bool `json:"is_3d"`

	// SplatURL points at the processed 3D asset. Empty until processing completes.
	SplatURL string `json:"splat_url,omitempty"`

	// LikesCount, CommentsCount and IsLiked are reconciled between the remote,
	// the in-memory cache and the on-device store.
	LikesCount    int  `json:"likes_count"`
	CommentsCount int  `json:"comments_count"`
	IsLiked       bool `json:"is_liked"`
}

// Author is the embedded owner summary shown next to a post.
type Author struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Counts is the persisted counter record for a post.
type Counts struct {
	LikesCount    int `json:"likes_count"`
	CommentsCount int `json:"comments_count"`
}

// LocalState is the on-device record for a single post. A nil part has never
// been stored for that post.
type LocalState struct {
	Counts  *Counts
	IsLiked *bool
}

// StateOf returns the fully populated local record for a post.
func StateOf(p Post) LocalState {
	liked := p.IsLiked
	return LocalState{
		Counts:  &Counts{LikesCount: p.LikesCount, CommentsCount: p.CommentsCount},
		IsLiked: &liked,
	}
}

// Equal reports whether two records hold the same values.
func (s LocalState) Equal(o LocalState) bool {
	if (s.Counts == nil) != (o.Counts == nil) || (s.IsLiked == nil) != (o.IsLiked == nil) {
		return false
	}
	if s.Counts != nil && *s.Counts != *o.Counts {
		return false
	}
	if s.IsLiked != nil && *s.IsLiked != *o.IsLiked {
		return false
	}
	return true
}

// PostPatch carries a partial post update. Nil fields are left untouched. An
// empty ID means the patch has no identity and cannot create a new entry.
type PostPatch struct {
	ID            string
	Caption       *string
	Location      *string
	SplatURL      *string
	Is3D          *bool
	LikesCount    *int
	CommentsCount *int
	IsLiked       *bool
}

// Apply returns p with the patch's non-nil fields merged in.
func (pp PostPatch) Apply(p Post) Post {
	if pp.ID != "" {
		p.ID = pp.ID
	}
	if pp.Caption != nil {
		p.Caption = *pp.Caption
	}
	if pp.Location != nil {
		p.Location = *pp.Location
	}
	if pp.SplatURL != nil {
		p.SplatURL = *pp.SplatURL
	}
	if pp.Is3D != nil {
		p.Is3D = *pp.Is3D
	}
	if pp.LikesCount != nil {
		p.LikesCount = *pp.LikesCount
	}
	if pp.CommentsCount != nil {
		p.CommentsCount = *pp.CommentsCount
	}
	if pp.IsLiked != nil {
		p.IsLiked = *pp.IsLiked
	}
	return p
}

// Comment is a single comment on a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentResult is the remote's response to creating a comment.
type CommentResult struct {
	Comment Comment `json:"comment"`
	Post    Post    `json:"post"`
}

// UserProfile is the signed-in user's cached profile.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty"`
}
