package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultMutationTimeout = 15 * time.Second
	defaultLoadTimeout     = 30 * time.Second
)

// Action identifies a kind of optimistic mutation.
type Action string

const (
	ActionLike          Action = "like"
	ActionUnlike        Action = "unlike"
	ActionComment       Action = "comment"
	ActionDeleteComment Action = "delete_comment"
)

// Outcome is how the remote answered an optimistic mutation. Local state is
// kept in every case.
type Outcome string

const (
	OutcomeConfirmed    Outcome = "confirmed"
	OutcomeDiverged     Outcome = "diverged"
	OutcomeConflict     Outcome = "conflict"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeFailed       Outcome = "failed"
)

// MutationResult describes a settled background confirmation.
type MutationResult struct {
	Action    Action
	PostID    string
	CommentID string
	Outcome   Outcome

	// Local is the optimistic state committed before the remote call. Nil
	// when the post had no known counts to adjust.
	Local *Counts

	// Remote is the remote's post after the mutation, nil on failure.
	Remote *Post

	// Comment is set for confirmed comment creations.
	Comment *Comment

	Err error
}

// MutationHook observes settled mutations.
type MutationHook func(MutationResult)

// Option configures a PostService.
type Option func(*PostService)

// WithMutationHook registers a hook called once per settled mutation.
func WithMutationHook(hook MutationHook) Option {
	return func(s *PostService) {
		s.hook = hook
	}
}

// WithMutationTimeout bounds each background remote mutation.
func WithMutationTimeout(d time.Duration) Option {
	return func(s *PostService) {
		if d > 0 {
			s.mutationTimeout = d
		}
	}
}

// mutationKey identifies one single-flight slot.
type mutationKey struct {
	postID string
	kind   string
}

// PostService reconciles post counters between the remote, the process-wide
// cache and the on-device store. Loads merge the three by fixed precedence;
// mutations commit locally first and confirm remotely in the background
// without ever rolling back.
type PostService struct {
	remote RemoteSource
	store  LocalStore
	cache  PostCache
	logger *slog.Logger

	hook            MutationHook
	mutationTimeout time.Duration
	loadTimeout     time.Duration

	loads singleflight.Group

	mu       sync.Mutex
	inflight map[mutationKey]struct{}
	commits  map[string]*postLock
	pending  sync.WaitGroup
}

// postLock serialises the read-compute-persist-publish step for one post.
type postLock struct {
	sync.Mutex
	refs int
}

// NewPostService creates a PostService over the given collaborators.
func NewPostService(remote RemoteSource, store LocalStore, cache PostCache, logger *slog.Logger, opts ...Option) *PostService {
	s := &PostService{
		remote:          remote,
		store:           store,
		cache:           cache,
		logger:          logger,
		mutationTimeout: defaultMutationTimeout,
		loadTimeout:     defaultLoadTimeout,
		inflight:        make(map[mutationKey]struct{}),
		commits:         make(map[string]*postLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadPost fetches a post and reconciles its counters. Concurrent loads of the
// same post share one remote fetch. The shared fetch is not tied to any one
// caller's context; a caller that gives up returns early without failing the
// others.
func (s *PostService) LoadPost(ctx context.Context, id string) (Post, error) {
	ch := s.loads.DoChan(id, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		remote, err := s.remote.FetchPost(ctx, id)
		if err != nil {
			return Post{}, fmt.Errorf("fetch post %s: %w", id, err)
		}
		posts, err := s.reconcile(ctx, []Post{remote})
		if err != nil {
			return Post{}, err
		}
		return posts[0], nil
	})

	select {
	case <-ctx.Done():
		return Post{}, fmt.Errorf("load post %s: %w", id, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Post{}, res.Err
		}
		return res.Val.(Post), nil
	}
}

// LoadFeed fetches one page of the feed and reconciles every post in it.
func (s *PostService) LoadFeed(ctx context.Context, page, limit int) ([]Post, error) {
	remote, err := s.remote.FetchFeed(ctx, page, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch feed page %d: %w", page, err)
	}
	return s.reconcile(ctx, remote)
}

// LoadUserPosts fetches a user's posts and reconciles them.
func (s *PostService) LoadUserPosts(ctx context.Context, userID string) ([]Post, error) {
	remote, err := s.remote.FetchUserPosts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch posts of user %s: %w", userID, err)
	}
	return s.reconcile(ctx, remote)
}

// reconcile resolves the mutable fields of a batch of remote posts. The global
// repair pass runs before any local record is read.
func (s *PostService) reconcile(ctx context.Context, remote []Post) ([]Post, error) {
	fixed, err := s.store.ValidateAndFixLikeState(ctx)
	if err != nil {
		return nil, fmt.Errorf("repair like state: %w", err)
	}
	if fixed > 0 {
		s.logger.Info("repaired stored like state", "records", fixed)
	}

	states, err := s.store.GetAllPostStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("read local post state: %w", err)
	}

	resolved := make([]Post, len(remote))
	for i, p := range remote {
		resolved[i] = s.resolve(ctx, p, states)
	}
	return resolved, nil
}

// resolve applies cache > local > remote precedence to a single post, repairs
// the result, persists it where it differs from the stored record, and
// publishes it to the cache.
func (s *PostService) resolve(ctx context.Context, p Post, states map[string]LocalState) Post {
	unlock := s.lockPost(p.ID)
	defer unlock()

	stored, seen := states[p.ID]
	source := "local"

	if cached, ok := s.cache.Get(p.ID); ok {
		source = "cache"
		p.LikesCount = cached.LikesCount
		p.CommentsCount = cached.CommentsCount
		p.IsLiked = cached.IsLiked
	} else if !seen {
		source = "remote"
	} else {
		if stored.Counts != nil {
			p.LikesCount = stored.Counts.LikesCount
			p.CommentsCount = stored.Counts.CommentsCount
		}
		if stored.IsLiked != nil {
			p.IsLiked = *stored.IsLiked
		}
	}

	p.LikesCount = max(p.LikesCount, 0)
	p.CommentsCount = max(p.CommentsCount, 0)
	if p.LikesCount == 0 && p.IsLiked {
		s.logger.Debug("cleared liked flag on post with no likes", "post_id", p.ID, "source", source)
		p.IsLiked = false
	}

	if want := StateOf(p); !seen || !stored.Equal(want) {
		if err := s.store.SavePostState(ctx, p.ID, want); err != nil {
			s.logger.Warn("failed to persist resolved post state", "post_id", p.ID, "error", err)
		}
	}

	s.cache.Set(p.ID, p)
	return p
}

// ToggleLike flips the liked flag of post and adjusts its likes count. The new
// state is committed to the local store and the cache before returning; the
// remote is told in the background. The latest cached snapshot takes
// precedence over the one passed in, then the stored record.
func (s *PostService) ToggleLike(ctx context.Context, post Post) (Post, error) {
	if err := s.requireSession(ctx); err != nil {
		return post, err
	}

	key := mutationKey{postID: post.ID, kind: "like"}
	if !s.acquire(key) {
		if cached, ok := s.cache.Get(post.ID); ok {
			return cached, ErrMutationInFlight
		}
		return post, ErrMutationInFlight
	}

	next := s.commitLike(ctx, post)

	action := ActionUnlike
	if next.IsLiked {
		action = ActionLike
	}
	local := &Counts{LikesCount: next.LikesCount, CommentsCount: next.CommentsCount}

	s.background(ctx, key, func(ctx context.Context) MutationResult {
		var (
			remote Post
			err    error
		)
		if action == ActionLike {
			remote, err = s.remote.Like(ctx, next.ID)
		} else {
			remote, err = s.remote.Unlike(ctx, next.ID)
		}
		res := MutationResult{Action: action, PostID: next.ID, Local: local}
		return s.settle(res, remote, err)
	})

	return next, nil
}

// commitLike computes the toggled state from the freshest local snapshot and
// commits it while holding the post's lock, so a concurrent comment count
// change is never overwritten with a stale value.
func (s *PostService) commitLike(ctx context.Context, post Post) Post {
	unlock := s.lockPost(post.ID)
	defer unlock()

	base := post
	if cached, ok := s.cache.Get(post.ID); ok {
		base = cached
	} else if stored, ok, err := s.store.GetPostState(ctx, post.ID); err != nil {
		s.logger.Warn("failed to read local post state", "post_id", post.ID, "error", err)
	} else if ok {
		if stored.Counts != nil {
			base.LikesCount = stored.Counts.LikesCount
			base.CommentsCount = stored.Counts.CommentsCount
		}
		if stored.IsLiked != nil {
			base.IsLiked = *stored.IsLiked
		}
	}

	next := base
	next.IsLiked = !base.IsLiked
	if next.IsLiked {
		next.LikesCount = base.LikesCount + 1
	} else {
		next.LikesCount = max(base.LikesCount-1, 0)
	}

	if err := s.store.SavePostState(ctx, next.ID, StateOf(next)); err != nil {
		s.logger.Error("failed to persist optimistic like", "post_id", next.ID, "error", err)
	}
	s.cache.Set(next.ID, next)
	return next
}

// SubmitComment optimistically increments the post's comment count and
// creates the comment remotely in the background.
func (s *PostService) SubmitComment(ctx context.Context, postID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyComment
	}
	if err := s.requireSession(ctx); err != nil {
		return err
	}

	key := mutationKey{postID: postID, kind: "comment"}
	if !s.acquire(key) {
		return ErrMutationInFlight
	}

	local := s.adjustComments(ctx, postID, 1)

	s.background(ctx, key, func(ctx context.Context) MutationResult {
		result, err := s.remote.CreateComment(ctx, postID, text)
		res := MutationResult{Action: ActionComment, PostID: postID, Local: local}
		if err == nil {
			res.Comment = &result.Comment
			res.CommentID = result.Comment.ID
		}
		return s.settle(res, result.Post, err)
	})
	return nil
}

// DeleteComment optimistically decrements the post's comment count, floored
// at zero, and deletes the comment remotely in the background.
func (s *PostService) DeleteComment(ctx context.Context, postID, commentID string) error {
	if err := s.requireSession(ctx); err != nil {
		return err
	}

	key := mutationKey{postID: postID, kind: "delete_comment"}
	if !s.acquire(key) {
		return ErrMutationInFlight
	}

	local := s.adjustComments(ctx, postID, -1)

	s.background(ctx, key, func(ctx context.Context) MutationResult {
		remote, err := s.remote.DeleteComment(ctx, commentID)
		res := MutationResult{Action: ActionDeleteComment, PostID: postID, CommentID: commentID, Local: local}
		return s.settle(res, remote, err)
	})
	return nil
}

// adjustComments applies delta to the best known comment count of a post and
// commits it to the store and cache. A post with no known counts is left for
// the next load to seed.
func (s *PostService) adjustComments(ctx context.Context, postID string, delta int) *Counts {
	unlock := s.lockPost(postID)
	defer unlock()

	var counts Counts
	if cached, ok := s.cache.Get(postID); ok {
		counts = Counts{LikesCount: cached.LikesCount, CommentsCount: cached.CommentsCount}
	} else if stored, ok, err := s.store.GetPostState(ctx, postID); err != nil {
		s.logger.Warn("failed to read local post state", "post_id", postID, "error", err)
		return nil
	} else if ok && stored.Counts != nil {
		counts = *stored.Counts
	} else {
		return nil
	}

	counts.CommentsCount = max(counts.CommentsCount+delta, 0)

	if err := s.store.SavePostState(ctx, postID, LocalState{Counts: &counts}); err != nil {
		s.logger.Error("failed to persist optimistic comment count", "post_id", postID, "error", err)
	}
	s.cache.Update(postID, PostPatch{CommentsCount: &counts.CommentsCount})
	return &counts
}

// settle classifies the remote answer. It never touches local state.
func (s *PostService) settle(res MutationResult, remote Post, err error) MutationResult {
	log := s.logger.With("action", string(res.Action), "post_id", res.PostID)

	switch {
	case err == nil:
		res.Remote = &remote
		res.Outcome = OutcomeConfirmed
		if res.Local == nil {
			break
		}
		local, reported := res.Local.LikesCount, remote.LikesCount
		if res.Action == ActionComment || res.Action == ActionDeleteComment {
			local, reported = res.Local.CommentsCount, remote.CommentsCount
		}
		if diff := reported - local; diff > 1 || diff < -1 {
			res.Outcome = OutcomeDiverged
			log.Warn("remote count diverges from local, keeping local", "local", local, "remote", reported)
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotFound) && (res.Action == ActionUnlike || res.Action == ActionDeleteComment):
		res.Outcome = OutcomeConflict
		log.Debug("remote already in requested state", "error", err)
	case errors.Is(err, ErrUnauthenticated):
		res.Outcome = OutcomeUnauthorized
		log.Error("remote rejected session for mutation", "error", err)
	default:
		res.Outcome = OutcomeFailed
		log.Error("remote mutation failed, keeping local state", "error", err)
	}

	res.Err = err
	return res
}

// background runs confirm detached from the caller's cancellation, then
// releases key and reports the result.
func (s *PostService) background(ctx context.Context, key mutationKey, confirm func(context.Context) MutationResult) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mutationTimeout)
		res := confirm(ctx)
		cancel()

		s.release(key)
		if s.hook != nil {
			s.hook(res)
		}
	}()
}

// Wait blocks until every background confirmation has settled.
func (s *PostService) Wait() {
	s.pending.Wait()
}

func (s *PostService) acquire(key mutationKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *PostService) release(key mutationKey) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// lockPost holds the commit lock of one post until the returned func is
// called. Locks are dropped once nobody holds or waits on them.
func (s *PostService) lockPost(id string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.commits[id]
	if !ok {
		l = &postLock{}
		s.commits[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.commits, id)
		}
		s.mu.Unlock()
	}
}

func (s *PostService) requireSession(ctx context.Context) error {
	token, ok, err := s.store.GetAuthToken(ctx)
	if err != nil {
		return fmt.Errorf("read auth token: %w", err)
	}
	if !ok || token == "" {
		return ErrUnauthenticated
	}
	return nil
}

// StartSession stores the signed-in user's token and profile.
func (s *PostService) StartSession(ctx context.Context, token string, profile UserProfile) error {
	if token == "" {
		return ErrUnauthenticated
	}
	if err := s.store.SaveAuthToken(ctx, token); err != nil {
		return fmt.Errorf("save auth token: %w", err)
	}
	if err := s.store.SaveUserData(ctx, profile); err != nil {
		return fmt.Errorf("save user data: %w", err)
	}
	s.logger.Info("session started", "user_id", profile.ID)
	return nil
}

// CurrentUser returns the cached profile of the signed-in user.
func (s *PostService) CurrentUser(ctx context.Context) (UserProfile, error) {
	if err := s.requireSession(ctx); err != nil {
		return UserProfile{}, err
	}
	profile, ok, err := s.store.GetUserData(ctx)
	if err != nil {
		return UserProfile{}, fmt.Errorf("read user data: %w", err)
	}
	if !ok {
		return UserProfile{}, ErrNotFound
	}
	return profile, nil
}

// Logout wipes the local store and the in-memory cache. Liked flags belong to
// the signed-out user, so nothing survives.
func (s *PostService) Logout(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear local store: %w", err)
	}
	s.cache.Purge()
	s.logger.Info("session cleared")
	return nil
}
