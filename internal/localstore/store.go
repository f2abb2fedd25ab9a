package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blackmichael/splatshare/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	keyAuthToken = "auth_token"
	keyUserData  = "user_data"
)

const schema = `
	CREATE TABLE IF NOT EXISTS post_state (
		post_id        TEXT PRIMARY KEY,
		likes_count    INTEGER,
		comments_count INTEGER,
		is_liked       INTEGER,
		updated_at     INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

// Store implements domain.LocalStore on an on-device SQLite file. Counts and
// the liked flag of a post share one row, so a write of both is atomic.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path and applies the schema. The caller
// should call Close when the store is no longer needed.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePostState upserts the record for postID. Nil parts of state keep the
// stored values.
func (s *Store) SavePostState(ctx context.Context, postID string, state domain.LocalState) error {
	var likes, comments, liked any
	if state.Counts != nil {
		likes = max(state.Counts.LikesCount, 0)
		comments = max(state.Counts.CommentsCount, 0)
	}
	if state.IsLiked != nil {
		liked = *state.IsLiked
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_state (post_id, likes_count, comments_count, is_liked, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5)
		ON CONFLICT (post_id) DO UPDATE SET
			likes_count    = COALESCE(excluded.likes_count, post_state.likes_count),
			comments_count = COALESCE(excluded.comments_count, post_state.comments_count),
			is_liked       = COALESCE(excluded.is_liked, post_state.is_liked),
			updated_at     = excluded.updated_at`,
		postID, likes, comments, liked, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert post state %s: %w", postID, err)
	}
	return nil
}

// GetPostState returns the stored record for postID.
func (s *Store) GetPostState(ctx context.Context, postID string) (domain.LocalState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT likes_count, comments_count, is_liked FROM post_state WHERE post_id = ?1`, postID,
	)
	state, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LocalState{}, false, nil
	}
	if err != nil {
		return domain.LocalState{}, false, fmt.Errorf("query post state %s: %w", postID, err)
	}
	return state, true, nil
}

// GetAllPostStates returns every stored record keyed by post ID.
func (s *Store) GetAllPostStates(ctx context.Context) (map[string]domain.LocalState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, likes_count, comments_count, is_liked FROM post_state`,
	)
	if err != nil {
		return nil, fmt.Errorf("query post states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]domain.LocalState)
	for rows.Next() {
		var (
			id              string
			likes, comments sql.NullInt64
			liked           sql.NullBool
		)
		if err := rows.Scan(&id, &likes, &comments, &liked); err != nil {
			return nil, fmt.Errorf("scan post state: %w", err)
		}
		states[id] = toState(likes, comments, liked)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post states: %w", err)
	}
	return states, nil
}

// SaveLikeState stores the liked flag of a post, leaving its counts as they are.
func (s *Store) SaveLikeState(ctx context.Context, postID string, liked bool) error {
	return s.SavePostState(ctx, postID, domain.LocalState{IsLiked: &liked})
}

// GetLikeState returns the stored liked flag of a post.
func (s *Store) GetLikeState(ctx context.Context, postID string) (bool, bool, error) {
	state, ok, err := s.GetPostState(ctx, postID)
	if err != nil || !ok || state.IsLiked == nil {
		return false, false, err
	}
	return *state.IsLiked, true, nil
}

// GetAllLikeStates returns every stored liked flag keyed by post ID.
func (s *Store) GetAllLikeStates(ctx context.Context) (map[string]bool, error) {
	states, err := s.GetAllPostStates(ctx)
	if err != nil {
		return nil, err
	}
	likes := make(map[string]bool, len(states))
	for id, st := range states {
		if st.IsLiked != nil {
			likes[id] = *st.IsLiked
		}
	}
	return likes, nil
}

// SavePostCounts stores the counters of a post, leaving its liked flag as it is.
func (s *Store) SavePostCounts(ctx context.Context, postID string, counts domain.Counts) error {
	return s.SavePostState(ctx, postID, domain.LocalState{Counts: &counts})
}

// GetPostCounts returns the stored counters of a post.
func (s *Store) GetPostCounts(ctx context.Context, postID string) (domain.Counts, bool, error) {
	state, ok, err := s.GetPostState(ctx, postID)
	if err != nil || !ok || state.Counts == nil {
		return domain.Counts{}, false, err
	}
	return *state.Counts, true, nil
}

// GetAllPostCounts returns every stored counter record keyed by post ID.
func (s *Store) GetAllPostCounts(ctx context.Context) (map[string]domain.Counts, error) {
	states, err := s.GetAllPostStates(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]domain.Counts, len(states))
	for id, st := range states {
		if st.Counts != nil {
			counts[id] = *st.Counts
		}
	}
	return counts, nil
}

// ValidateAndFixLikeState clears the liked flag of every post stored with zero
// likes. Only violating rows are written. Returns the number of rows fixed.
func (s *Store) ValidateAndFixLikeState(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE post_state
		SET is_liked = 0, updated_at = ?1
		WHERE likes_count = 0 AND is_liked = 1`,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("fix like state: %w", err)
	}
	fixed, _ := res.RowsAffected()
	return fixed, nil
}

// SaveAuthToken stores the session token.
func (s *Store) SaveAuthToken(ctx context.Context, token string) error {
	return s.put(ctx, keyAuthToken, token)
}

// GetAuthToken returns the stored session token.
func (s *Store) GetAuthToken(ctx context.Context) (string, bool, error) {
	return s.get(ctx, keyAuthToken)
}

// SaveUserData stores the signed-in user's profile.
func (s *Store) SaveUserData(ctx context.Context, profile domain.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal user data: %w", err)
	}
	return s.put(ctx, keyUserData, string(data))
}

// GetUserData returns the stored profile.
func (s *Store) GetUserData(ctx context.Context) (domain.UserProfile, bool, error) {
	raw, ok, err := s.get(ctx, keyUserData)
	if err != nil || !ok {
		return domain.UserProfile{}, false, err
	}
	var profile domain.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("unmarshal user data: %w", err)
	}
	return profile, true, nil
}

// ClearAll deletes every key in one transaction.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM post_state`); err != nil {
		return fmt.Errorf("delete post state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?1, ?2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func scanState(row *sql.Row) (domain.LocalState, error) {
	var (
		likes, comments sql.NullInt64
		liked           sql.NullBool
	)
	if err := row.Scan(&likes, &comments, &liked); err != nil {
		return domain.LocalState{}, err
	}
	return toState(likes, comments, liked), nil
}

func toState(likes, comments sql.NullInt64, liked sql.NullBool) domain.LocalState {
	var st domain.LocalState
	if likes.Valid || comments.Valid {
		st.Counts = &domain.Counts{
			LikesCount:    int(likes.Int64),
			CommentsCount: int(comments.Int64),
		}
	}
	if liked.Valid {
		v := liked.Bool
		st.IsLiked = &v
	}
	return st
}
