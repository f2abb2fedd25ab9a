package postcache

import (
	"testing"

	"github.com/blackmichael/splatshare/internal/domain"
)

func newTestCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	c, err := New(capacity)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) error = nil")
	}
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t, 4)

	if _, ok := c.Get("p1"); ok {
		t.Fatal("Get() on empty cache found an entry")
	}
	c.Set("p1", domain.Post{ID: "p1", LikesCount: 5})
	got, ok := c.Get("p1")
	if !ok || got.LikesCount != 5 {
		t.Errorf("Get() = %+v %v, want likes 5", got, ok)
	}
}

func TestUpdate(t *testing.T) {
	likes := 9
	liked := true
	caption := "rooftop scan"

	tests := []struct {
		name      string
		seed      *domain.Post
		patch     domain.PostPatch
		wantFound bool
		want      domain.Post
	}{
		{
			name:      "merges into existing entry",
			seed:      &domain.Post{ID: "p1", LikesCount: 1, CommentsCount: 4, Caption: "old"},
			patch:     domain.PostPatch{LikesCount: &likes, IsLiked: &liked, Caption: &caption},
			wantFound: true,
			want:      domain.Post{ID: "p1", LikesCount: 9, CommentsCount: 4, IsLiked: true, Caption: "rooftop scan"},
		},
		{
			name:  "no-op without identity",
			patch: domain.PostPatch{LikesCount: &likes},
		},
		{
			name:  "no-op with another post's identity",
			patch: domain.PostPatch{ID: "p2", LikesCount: &likes},
		},
		{
			name:      "creates with identity",
			patch:     domain.PostPatch{ID: "p1", LikesCount: &likes},
			wantFound: true,
			want:      domain.Post{ID: "p1", LikesCount: 9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(t, 4)
			if tt.seed != nil {
				c.Set(tt.seed.ID, *tt.seed)
			}

			c.Update("p1", tt.patch)

			got, ok := c.Get("p1")
			if ok != tt.wantFound {
				t.Fatalf("Get() found = %v, want %v", ok, tt.wantFound)
			}
			if ok && (got.ID != tt.want.ID || got.LikesCount != tt.want.LikesCount ||
				got.CommentsCount != tt.want.CommentsCount || got.IsLiked != tt.want.IsLiked ||
				got.Caption != tt.want.Caption) {
				t.Errorf("Get() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t, 2)

	c.Set("a", domain.Post{ID: "a"})
	c.Set("b", domain.Post{ID: "b"})
	c.Get("a")
	c.Set("c", domain.Post{ID: "c"})

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry was kept")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently read entry was evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestSubscribe(t *testing.T) {
	c := newTestCache(t, 4)

	var seen []string
	unsubscribe := c.Subscribe(func(p domain.Post) {
		seen = append(seen, p.ID)
	})

	likes := 1
	c.Set("p1", domain.Post{ID: "p1"})
	c.Update("p1", domain.PostPatch{LikesCount: &likes})
	c.Update("ghost", domain.PostPatch{LikesCount: &likes})

	unsubscribe()
	unsubscribe()
	c.Set("p2", domain.Post{ID: "p2"})

	if len(seen) != 2 || seen[0] != "p1" || seen[1] != "p1" {
		t.Errorf("subscriber saw %v, want [p1 p1]", seen)
	}
}

func TestPurge(t *testing.T) {
	c := newTestCache(t, 4)
	c.Set("p1", domain.Post{ID: "p1"})

	purges := 0
	unsubscribe := c.OnPurge(func() {
		if c.Len() != 0 {
			t.Errorf("purge callback ran with %d entries still cached", c.Len())
		}
		purges++
	})

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len() after Purge() = %d", c.Len())
	}

	unsubscribe()
	c.Purge()
	if purges != 1 {
		t.Errorf("purge callback ran %d times, want 1", purges)
	}
}
