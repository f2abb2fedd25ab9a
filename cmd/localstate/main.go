package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/blackmichael/splatshare/internal/localstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		path   string
		dump   bool
		repair bool
		wipe   bool
	)

	flag.StringVar(&path, "db", envOrDefault("SPLAT_STORE_PATH", "splatshare.db"), "Path to the on-device store")
	flag.BoolVar(&dump, "dump", false, "Print every stored post record as JSON lines")
	flag.BoolVar(&repair, "repair", false, "Clear the liked flag on posts stored with zero likes")
	flag.BoolVar(&wipe, "clear", false, "Wipe the store, as on logout")
	flag.Parse()

	if !dump && !repair && !wipe {
		return fmt.Errorf("one of --dump, --repair or --clear is required")
	}

	ctx := context.Background()
	store, err := localstore.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if repair {
		fixed, err := store.ValidateAndFixLikeState(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Repaired %d record(s)\n", fixed)
	}

	if dump {
		states, err := store.GetAllPostStates(ctx)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(states))
		for id := range states {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		enc := json.NewEncoder(os.Stdout)
		for _, id := range ids {
			st := states[id]
			if err := enc.Encode(map[string]any{
				"post_id":  id,
				"counts":   st.Counts,
				"is_liked": st.IsLiked,
			}); err != nil {
				return err
			}
		}
	}

	if wipe {
		if err := store.ClearAll(ctx); err != nil {
			return err
		}
		fmt.Println("Store cleared")
	}

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
