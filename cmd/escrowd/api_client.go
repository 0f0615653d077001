package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fentz26/escrowd/internal/auth"
	"github.com/fentz26/escrowd/internal/client"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/spf13/cobra"
)

// readClient returns a client for public reads. The identity is attached
// when the key file exists so "me" shortcuts work.
func readClient() *client.Client {
	id, _ := auth.Load(keyPath)
	return client.New(apiAddr, id)
}

// signingClient returns a client that signs with the key at --key.
func signingClient() (*client.Client, error) {
	id, err := auth.Load(keyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no signing key at %s (run \"escrowd keygen\")", keyPath)
		}
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	return client.New(apiAddr, id), nil
}

// apiContext bounds one CLI call.
func apiContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), client.DefaultTimeout)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAddr parses an address argument. "me" is the caller's own key.
func parseAddr(s string) (models.Address, error) {
	if s == "me" {
		id, err := auth.Load(keyPath)
		if err != nil {
			return models.Address{}, fmt.Errorf("resolving \"me\": %w", err)
		}
		return id.Address(), nil
	}
	addr, err := models.ParseAddress(s)
	if err != nil {
		return models.Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr, nil
}

// contentHash resolves a hash flag pair: an explicit hex hash, a file whose
// contents are hashed, or literal text.
func contentHash(hexHash, file, text string) (models.Hash, error) {
	switch {
	case hexHash != "":
		return models.ParseHash(hexHash)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return models.Hash{}, err
		}
		return models.ContentHash(data), nil
	case text != "":
		return models.ContentHash([]byte(text)), nil
	}
	return models.Hash{}, nil
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
