// Package archive writes ranking snapshots to durable blob storage.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"nftrarity/internal/rarity"
)

const (
	TraitFrequenciesFile = "trait-frequencies.json"
	RarityFile           = "nft-rarity.json"
)

// Sink stores one blob under key
type Sink interface {
	Put(ctx context.Context, key string, data []byte) error
	Name() string
}

type rarityEntry struct {
	TokenID int     `json:"tokenId"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Archiver fans a snapshot out to every configured sink
type Archiver struct {
	sinks  []Sink
	logger *slog.Logger
}

// New creates an archiver. With no sinks it does nothing.
func New(logger *slog.Logger, sinks ...Sink) *Archiver {
	return &Archiver{sinks: sinks, logger: logger}
}

// Enabled reports whether any sink is configured
func (a *Archiver) Enabled() bool {
	return a != nil && len(a.sinks) > 0
}

// WriteSnapshot stores the frequency table and ranking, both under a
// versioned prefix and as the latest copy
func (a *Archiver) WriteSnapshot(ctx context.Context, snap *rarity.Snapshot) error {
	if !a.Enabled() {
		return nil
	}

	traits, err := json.MarshalIndent(snap.Table, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal traits: %w", err)
	}
	entries := make([]rarityEntry, 0, len(snap.Records))
	for _, r := range snap.Records {
		entries = append(entries, rarityEntry{TokenID: r.TokenID, Score: r.RarityScore, Rank: r.Rank})
	}
	ranking, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ranking: %w", err)
	}

	prefix := fmt.Sprintf("v%d/", snap.Version)
	blobs := map[string][]byte{
		prefix + TraitFrequenciesFile: traits,
		prefix + RarityFile:           ranking,
		TraitFrequenciesFile:          traits,
		RarityFile:                    ranking,
	}

	var errs []error
	for _, sink := range a.sinks {
		for key, data := range blobs {
			if err := sink.Put(ctx, key, data); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", sink.Name(), key, err))
			}
		}
		a.logger.Info("snapshot archived", "sink", sink.Name(), "version", snap.Version)
	}
	return errors.Join(errs...)
}

// LocalDir writes blobs below a directory
type LocalDir struct {
	root string
}

// NewLocalDir creates the root directory if needed
func NewLocalDir(root string) (*LocalDir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalDir{root: root}, nil
}

func (d *LocalDir) Name() string { return "local" }

// Put writes atomically through a temp file and rename
func (d *LocalDir) Put(ctx context.Context, key string, data []byte) error {
	path := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
