package gamestate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/questbot/engine/pkg/model"
)

// snapshotEnvelope wraps a GameState with a schema version so future
// persistence changes can migrate old snapshots.
type snapshotEnvelope struct {
	Version   int              `json:"version"`
	SavedAt   time.Time        `json:"saved_at"`
	State     *model.GameState `json:"state"`
}

const snapshotVersion = 1

// SaveSnapshot writes state to path atomically: marshal, write to a sibling
// ".tmp" file, then rename over the destination.
func SaveSnapshot(path string, state *model.GameState) error {
	env := snapshotEnvelope{Version: snapshotVersion, SavedAt: time.Now(), State: state}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot into place: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot. Returns
// (nil, nil) if the file doesn't exist, so callers can fall back to
// NewGameState.
func LoadSnapshot(path string) (*model.GameState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return env.State, nil
}
