package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/parapr/parapr/internal/errors"
)

// Store persists session snapshots as JSON files, one per ticket, so a
// restarted engine can restore stage and mode for sessions it adopts.
// Writes are atomic (temp file + rename) so a crash never leaves a
// half-written snapshot behind.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating snapshot dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (st *Store) path(ticket string) string {
	return filepath.Join(st.dir, ticket+".json")
}

// Save writes a snapshot, replacing any previous one for the ticket.
func (st *Store) Save(snap Snapshot) error {
	if snap.Ticket == "" {
		return errors.Wrap(errors.ErrInvalidInput, "snapshot has no ticket")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding snapshot for %s", snap.Ticket)
	}

	tmp := st.path(snap.Ticket) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing snapshot for %s", snap.Ticket)
	}
	if err := os.Rename(tmp, st.path(snap.Ticket)); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "committing snapshot for %s", snap.Ticket)
	}
	return nil
}

// Load reads the stored snapshot for a ticket.
func (st *Store) Load(ticket string) (Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := os.ReadFile(st.path(ticket))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, errors.NewNotFoundError("snapshot", ticket)
		}
		return Snapshot{}, errors.Wrapf(err, "reading snapshot for %s", ticket)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrapf(err, "decoding snapshot for %s", ticket)
	}
	return snap, nil
}

// Delete removes a ticket's snapshot. Deleting a missing snapshot is
// not an error.
func (st *Store) Delete(ticket string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.Remove(st.path(ticket)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "deleting snapshot for %s", ticket)
	}
	return nil
}

// List returns every stored snapshot, sorted by ticket. Unreadable
// files are skipped.
func (st *Store) List() ([]Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing snapshot dir %s", st.dir)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(st.dir, entry.Name()))
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Ticket < snaps[j].Ticket })
	return snaps, nil
}
