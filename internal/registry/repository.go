// Package registry implements the marketplace side of agent registration:
// a JSON-file backed profile store, uniqueness enforcement and the HTTP
// surface sellers and buyers talk to.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xymarket/node/internal/models"
)

// ErrAlreadyRegistered is the sentinel behind every uniqueness conflict.
// Use errors.As with *ConflictError to read the buyer-facing message.
var ErrAlreadyRegistered = errors.New("agent already registered")

// ConflictError reports which uniqueness rule a registration violated. The
// message is returned verbatim in the 409 response body.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func (e *ConflictError) Unwrap() error { return ErrAlreadyRegistered }

// Repository stores agent profiles in memory and mirrors every change to a
// JSON file. Loading tolerates a missing or corrupt file so a bad disk
// state never keeps the marketplace from starting.
type Repository struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	agents map[string]*models.AgentProfile
}

func NewRepository(path string, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{
		path:   path,
		logger: logger,
		agents: make(map[string]*models.AgentProfile),
	}
	r.load()
	return r
}

func (r *Repository) load() {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Info("agents file not found, starting empty", slog.String("path", r.path))
		} else {
			r.logger.Error("failed to read agents file, starting empty",
				slog.String("path", r.path), slog.Any("error", err))
		}
		return
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		r.logger.Error("invalid JSON in agents file, starting empty",
			slog.String("path", r.path), slog.Any("error", err))
		return
	}

	for _, entry := range entries {
		var profile models.AgentProfile
		if err := json.Unmarshal(entry, &profile); err != nil {
			r.logger.Error("failed to load agent profile", slog.Any("error", err))
			continue
		}
		if profile.AgentID == "" || profile.BaseURL == "" {
			r.logger.Error("skipping agent profile with missing fields")
			continue
		}
		r.agents[profile.AgentID] = &profile
	}
	r.logger.Info("loaded agents",
		slog.Int("count", len(r.agents)), slog.String("path", r.path))
}

// save writes the full agent list to a temp file and renames it into
// place. Callers hold r.mu.
func (r *Repository) save() error {
	list := make([]*models.AgentProfile, 0, len(r.agents))
	for _, a := range r.agents {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AgentID < list[j].AgentID })

	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create agents dir: %w", err)
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write agents file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace agents file: %w", err)
	}
	return nil
}

// Create inserts a new profile after checking uniqueness of base_url,
// agent_name and agent_id, in that order. Conflicts surface as
// *ConflictError; the insert is rolled back if persisting fails.
func (r *Repository) Create(profile *models.AgentProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.agents {
		if existing.BaseURL == profile.BaseURL {
			if existing.AgentID == profile.AgentID {
				return &ConflictError{Message: fmt.Sprintf(
					"Agent %s is already registered with this URL.", profile.AgentID)}
			}
			return &ConflictError{Message: fmt.Sprintf(
				"Base URL %s is already registered by agent %s", profile.BaseURL, existing.AgentID)}
		}
	}
	if profile.AgentName != "" {
		for _, existing := range r.agents {
			if existing.AgentName == profile.AgentName && existing.AgentID != profile.AgentID {
				return &ConflictError{Message: fmt.Sprintf(
					"Agent name '%s' is already taken by agent %s", profile.AgentName, existing.AgentID)}
			}
		}
	}
	if _, ok := r.agents[profile.AgentID]; ok {
		return &ConflictError{Message: fmt.Sprintf(
			"Agent %s is already registered.", profile.AgentID)}
	}

	r.agents[profile.AgentID] = profile
	if err := r.save(); err != nil {
		delete(r.agents, profile.AgentID)
		return err
	}
	return nil
}

// Get returns a copy of the profile, or false when the id is unknown.
func (r *Repository) Get(agentID string) (*models.AgentProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return copyProfile(a), true
}

// List returns profiles sorted by registration time, newest first, with
// agent_id as the tiebreaker so pagination is stable.
func (r *Repository) List(limit, offset int) []*models.AgentProfile {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*models.AgentProfile, 0, len(r.agents))
	for _, a := range r.agents {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].RegisteredAt != all[j].RegisteredAt {
			return all[i].RegisteredAt > all[j].RegisteredAt
		}
		return all[i].AgentID < all[j].AgentID
	})

	if offset >= len(all) {
		return []*models.AgentProfile{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]*models.AgentProfile, 0, end-offset)
	for _, a := range all[offset:end] {
		page = append(page, copyProfile(a))
	}
	return page
}

// Len reports the number of stored profiles.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

func copyProfile(a *models.AgentProfile) *models.AgentProfile {
	cp := *a
	if a.Tags != nil {
		cp.Tags = append([]string(nil), a.Tags...)
	}
	return &cp
}
