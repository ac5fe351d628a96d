package registry

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/mo"
	"go.uber.org/zap"

	"classtab/internal/apperr"
	"classtab/internal/model"
)

// userRecord and groupRecord mirror the on-disk userdata.json layout.
type userRecord struct {
	Nickname string `json:"nickname"`
	Reminder bool   `json:"reminder"`
}

type groupRecord struct {
	// Route is the opaque messaging-platform routing key for the group,
	// stored for the notification collaborator; the engine never reads it.
	Route string                 `json:"umo,omitempty"`
	Users map[string]*userRecord `json:"users"`
}

// Registry owns user-to-calendar bindings, persisted as a single JSON
// file. All mutation is serialized behind one mutex; reads hand out
// value copies so callers never alias internal state.
type Registry struct {
	mu     sync.Mutex
	path   string
	groups map[string]*groupRecord
	log    *zap.Logger
}

// Load reads the registry file at path. A missing file starts an empty
// registry; a corrupt file is logged and likewise starts empty rather
// than refusing to boot.
func Load(path string, log *zap.Logger) (*Registry, error) {
	r := &Registry{path: path, groups: make(map[string]*groupRecord), log: log}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, &r.groups); err != nil {
		log.Warn("user registry unreadable, starting empty", zap.String("path", path), zap.Error(err))
		r.groups = make(map[string]*groupRecord)
	}
	return r, nil
}

// Bind registers (or re-registers) a user in a group. Rebinding keeps the
// existing reminder flag. The change is persisted before returning.
func (r *Registry) Bind(groupID, userID, nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		g = &groupRecord{Users: make(map[string]*userRecord)}
		r.groups[groupID] = g
	}

	if u, ok := g.Users[userID]; ok {
		u.Nickname = nickname
	} else {
		g.Users[userID] = &userRecord{Nickname: nickname}
	}

	return r.save()
}

// SetRoute records the messaging routing key for a group.
func (r *Registry) SetRoute(groupID, route string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		g = &groupRecord{Users: make(map[string]*userRecord)}
		r.groups[groupID] = g
	}
	g.Route = route
	return r.save()
}

// SetReminder toggles a bound user's reminder flag, persisting the change.
func (r *Registry) SetReminder(groupID, userID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return apperr.ErrNotBound
	}
	u, ok := g.Users[userID]
	if !ok {
		return apperr.ErrNotBound
	}
	u.Reminder = enabled
	return r.save()
}

// Binding looks up one user's binding.
func (r *Registry) Binding(groupID, userID string) mo.Option[model.Binding] {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return mo.None[model.Binding]()
	}
	u, ok := g.Users[userID]
	if !ok {
		return mo.None[model.Binding]()
	}
	return mo.Some(model.Binding{
		GroupID:  groupID,
		UserID:   userID,
		Nickname: u.Nickname,
		Reminder: u.Reminder,
	})
}

// HasGroup reports whether any user is bound in the group.
func (r *Registry) HasGroup(groupID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	return ok && len(g.Users) > 0
}

// ForEach visits every binding in one group in roster encounter order
// (user IDs sorted, so the order is deterministic across runs). The
// snapshot is taken under the lock; fn runs without it, so callbacks may
// safely re-enter the registry.
func (r *Registry) ForEach(groupID string, fn func(model.Binding)) {
	for _, b := range r.snapshot(groupID) {
		fn(b)
	}
}

// ForEachAll visits every binding in every group, groups in sorted order.
func (r *Registry) ForEachAll(fn func(model.Binding)) {
	r.mu.Lock()
	groupIDs := make([]string, 0, len(r.groups))
	for id := range r.groups {
		groupIDs = append(groupIDs, id)
	}
	r.mu.Unlock()
	sort.Strings(groupIDs)

	for _, gid := range groupIDs {
		for _, b := range r.snapshot(gid) {
			fn(b)
		}
	}
}

func (r *Registry) snapshot(groupID string) []model.Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[groupID]
	if !ok {
		return nil
	}

	userIDs := make([]string, 0, len(g.Users))
	for id := range g.Users {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	out := make([]model.Binding, 0, len(userIDs))
	for _, uid := range userIDs {
		u := g.Users[uid]
		out = append(out, model.Binding{
			GroupID:  groupID,
			UserID:   uid,
			Nickname: u.Nickname,
			Reminder: u.Reminder,
		})
	}
	return out
}

// save persists the registry atomically (temp file + rename, 0600).
// Callers must hold r.mu.
func (r *Registry) save() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r.groups, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".classtab-userdata-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, r.path)
}
