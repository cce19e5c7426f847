// Package nodeauth caches which username last authenticated from a
// node_id, so a returning node can skip re-entering a password until the
// cache expires.
package nodeauth

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/store"
)

// DefaultCacheDuration is the default password cache lifetime: 14 days.
const DefaultCacheDuration = 14 * 24 * time.Hour

const timeLayout = "2006-01-02 15:04:05"

// Authenticator reads/writes the mc_passwd_cache table via the external DB
// collaborator.
type Authenticator struct {
	db            store.DB
	cacheDuration time.Duration
	now           func() time.Time
}

func New(db store.DB, cacheDuration time.Duration) *Authenticator {
	if cacheDuration <= 0 {
		cacheDuration = DefaultCacheDuration
	}
	return &Authenticator{db: db, cacheDuration: cacheDuration, now: time.Now}
}

// HasCache reports whether node_id has a live password cache entry and, if
// so, returns the cached username. A missing row, an expired row, or a
// query error all count as "no cache".
func (a *Authenticator) HasCache(ctx context.Context, nodeID string) (username string, ok bool) {
	rows, err := a.db.Execute(ctx,
		"SELECT last_pw_use, username FROM mc_passwd_cache WHERE node_id = ?", nodeID)
	if err != nil {
		log.Errorf("nodeauth: checking password cache for %s: %v", nodeID, err)
		return "", false
	}
	if len(rows) == 0 || len(rows[0]) < 2 {
		return "", false
	}

	lastUseStr, _ := rows[0][0].(string)
	ts, err := time.Parse(timeLayout, lastUseStr)
	if err != nil {
		log.Errorf("nodeauth: parsing cache timestamp for %s: %v", nodeID, err)
		return "", false
	}
	if a.now().Sub(ts) > a.cacheDuration {
		log.Debugf("nodeauth: password cache for %s is expired", nodeID)
		return "", false
	}

	username, _ = rows[0][1].(string)
	if username == "" {
		return "", false
	}
	return username, true
}

// Touch refreshes node_id's cache timestamp without changing its username
// binding.
func (a *Authenticator) Touch(ctx context.Context, nodeID string) error {
	now := a.now().UTC().Format(timeLayout)
	_, err := a.db.Execute(ctx, `INSERT INTO mc_passwd_cache
		(node_id, last_pw_use) VALUES (?, ?)
		ON CONFLICT(node_id) DO UPDATE SET last_pw_use = excluded.last_pw_use`,
		nodeID, now)
	if err != nil {
		return fmt.Errorf("nodeauth: touching cache for %s: %w", nodeID, err)
	}
	return nil
}

// SetUsername binds node_id's cache entry to username. Must follow Touch to
// produce a complete, valid cache entry.
func (a *Authenticator) SetUsername(ctx context.Context, nodeID, username string) error {
	_, err := a.db.Execute(ctx,
		"UPDATE mc_passwd_cache SET username = ? WHERE node_id = ?", username, nodeID)
	if err != nil {
		return fmt.Errorf("nodeauth: setting username for %s: %w", nodeID, err)
	}
	return nil
}

// Clear removes node_id's cache entry entirely. Used on explicit logout,
// not on idle session expiry.
func (a *Authenticator) Clear(ctx context.Context, nodeID string) error {
	_, err := a.db.Execute(ctx, "DELETE FROM mc_passwd_cache WHERE node_id = ?", nodeID)
	if err != nil {
		return fmt.Errorf("nodeauth: clearing cache for %s: %w", nodeID, err)
	}
	log.Infof("nodeauth: removed %s from password cache", nodeID)
	return nil
}
