// Package contacts reconciles the device's limited contact memory against
// the persistent mc_chat_contacts table under a dual-authority model, and
// handles the advert ingest / explicit add / explicit delete paths.
package contacts

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/radio"
)

// DefaultMaxDeviceContacts and DefaultContactLimitBuffer are the
// contact_manager defaults.
const (
	DefaultMaxDeviceContacts  = 100
	DefaultContactLimitBuffer = 0
)

// Contact is a single mc_chat_contacts row.
type Contact struct {
	NodeID        string
	PublicKey     string
	Name          string
	NodeType      int
	Latitude      float64
	Longitude     float64
	FirstSeen     time.Time
	LastSeen      time.Time
	RawAdvertData string
}

// Store is the narrow slice of store.DB this package issues raw queries
// against.
type Store interface {
	Execute(ctx context.Context, query string, args ...any) ([][]any, error)
}

// Manager is the Contact Manager.
type Manager struct {
	db     Store
	device radio.Device

	maxDeviceContacts  int
	contactLimitBuffer int

	now func() time.Time
}

func New(db Store, device radio.Device, maxDeviceContacts, contactLimitBuffer int) *Manager {
	if maxDeviceContacts <= 0 {
		maxDeviceContacts = DefaultMaxDeviceContacts
	}
	return &Manager{
		db:                 db,
		device:             device,
		maxDeviceContacts:  maxDeviceContacts,
		contactLimitBuffer: contactLimitBuffer,
		now:                time.Now,
	}
}

// EffectiveCapacity is max_device_contacts - contact_limit_buffer.
func (m *Manager) EffectiveCapacity() int {
	return m.maxDeviceContacts - m.contactLimitBuffer
}

func (m *Manager) countInDB(ctx context.Context) (int, error) {
	rows, err := m.db.Execute(ctx, "SELECT COUNT(*) FROM mc_chat_contacts")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	switch v := rows[0][0].(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("contacts: unexpected COUNT(*) type %T", v)
	}
}

// Start reconciles DB and device: disables device auto-add, then picks
// DB-authoritative or node-authoritative sync based on whether DB count
// exceeds effective capacity.
func (m *Manager) Start(ctx context.Context) error {
	if res := m.device.SetManualAddContacts(ctx, true); res.Failed() {
		log.Warnf("contacts: unable to disable device auto-add: %v", res.Err)
	}

	dbCount, err := m.countInDB(ctx)
	if err != nil {
		return fmt.Errorf("contacts: counting DB contacts: %w", err)
	}
	capacity := m.EffectiveCapacity()
	log.Infof("contacts: starting. DB=%d capacity=%d", dbCount, capacity)

	if dbCount <= capacity {
		log.Info("contacts: DB is authoritative, syncing DB -> device")
		return m.syncDBAsAuthority(ctx)
	}
	log.Info("contacts: device is authoritative, syncing device -> DB")
	return m.syncDeviceAsAuthority(ctx)
}

// syncDBAsAuthority pushes DB rows to the device ordered by last_seen
// descending, stopping once device capacity is reached. DB rows are never
// deleted here, even on device failures.
func (m *Manager) syncDBAsAuthority(ctx context.Context) error {
	rows, err := m.db.Execute(ctx, "SELECT node_id, raw_advert_data FROM mc_chat_contacts ORDER BY last_seen DESC")
	if err != nil {
		return fmt.Errorf("contacts: listing DB contacts: %w", err)
	}

	capacity := m.EffectiveCapacity()
	pushed := 0
	for _, row := range rows {
		if pushed >= capacity {
			log.Infof("contacts: device capacity (%d) reached, stopping DB->device sync", capacity)
			break
		}
		nodeID, _ := row[0].(string)
		rawAdvert, _ := row[1].(string)
		if rawAdvert == "" {
			log.Warnf("contacts: %s missing raw_advert_data, skipping", nodeID)
			continue
		}
		if res := m.device.AddContact(ctx, rawAdvert); res.Failed() {
			log.Errorf("contacts: failed to add %s to device: %v", nodeID, res.Err)
			continue
		}
		pushed++
	}
	return nil
}

// syncDeviceAsAuthority enumerates device contacts, inserting minimal DB
// rows for any the DB doesn't know about, then deletes DB rows whose
// node_id isn't present on the device.
func (m *Manager) syncDeviceAsAuthority(ctx context.Context) error {
	result := m.device.GetContacts(ctx)
	if result.Failed() {
		return fmt.Errorf("contacts: get_contacts failed: %w", result.Err)
	}
	keyPrefixes, ok := result.Payload.([]string)
	if !ok {
		return fmt.Errorf("contacts: unexpected get_contacts payload type")
	}

	onDevice := make(map[string]bool) // node_id present
	now := m.now().UTC()

	for _, prefix := range keyPrefixes {
		infoResult := m.device.GetContactByKeyPrefix(ctx, prefix)
		if infoResult.Failed() {
			log.Warnf("contacts: unable to load %s from device: %v", prefix, infoResult.Err)
			continue
		}
		info, ok := infoResult.Payload.(radio.ContactInfo)
		if !ok || info.PublicKey == "" {
			log.Warnf("contacts: %s missing public_key on device", prefix)
			continue
		}
		nodeID := prefix
		if len(nodeID) > 16 {
			nodeID = nodeID[:16]
		}
		onDevice[nodeID] = true

		existing, err := m.hasDBRow(ctx, nodeID)
		if err != nil {
			return err
		}
		if !existing {
			log.Warnf("contacts: device contact %s not in DB, inserting minimal row", nodeID)
			if err := m.upsertRow(ctx, Contact{
				NodeID:    nodeID,
				PublicKey: info.PublicKey,
				Name:      info.AdvName,
				FirstSeen: now,
				LastSeen:  now,
			}); err != nil {
				return err
			}
		}
	}

	nodeIDs, err := m.listNodeIDs(ctx)
	if err != nil {
		return err
	}
	for _, nodeID := range nodeIDs {
		if !onDevice[nodeID] {
			if err := m.deleteRow(ctx, nodeID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) hasDBRow(ctx context.Context, nodeID string) (bool, error) {
	rows, err := m.db.Execute(ctx, "SELECT 1 FROM mc_chat_contacts WHERE node_id = ?", nodeID)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (m *Manager) listNodeIDs(ctx context.Context) ([]string, error) {
	rows, err := m.db.Execute(ctx, "SELECT node_id FROM mc_chat_contacts")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if s, ok := row[0].(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

func (m *Manager) upsertRow(ctx context.Context, c Contact) error {
	_, err := m.db.Execute(ctx, `INSERT INTO mc_chat_contacts
		(node_id, public_key, name, node_type, latitude, longitude, first_seen, last_seen, raw_advert_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			public_key = excluded.public_key,
			name = excluded.name,
			node_type = excluded.node_type,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			last_seen = excluded.last_seen,
			raw_advert_data = excluded.raw_advert_data`,
		c.NodeID, c.PublicKey, c.Name, c.NodeType, c.Latitude, c.Longitude,
		c.FirstSeen, c.LastSeen, c.RawAdvertData)
	return err
}

func (m *Manager) deleteRow(ctx context.Context, nodeID string) error {
	_, err := m.db.Execute(ctx, "DELETE FROM mc_chat_contacts WHERE node_id = ?", nodeID)
	return err
}

// IngestAdvert upserts the DB row for an advert received over the air,
// preserving first_seen and touching last_seen.
func (m *Manager) IngestAdvert(ctx context.Context, c Contact) error {
	existing, err := m.hasDBRow(ctx, c.NodeID)
	if err != nil {
		return err
	}
	if existing {
		rows, err := m.db.Execute(ctx, "SELECT first_seen FROM mc_chat_contacts WHERE node_id = ?", c.NodeID)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			if ts, ok := rows[0][0].(time.Time); ok {
				c.FirstSeen = ts
			}
		}
	} else if c.FirstSeen.IsZero() {
		c.FirstSeen = m.now().UTC()
	}
	c.LastSeen = m.now().UTC()
	return m.upsertRow(ctx, c)
}

// AddNode is the explicit add_node path: upsert, then evict the
// oldest-last_seen contact if DB now exceeds capacity.
func (m *Manager) AddNode(ctx context.Context, c Contact) error {
	if err := m.IngestAdvert(ctx, c); err != nil {
		return err
	}

	count, err := m.countInDB(ctx)
	if err != nil {
		return err
	}
	if count <= m.EffectiveCapacity() {
		return nil
	}

	victim, victimKey, err := m.oldestContact(ctx)
	if err != nil || victim == "" {
		return err
	}
	return m.evict(ctx, victim, victimKey)
}

func (m *Manager) oldestContact(ctx context.Context) (nodeID, publicKey string, err error) {
	rows, err := m.db.Execute(ctx, "SELECT node_id, public_key FROM mc_chat_contacts ORDER BY last_seen ASC LIMIT 1")
	if err != nil || len(rows) == 0 {
		return "", "", err
	}
	id, _ := rows[0][0].(string)
	key, _ := rows[0][1].(string)
	return id, key, nil
}

// evict removes a contact from the device first; the DB row is deleted
// only if device removal succeeded, so a hardware fault never loses the
// DB's record of a contact.
func (m *Manager) evict(ctx context.Context, nodeID, publicKey string) error {
	if res := m.device.RemoveContact(ctx, publicKey); res.Failed() {
		log.Errorf("contacts: eviction of %s failed on device: %v, keeping DB row", nodeID, res.Err)
		return nil
	}
	return m.deleteRow(ctx, nodeID)
}

// DeleteNode is the explicit delete_node path: best-effort device removal,
// unconditional DB deletion.
func (m *Manager) DeleteNode(ctx context.Context, nodeID, publicKey string) error {
	if res := m.device.RemoveContact(ctx, publicKey); res.Failed() {
		log.Warnf("contacts: best-effort device removal of %s failed: %v", nodeID, res.Err)
	}
	return m.deleteRow(ctx, nodeID)
}
