// Package config loads and hot-reloads the YAML configuration: defaults
// merged with the file on disk, then env-var overrides
// (CITADEL_SECTION__KEY), with a fixed set of reboot-only keys that Reload
// refuses to change.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CITADEL_"

type BBS struct {
	SystemName         string `yaml:"system_name"`
	MaxMessagesPerRoom int    `yaml:"max_messages_per_room"`
	MaxRooms           int    `yaml:"max_rooms"`
	MaxUsers           int    `yaml:"max_users"`
	MailMessageLimit   int    `yaml:"mail_message_limit"`
	StartingRoom       string `yaml:"starting_room"`
	ExportFormat       string `yaml:"export_format"`
}

type Auth struct {
	SessionTimeout         int      `yaml:"session_timeout"`
	MaxPasswordLength      int      `yaml:"max_password_length"`
	MaxUsernameLength      int      `yaml:"max_username_length"`
	PasswordCacheDuration  int      `yaml:"password_cache_duration"`
	RecoveryQuestions      []string `yaml:"recovery_questions"`
}

type ContactManager struct {
	MaxDeviceContacts  int  `yaml:"max_device_contacts"`
	ContactLimitBuffer int  `yaml:"contact_limit_buffer"`
	UpdateContacts     bool `yaml:"update_contacts"`
}

type MeshCore struct {
	SerialPort       string         `yaml:"serial_port"`
	BaudRate         int            `yaml:"baud_rate"`
	Frequency        float64        `yaml:"frequency"`
	Bandwidth        float64        `yaml:"bandwidth"`
	SpreadingFactor  int            `yaml:"spreading_factor"`
	CodingRate       int            `yaml:"coding_rate"`
	TxPower          int            `yaml:"tx_power"`
	Name             string         `yaml:"name"`
	MultiAcks        bool           `yaml:"multi_acks"`
	AdvertInterval   int            `yaml:"advert_interval"`
	AckTimeout       float64        `yaml:"ack_timeout"`
	InterPacketDelay float64        `yaml:"inter_packet_delay"`
	MaxPacketSize    int            `yaml:"max_packet_size"`
	MaxRetries       int            `yaml:"max_retries"`
	MaxFloodAttempts int            `yaml:"max_flood_attempts"`
	FloodAfter       int            `yaml:"flood_after"`
	SendTimeout      float64        `yaml:"send_timeout"`
	WatchdogTimeout  int            `yaml:"watchdog_timeout"`
	ContactManager   ContactManager `yaml:"contact_manager"`
}

type Transport struct {
	CLI struct {
		Socket string `yaml:"socket"`
	} `yaml:"cli"`
	MeshCore MeshCore `yaml:"meshcore"`
}

type Database struct {
	DBPath string `yaml:"db_path"`
}

type Logging struct {
	LogLevel     string `yaml:"log_level"`
	LogFilePath  string `yaml:"log_file_path"`
}

// Config is the full configuration tree.
type Config struct {
	BBS       BBS       `yaml:"bbs"`
	Auth      Auth      `yaml:"auth"`
	Transport Transport `yaml:"transport"`
	Database  Database  `yaml:"database"`
	Logging   Logging   `yaml:"logging"`
}

// rebootOnlyKeys cannot change across a Reload.
var rebootOnlyKeys = []string{
	"bbs.max_messages_per_room",
	"bbs.max_rooms",
	"bbs.max_users",
}

func defaults() *Config {
	return &Config{
		BBS: BBS{
			SystemName:         "Mesh-Citadel",
			MaxMessagesPerRoom: 300,
			MaxRooms:           50,
			MaxUsers:           300,
			MailMessageLimit:   50,
			StartingRoom:       "Lobby",
			ExportFormat:       "json",
		},
		Auth: Auth{
			SessionTimeout:        3600,
			MaxPasswordLength:     64,
			MaxUsernameLength:     32,
			PasswordCacheDuration: 14,
			RecoveryQuestions: []string{
				"What is your favorite color?",
				"What was your first pet's name?",
				"Who was your favorite teacher?",
			},
		},
		Transport: Transport{
			MeshCore: MeshCore{
				SerialPort:       "/dev/ttyUSB0",
				BaudRate:         115200,
				Frequency:        910.525,
				AdvertInterval:   6,
				AckTimeout:       8,
				InterPacketDelay: 0.5,
				WatchdogTimeout:  60,
			},
		},
		Database: Database{DBPath: "citadel.db"},
		Logging:  Logging{LogLevel: "INFO", LogFilePath: "citadel.log"},
	}
}

// Manager loads a Config from disk, applies env overrides, and supports a
// Reload that rejects changes to reboot-only keys.
type Manager struct {
	mu       sync.RWMutex
	path     string
	cfg      *Config
	snapshot map[string]string // reboot-only key -> serialized value at load time
}

// Load reads path, merges it over defaults, applies CITADEL_ env
// overrides, and validates the result.
func Load(path string) (*Manager, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	m := &Manager{path: path, cfg: cfg}
	m.snapshot = snapshotRebootKeys(cfg)
	return m, nil
}

func loadFile(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("config: %s not found, using defaults", path)
		} else {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Get returns a snapshot-safe copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.cfg
}

// Reload re-reads the config file and env overrides, refusing the swap if
// any reboot-only key changed.
func (m *Manager) Reload() error {
	cfg, err := loadFile(m.path)
	if err != nil {
		return err
	}
	if err := validate(cfg); err != nil {
		return err
	}

	newSnapshot := snapshotRebootKeys(cfg)
	m.mu.RLock()
	oldSnapshot := m.snapshot
	m.mu.RUnlock()
	for _, key := range rebootOnlyKeys {
		if oldSnapshot[key] != newSnapshot[key] {
			return fmt.Errorf("config: cannot change reboot-only key %q without a restart", key)
		}
	}

	m.mu.Lock()
	m.cfg = cfg
	m.snapshot = newSnapshot
	m.mu.Unlock()
	log.Info("config: reloaded")
	return nil
}

func snapshotRebootKeys(cfg *Config) map[string]string {
	return map[string]string{
		"bbs.max_messages_per_room": strconv.Itoa(cfg.BBS.MaxMessagesPerRoom),
		"bbs.max_rooms":             strconv.Itoa(cfg.BBS.MaxRooms),
		"bbs.max_users":             strconv.Itoa(cfg.BBS.MaxUsers),
	}
}

func validate(cfg *Config) error {
	if cfg.BBS.SystemName == "" {
		return fmt.Errorf("config: bbs.system_name is required")
	}
	if cfg.Database.DBPath == "" {
		return fmt.Errorf("config: database.db_path is required")
	}
	if cfg.Transport.MeshCore.SerialPort == "" {
		return fmt.Errorf("config: transport.meshcore.serial_port is required")
	}
	return nil
}

// applyEnvOverrides maps CITADEL_SECTION__KEY env vars onto the matching
// nested field: double underscore separates nesting, booleans and ints
// coerced.
func applyEnvOverrides(cfg *Config) {
	for _, kv := range os.Environ() {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "__")
		setByPath(cfg, path, val)
	}
}

func setByPath(cfg *Config, path []string, raw string) {
	if len(path) < 2 {
		return
	}
	section, key := path[0], path[1]
	switch section {
	case "bbs":
		setBBSField(&cfg.BBS, key, raw)
	case "auth":
		setAuthField(&cfg.Auth, key, raw)
	case "database":
		if key == "db_path" {
			cfg.Database.DBPath = raw
		}
	case "logging":
		setLoggingField(&cfg.Logging, key, raw)
	case "transport":
		setTransportField(&cfg.Transport, path[1:], raw)
	}
}

func setBBSField(b *BBS, key, raw string) {
	switch key {
	case "system_name":
		b.SystemName = raw
	case "max_messages_per_room":
		b.MaxMessagesPerRoom = coerceInt(raw, b.MaxMessagesPerRoom)
	case "max_rooms":
		b.MaxRooms = coerceInt(raw, b.MaxRooms)
	case "max_users":
		b.MaxUsers = coerceInt(raw, b.MaxUsers)
	case "mail_message_limit":
		b.MailMessageLimit = coerceInt(raw, b.MailMessageLimit)
	case "starting_room":
		b.StartingRoom = raw
	case "export_format":
		b.ExportFormat = raw
	}
}

func setAuthField(a *Auth, key, raw string) {
	switch key {
	case "session_timeout":
		a.SessionTimeout = coerceInt(raw, a.SessionTimeout)
	case "max_password_length":
		a.MaxPasswordLength = coerceInt(raw, a.MaxPasswordLength)
	case "max_username_length":
		a.MaxUsernameLength = coerceInt(raw, a.MaxUsernameLength)
	case "password_cache_duration":
		a.PasswordCacheDuration = coerceInt(raw, a.PasswordCacheDuration)
	}
}

func setLoggingField(l *Logging, key, raw string) {
	switch key {
	case "log_level":
		l.LogLevel = raw
	case "log_file_path":
		l.LogFilePath = raw
	}
}

func setTransportField(t *Transport, path []string, raw string) {
	if len(path) == 2 && path[0] == "cli" && path[1] == "socket" {
		t.CLI.Socket = raw
		return
	}
	if len(path) < 2 || path[0] != "meshcore" {
		return
	}
	mc := &t.MeshCore
	key := path[1]
	if key == "contact_manager" && len(path) == 3 {
		key = path[2]
	}
	switch key {
	case "serial_port":
		mc.SerialPort = raw
	case "baud_rate":
		mc.BaudRate = coerceInt(raw, mc.BaudRate)
	case "frequency":
		mc.Frequency = coerceFloat(raw, mc.Frequency)
	case "bandwidth":
		mc.Bandwidth = coerceFloat(raw, mc.Bandwidth)
	case "spreading_factor":
		mc.SpreadingFactor = coerceInt(raw, mc.SpreadingFactor)
	case "coding_rate":
		mc.CodingRate = coerceInt(raw, mc.CodingRate)
	case "tx_power":
		mc.TxPower = coerceInt(raw, mc.TxPower)
	case "name":
		mc.Name = raw
	case "multi_acks":
		mc.MultiAcks = coerceBool(raw, mc.MultiAcks)
	case "advert_interval":
		mc.AdvertInterval = coerceInt(raw, mc.AdvertInterval)
	case "ack_timeout":
		mc.AckTimeout = coerceFloat(raw, mc.AckTimeout)
	case "inter_packet_delay":
		mc.InterPacketDelay = coerceFloat(raw, mc.InterPacketDelay)
	case "max_packet_size":
		mc.MaxPacketSize = coerceInt(raw, mc.MaxPacketSize)
	case "max_retries":
		mc.MaxRetries = coerceInt(raw, mc.MaxRetries)
	case "max_flood_attempts":
		mc.MaxFloodAttempts = coerceInt(raw, mc.MaxFloodAttempts)
	case "flood_after":
		mc.FloodAfter = coerceInt(raw, mc.FloodAfter)
	case "send_timeout":
		mc.SendTimeout = coerceFloat(raw, mc.SendTimeout)
	case "watchdog_timeout":
		mc.WatchdogTimeout = coerceInt(raw, mc.WatchdogTimeout)
	case "max_device_contacts":
		mc.ContactManager.MaxDeviceContacts = coerceInt(raw, mc.ContactManager.MaxDeviceContacts)
	case "contact_limit_buffer":
		mc.ContactManager.ContactLimitBuffer = coerceInt(raw, mc.ContactManager.ContactLimitBuffer)
	case "update_contacts":
		mc.ContactManager.UpdateContacts = coerceBool(raw, mc.ContactManager.UpdateContacts)
	}
}

func coerceInt(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func coerceFloat(raw string, fallback float64) float64 {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func coerceBool(raw string, fallback bool) bool {
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}
