// Package supervisor owns the process lifecycle: it wires every
// collaborator package into one running engine and fans their background
// loops out under a single errgroup, so a fatal error in any of them brings
// the rest down cleanly.
package supervisor

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/taedryn/mesh-citadel/internal/adminsocket"
	"github.com/taedryn/mesh-citadel/internal/authstub"
	"github.com/taedryn/mesh-citadel/internal/command"
	"github.com/taedryn/mesh-citadel/internal/command/builtin"
	"github.com/taedryn/mesh-citadel/internal/config"
	"github.com/taedryn/mesh-citadel/internal/contacts"
	"github.com/taedryn/mesh-citadel/internal/dedupe"
	"github.com/taedryn/mesh-citadel/internal/nodeauth"
	"github.com/taedryn/mesh-citadel/internal/packets"
	"github.com/taedryn/mesh-citadel/internal/radio"
	"github.com/taedryn/mesh-citadel/internal/radio/protocol"
	"github.com/taedryn/mesh-citadel/internal/router"
	"github.com/taedryn/mesh-citadel/internal/scheduler"
	"github.com/taedryn/mesh-citadel/internal/session"
	"github.com/taedryn/mesh-citadel/internal/store"
	"github.com/taedryn/mesh-citadel/internal/store/sqlstore"
	"github.com/taedryn/mesh-citadel/internal/workflow"
	wfbuiltin "github.com/taedryn/mesh-citadel/internal/workflow/builtin"
)

// DeviceFactory constructs the radio.Device for the configured transport. It
// is a factory, not a value, so the Watchdog's restart path can build a
// fresh device handle after a serial fault.
type DeviceFactory func(ctx context.Context, cfg config.MeshCore) (radio.Device, error)

// Engine bundles every long-running collaborator plus the wiring needed to
// start and stop them together.
type Engine struct {
	cfg     *config.Manager
	newDevice DeviceFactory

	store   *sqlstore.Store
	device  radio.Device
	proto   *protocol.Handler

	sessions    *session.Manager
	coordinator *session.Coordinator
	dedupe      *dedupe.Deduplicator
	limiter     *router.NodeLimiter
	nodeAuth    *nodeauth.Authenticator
	contacts    *contacts.Manager
	registry    *command.Registry
	workflows   *workflow.Registry
	processor   *command.Processor
	router      *router.Router
	admin       *adminsocket.Server

	advert   *scheduler.AdvertScheduler
	watchdog *scheduler.Watchdog
}

// New builds every collaborator against cfg's current snapshot but starts
// nothing; call Run to bring the engine up.
func New(cfg *config.Manager, newDevice DeviceFactory) (*Engine, error) {
	snap := cfg.Get()

	db, err := sqlstore.Open(snap.Database.DBPath, authstub.Hasher{})
	if err != nil {
		return nil, fmt.Errorf("supervisor: opening store: %w", err)
	}

	device, err := newDevice(context.Background(), snap.Transport.MeshCore)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("supervisor: opening device: %w", err)
	}

	e := &Engine{cfg: cfg, newDevice: newDevice, store: db, device: device}
	e.wire(snap)
	return e, nil
}

func (e *Engine) wire(snap config.Config) {
	mc := snap.Transport.MeshCore

	e.proto = protocol.New(e.device, protocol.Config{
		MaxPacketSize:    mc.MaxPacketSize,
		InterPacketDelay: durationFromSeconds(mc.InterPacketDelay),
		AckTimeout:       durationFromSeconds(mc.AckTimeout),
		MaxRetries:       mc.MaxRetries,
		MaxFloodAttempts: mc.MaxFloodAttempts,
		FloodAfter:       mc.FloodAfter,
		SendTimeout:      durationFromSeconds(mc.SendTimeout),
	}, formatTimestamp)

	e.dedupe = dedupe.New(0)
	e.limiter = router.NewNodeLimiter(2, 5)
	e.nodeAuth = nodeauth.New(e.store, time.Duration(snap.Auth.PasswordCacheDuration)*24*time.Hour)
	e.contacts = contacts.New(e.store, e.device, mc.ContactManager.MaxDeviceContacts, mc.ContactManager.ContactLimitBuffer)
	e.sessions = session.New(time.Duration(snap.Auth.SessionTimeout)*time.Second, func(ctx context.Context, username string) bool {
		u, err := e.store.Users().Load(ctx, username)
		return err == nil && u != nil
	})

	e.registry = command.NewRegistry()
	builtin.RegisterAll(e.registry)

	e.workflows = workflow.NewRegistry()
	e.workflows.Register(wfbuiltin.Login{})
	e.workflows.Register(wfbuiltin.RegisterUser{})
	e.workflows.Register(wfbuiltin.EnterMessage{})
	e.workflows.Register(wfbuiltin.CreateRoom{})
	e.workflows.Register(wfbuiltin.ValidateUsers{})
	e.workflows.Register(wfbuiltin.EditUser{})

	deps := &command.Dependencies{
		Sessions: e.sessions,
		Users:    e.store.Users(),
		Rooms:    e.store.Rooms(),
		Messages: e.store.Messages(),
		Hasher:   authstub.Hasher{},
		DB:       e.store,
		Registry: e.registry,
		Workflows: e.workflows,
	}
	e.processor = command.NewProcessor(deps)

	e.coordinator = session.NewCoordinator(e.sessions, e.sendBatch, e.disconnect, durationFromSeconds(mc.InterPacketDelay))
	e.sessions.SetNotificationCallback(func(sessionID, message string) {
		state := e.sessions.GetSessionState(sessionID)
		if state == nil || state.NodeID == "" {
			return
		}
		e.proto.SendToNode(context.Background(), state.NodeID, state.Username, message)
		e.coordinator.CleanupListener(sessionID)
	})

	e.router = &router.Router{
		DB:        e.store,
		Users:     e.store.Users(),
		Rooms:     e.store.Rooms(),
		Sessions:  e.sessions,
		NodeAuth:  e.nodeAuth,
		Dedupe:    e.dedupe,
		Limiter:   e.limiter,
		Registry:  e.registry,
		Processor: e.processor,

		SendToNode: func(ctx context.Context, nodeID, username, text string) bool {
			ok, _ := e.proto.SendToNode(ctx, nodeID, username, text)
			return ok
		},
		Disconnect: func(sessionID string) {
			e.coordinator.CleanupListener(sessionID)
		},
		StartListener: func(sessionID string) {
			e.coordinator.StartListener(context.Background(), sessionID)
		},
		StartLogin: func(ctx context.Context, sessionID, nodeID string) (packets.Result, error) {
			state := e.sessions.GetSessionState(sessionID)
			return wfbuiltin.Login{}.Start(ctx, deps, sessionID, state)
		},
		InterPacketGap: func() { time.Sleep(durationFromSeconds(mc.InterPacketDelay)) },
	}

	if snap.Transport.CLI.Socket != "" {
		e.admin = adminsocket.New(snap.Transport.CLI.Socket, e.store.Users(), e.store)
	}

	e.advert = scheduler.NewAdvertScheduler(e.device, time.Duration(mc.AdvertInterval)*time.Hour, false)
	e.watchdog = scheduler.NewWatchdog(time.Duration(mc.WatchdogTimeout)*time.Second, e.restart)
}

// sendBatch adapts session.SendToNodeFunc's []packets.ToUser batch onto the
// protocol handler's already-general SendToNode(ctx, nodeID, username, any).
func (e *Engine) sendBatch(ctx context.Context, nodeID, username string, batch []packets.ToUser) (bool, error) {
	return e.proto.SendToNode(ctx, nodeID, username, batch)
}

func (e *Engine) disconnect(sessionID string, readingMsgID int64, hasReadingMsg bool) {
	if hasReadingMsg {
		state := e.sessions.GetSessionState(sessionID)
		if state != nil {
			if _, err := e.store.Execute(context.Background(),
				`INSERT INTO user_room_state (username, room_id, last_seen_message_id) VALUES (?, ?, ?)
				 ON CONFLICT(username, room_id) DO UPDATE SET last_seen_message_id = excluded.last_seen_message_id`,
				state.Username, state.CurrentRoom, readingMsgID); err != nil {
				log.Warnf("supervisor: recording last-read message on disconnect: %v", err)
			}
		}
	}
	e.coordinator.CleanupListener(sessionID)
}

// restart is the watchdog's RestartFunc: it closes and reopens the device,
// rewiring the protocol handler and contact manager onto the fresh handle.
func (e *Engine) restart(ctx context.Context) error {
	log.Warn("supervisor: restarting transport engine after watchdog timeout")
	_ = e.device.Close()

	snap := e.cfg.Get()
	device, err := e.newDevice(ctx, snap.Transport.MeshCore)
	if err != nil {
		return fmt.Errorf("supervisor: reopening device: %w", err)
	}
	e.device = device
	e.wire(snap)
	return e.contacts.Start(ctx)
}

// Run starts every background loop and blocks until ctx is canceled or a
// fatal error occurs in any of them.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.contacts.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: initial contact sync: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.sessions.RunSweeper(gctx, session.DefaultSweepInterval)
		return nil
	})
	g.Go(func() error {
		e.dedupe.RunPruner(gctx, dedupe.DefaultTTL)
		return nil
	})
	g.Go(func() error {
		e.limiter.RunPruner(gctx, router.DefaultPruneInterval)
		return nil
	})
	g.Go(func() error {
		e.advert.Run(gctx)
		return nil
	})
	g.Go(func() error {
		e.watchdog.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return e.cfg.Watch(gctx)
	})
	if e.admin != nil {
		g.Go(func() error {
			return e.admin.Run(gctx)
		})
	}
	g.Go(func() error {
		return e.readEvents(gctx)
	})

	err := g.Wait()
	e.coordinator.Shutdown()
	e.advert.Stop()
	e.watchdog.Stop()
	_ = e.device.Close()
	_ = e.store.Close()
	return err
}

// readEvents drains the device's event channel, feeding the watchdog and
// dispatching incoming messages/contacts/acks.
func (e *Engine) readEvents(ctx context.Context) error {
	feed := e.watchdog.Feed()
	events := e.device.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			feed()
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev radio.Event) {
	switch ev.Type {
	case radio.EventAck:
		e.proto.HandleAck(ev)

	case radio.EventContactMsgRecv:
		nodeID, _ := ev.Payload["node_id"].(string)
		text, _ := ev.Payload["text"].(string)
		if nodeID == "" {
			return
		}
		e.router.HandleMessage(ctx, nodeID, text)

	case radio.EventNewContact, radio.EventAdvertisement:
		nodeID, _ := ev.Payload["node_id"].(string)
		publicKey, _ := ev.Payload["public_key"].(string)
		name, _ := ev.Payload["name"].(string)
		rawAdvert, _ := ev.Payload["raw_advert_data"].(string)
		if nodeID == "" {
			return
		}
		if err := e.contacts.IngestAdvert(ctx, contacts.Contact{
			NodeID: nodeID, PublicKey: publicKey, Name: name, RawAdvertData: rawAdvert,
		}); err != nil {
			log.Warnf("supervisor: ingesting advert from %s: %v", nodeID, err)
		}
	}
}

func durationFromSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// formatTimestamp renders a message timestamp for radio transmission: short
// enough to leave room for content inside a single frame.
func formatTimestamp(t time.Time) string {
	return t.Local().Format("01/02 15:04")
}

var _ store.DB = (*sqlstore.Store)(nil)
