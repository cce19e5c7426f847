package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/packets"
)

// SendToNodeFunc pushes a batch of ToUser packets to a node. ok reports
// whether the send ultimately succeeded; err, when non-nil, is a
// *SendFailure categorizing a send that couldn't even be attempted
// cleanly (ok is always false in that case).
type SendToNodeFunc func(ctx context.Context, nodeID, username string, batch []packets.ToUser) (ok bool, err error)

// DisconnectFunc tears a session down, optionally noting the last message
// id the node was reading when the disconnect happened.
type DisconnectFunc func(sessionID string, readingMsgID int64, hasReadingMsg bool)

// Coordinator runs one background listener per live session, draining its
// msg_queue and forwarding batches to the node.
type Coordinator struct {
	mgr              *Manager
	sendToNode       SendToNodeFunc
	disconnect       DisconnectFunc
	interPacketDelay time.Duration

	mu        sync.Mutex
	listeners map[string]context.CancelFunc
}

func NewCoordinator(mgr *Manager, sendToNode SendToNodeFunc, disconnect DisconnectFunc, interPacketDelay time.Duration) *Coordinator {
	return &Coordinator{
		mgr:              mgr,
		sendToNode:       sendToNode,
		disconnect:       disconnect,
		interPacketDelay: interPacketDelay,
		listeners:        make(map[string]context.CancelFunc),
	}
}

// StartListener starts a listener for sessionID if one isn't already
// running.
func (c *Coordinator) StartListener(parent context.Context, sessionID string) {
	c.mu.Lock()
	if _, exists := c.listeners[sessionID]; exists {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	c.listeners[sessionID] = cancel
	c.mu.Unlock()

	go c.listen(ctx, sessionID)
}

// CleanupListener cancels and forgets sessionID's listener, if any.
func (c *Coordinator) CleanupListener(sessionID string) {
	c.mu.Lock()
	cancel, ok := c.listeners[sessionID]
	if ok {
		delete(c.listeners, sessionID)
	}
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels every listener and returns without waiting for the
// listener goroutines to exit; callers that need a hard join track
// goroutine completion themselves.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.listeners))
	for id, cancel := range c.listeners {
		log.Debugf("session: cancelling listener for %s on shutdown", id)
		cancels = append(cancels, cancel)
	}
	c.listeners = make(map[string]context.CancelFunc)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (c *Coordinator) listen(ctx context.Context, sessionID string) {
	log.Infof("session: starting listener for %s", sessionID)
	defer log.Infof("session: listener for %s terminated", sessionID)

	for {
		state := c.mgr.GetSessionState(sessionID)
		if state == nil {
			log.Infof("session: %s no longer exists, terminating listener", sessionID)
			return
		}

		var batch []packets.ToUser
		select {
		case <-ctx.Done():
			log.Debugf("session: listener for %s cancelled", sessionID)
			return
		case batch = <-state.MsgQueue:
		}

		if terminate := c.deliver(ctx, sessionID, state, batch); terminate {
			log.Debugf("session: listener for %s terminating", sessionID)
			return
		}
	}
}

// deliver applies the inter-packet delay and sends batch, then acts on the
// outcome: a categorized *SendFailure is handled per its kind (pause and
// continue for a network error, skip the message for a data error,
// terminate the listener for memory exhaustion, best-effort notice and
// continue for anything else); a clean send failure (ok == false, err ==
// nil) disconnects the session. Returns true only when the listener should
// terminate — ctx was cancelled, or the failure was unrecoverable.
func (c *Coordinator) deliver(ctx context.Context, sessionID string, state *State, batch []packets.ToUser) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(c.interPacketDelay):
	}

	ok, err := func() (ok bool, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &SendFailure{Kind: FailureUnknown, Err: fmt.Errorf("panic: %v", r)}
			}
		}()
		return c.sendToNode(ctx, state.NodeID, state.Username, batch)
	}()

	if err != nil {
		var sf *SendFailure
		if errors.As(err, &sf) {
			switch sf.Kind {
			case FailureNetwork:
				log.Warnf("session: network error sending to %s: %v, pausing 2s", sessionID, sf.Err)
				return !sleepOrDone(ctx, 2*time.Second)
			case FailureData:
				log.Errorf("session: data error sending to %s: %v, skipping message", sessionID, sf.Err)
				return false
			case FailureMemory:
				log.Errorf("session: CRITICAL resource exhaustion sending to %s: %v, terminating listener", sessionID, sf.Err)
				return true
			}
		}
		log.Errorf("session: unexpected error sending to %s: %v", sessionID, err)
		c.notifyBestEffort(ctx, state)
		return !sleepOrDone(ctx, time.Second)
	}

	if !ok {
		readingMsgID, hasReadingMsg := lastMessageID(batch)
		log.Debugf("session: send failed for %s, disconnecting", sessionID)
		c.disconnect(sessionID, readingMsgID, hasReadingMsg)
	}
	return false
}

// notifyBestEffort tries once to tell the node something went wrong; a
// failure here is logged and otherwise ignored.
func (c *Coordinator) notifyBestEffort(ctx context.Context, state *State) {
	notice := []packets.ToUser{{Text: "System error occurred. Please try again."}}
	if _, err := c.sendToNode(ctx, state.NodeID, state.Username, notice); err != nil {
		log.Errorf("session: failed to notify %s of error: %v", state.NodeID, err)
	}
}

// sleepOrDone waits for d or ctx cancellation, whichever comes first, and
// reports whether ctx was cancelled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return true
	case <-time.After(d):
		return false
	}
}

func lastMessageID(batch []packets.ToUser) (int64, bool) {
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].Message != nil {
			return batch[i].Message.ID, true
		}
	}
	return 0, false
}
