// Package fake provides an in-memory, scriptable radio.Device double for
// tests.
package fake

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/taedryn/mesh-citadel/internal/radio"
)

// Device is a scriptable fake of the mesh companion device.
type Device struct {
	mu sync.Mutex

	SendMsgFunc    func(nodeID, text string) radio.Result
	SendAdvertFunc func(flood bool) radio.Result
	retrySupported bool

	contacts map[string]radio.ContactInfo // public key -> info
	events   chan radio.Event

	AddContactErr    error
	RemoveContactErr error
	closed           bool
}

func New() *Device {
	return &Device{
		contacts: make(map[string]radio.ContactInfo),
		events:   make(chan radio.Event, 64),
	}
}

func (d *Device) WithRetrySupport() *Device {
	d.retrySupported = true
	return d
}

func (d *Device) RetrySupported() bool { return d.retrySupported }

func (d *Device) SetTime(ctx context.Context, unixSecs int64) radio.Result { return ok(nil) }
func (d *Device) SetRadio(ctx context.Context, freqMHz, bwKHz float64, sf, cr int) radio.Result {
	return ok(nil)
}
func (d *Device) SetTxPower(ctx context.Context, dBm int) radio.Result       { return ok(nil) }
func (d *Device) SetName(ctx context.Context, name string) radio.Result     { return ok(nil) }
func (d *Device) SetMultiAcks(ctx context.Context, enabled bool) radio.Result { return ok(nil) }
func (d *Device) SetManualAddContacts(ctx context.Context, enabled bool) radio.Result {
	return ok(nil)
}

func (d *Device) GetContacts(ctx context.Context) radio.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.contacts))
	for k := range d.contacts {
		keys = append(keys, k)
	}
	return ok(keys)
}

func (d *Device) GetContactByKeyPrefix(ctx context.Context, prefix string) radio.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, info := range d.contacts {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			return ok(info)
		}
	}
	return errResult("contact not found")
}

func (d *Device) AddContact(ctx context.Context, rawAdvert string) radio.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.AddContactErr != nil {
		return errResult(d.AddContactErr.Error())
	}
	d.contacts[rawAdvert] = radio.ContactInfo{PublicKey: rawAdvert, RawAdvertData: rawAdvert}
	return ok(nil)
}

func (d *Device) RemoveContact(ctx context.Context, publicKey string) radio.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.RemoveContactErr != nil {
		return errResult(d.RemoveContactErr.Error())
	}
	delete(d.contacts, publicKey)
	return ok(nil)
}

// SeedContact lets tests preload a device-resident contact directly.
func (d *Device) SeedContact(publicKey string, info radio.ContactInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[publicKey] = info
}

func (d *Device) SendAdvert(ctx context.Context, flood bool) radio.Result {
	if d.SendAdvertFunc != nil {
		return d.SendAdvertFunc(flood)
	}
	return ok(nil)
}

func (d *Device) SendMsg(ctx context.Context, nodeID, text string) radio.Result {
	if d.SendMsgFunc != nil {
		return d.SendMsgFunc(nodeID, text)
	}
	ack := randomAck()
	return ok(radio.SendMsgPayload{ExpectedAck: ack})
}

func (d *Device) SendMsgWithRetry(ctx context.Context, nodeID, text string, maxRetries, maxFloodAttempts, floodAfter int, sendTimeout time.Duration) radio.Result {
	return d.SendMsg(ctx, nodeID, text)
}

func (d *Device) ExportPrivateKey(ctx context.Context) radio.Result { return ok(nil) }
func (d *Device) SendDeviceQuery(ctx context.Context) radio.Result  { return ok(nil) }
func (d *Device) EnsureContacts(ctx context.Context) radio.Result   { return ok(nil) }

func (d *Device) Events() <-chan radio.Event { return d.events }

// Emit injects an event as if the device produced it.
func (d *Device) Emit(ev radio.Event) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}
	d.events <- ev
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	return nil
}

func randomAck() []byte {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return b
}

func ok(payload any) radio.Result  { return radio.Result{Type: radio.OK, Payload: payload} }
func errResult(msg string) radio.Result {
	return radio.Result{Type: radio.ERROR, Err: errString(msg)}
}

type errString string

func (e errString) Error() string { return string(e) }
