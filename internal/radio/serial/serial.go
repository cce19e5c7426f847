// Package serial is the real radio.Device, talking to the USB-attached mesh
// companion over a termios-configured serial line. It defines its own
// newline-delimited JSON command/response framing — {cmd, args} out,
// {type, payload} in — matching the Result envelope radio.Device expects;
// see DESIGN.md for why that framing choice was made.
package serial

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	log "github.com/sirupsen/logrus"

	"github.com/taedryn/mesh-citadel/internal/radio"
)

// request is a single outbound command frame.
type request struct {
	Cmd  string `json:"cmd"`
	Args any    `json:"args,omitempty"`
}

// response is a single inbound reply or event frame. Replies carry ReqID
// matching the request that provoked them; events omit it.
type response struct {
	ReqID   string          `json:"req_id,omitempty"`
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Device is the termios-backed radio.Device implementation.
type Device struct {
	path string
	f    *os.File
	wr   *bufio.Writer

	mu       sync.Mutex
	seq      uint64
	pending  map[string]chan response
	events   chan radio.Event
	closed   bool
	retrySupported bool
}

// Open configures path at baudRate using raw 8N1 termios settings and starts
// the background reader that demultiplexes replies and events.
func Open(path string, baudRate int) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: opening %s: %w", path, err)
	}

	if err := configureTermios(f, baudRate); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: configuring %s: %w", path, err)
	}

	d := &Device{
		path:    path,
		f:       f,
		wr:      bufio.NewWriter(f),
		pending: make(map[string]chan response),
		events:  make(chan radio.Event, 64),
	}
	go d.readLoop()
	return d, nil
}

// configureTermios puts the line into raw mode at baudRate, 8 data bits, no
// parity, one stop bit — the standard configuration USB-serial mesh
// companions expect.
func configureTermios(f *os.File, baudRate int) error {
	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return err
	}

	cflagSpeed, ok := baudConstants[baudRate]
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", baudRate)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		return err
	}
	return setBaud(fd, t, cflagSpeed)
}

func (d *Device) readLoop() {
	scanner := bufio.NewScanner(d.f)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		var resp response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			log.Warnf("serial: malformed frame from %s: %v", d.path, err)
			continue
		}
		d.dispatch(resp)
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if !closed {
		log.Errorf("serial: read loop for %s ended unexpectedly: %v", d.path, scanner.Err())
	}
	d.closeEvents()
}

func (d *Device) dispatch(resp response) {
	if resp.ReqID != "" {
		d.mu.Lock()
		ch, ok := d.pending[resp.ReqID]
		if ok {
			delete(d.pending, resp.ReqID)
		}
		d.mu.Unlock()
		if ok {
			ch <- resp
		}
		return
	}

	evType, ok := eventTypes[resp.Event]
	if !ok {
		log.Debugf("serial: ignoring unrecognized event %q", resp.Event)
		return
	}
	var payload map[string]any
	_ = json.Unmarshal(resp.Payload, &payload)

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}
	d.events <- radio.Event{Type: evType, Payload: payload}
}

var eventTypes = map[string]radio.EventType{
	"contact_message":  radio.EventContactMsgRecv,
	"advertisement":    radio.EventAdvertisement,
	"new_contact":      radio.EventNewContact,
	"ack":              radio.EventAck,
}

func (d *Device) nextReqID() string {
	d.mu.Lock()
	d.seq++
	id := fmt.Sprintf("%d", d.seq)
	d.mu.Unlock()
	return id
}

// call sends cmd/args and waits up to timeout for the matching reply.
func (d *Device) call(ctx context.Context, cmd string, args any, timeout time.Duration) radio.Result {
	reqID := d.nextReqID()
	ch := make(chan response, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errResult(fmt.Errorf("serial: device closed"))
	}
	d.pending[reqID] = ch
	d.mu.Unlock()

	frame, err := json.Marshal(struct {
		ReqID string `json:"req_id"`
		request
	}{ReqID: reqID, request: request{Cmd: cmd, Args: args}})
	if err != nil {
		return errResult(err)
	}

	d.mu.Lock()
	_, werr := d.wr.Write(append(frame, '\n'))
	if werr == nil {
		werr = d.wr.Flush()
	}
	d.mu.Unlock()
	if werr != nil {
		return errResult(werr)
	}

	select {
	case resp := <-ch:
		return toResult(resp)
	case <-ctx.Done():
		return errResult(ctx.Err())
	case <-time.After(timeout):
		d.mu.Lock()
		delete(d.pending, reqID)
		d.mu.Unlock()
		return errResult(fmt.Errorf("serial: timeout waiting for reply to %s", cmd))
	}
}

const defaultCallTimeout = 10 * time.Second

func toResult(resp response) radio.Result {
	if resp.Type == "error" {
		var msg string
		_ = json.Unmarshal(resp.Payload, &msg)
		return radio.Result{Type: radio.ERROR, Err: fmt.Errorf("%s", msg)}
	}
	var payload any
	_ = json.Unmarshal(resp.Payload, &payload)
	return radio.Result{Type: radio.OK, Payload: payload}
}

func errResult(err error) radio.Result {
	return radio.Result{Type: radio.ERROR, Err: err}
}

func (d *Device) SetTime(ctx context.Context, unixSecs int64) radio.Result {
	return d.call(ctx, "set_time", map[string]any{"unix_secs": unixSecs}, defaultCallTimeout)
}

func (d *Device) SetRadio(ctx context.Context, freqMHz, bwKHz float64, sf, cr int) radio.Result {
	return d.call(ctx, "set_radio", map[string]any{
		"freq_mhz": freqMHz, "bw_khz": bwKHz, "sf": sf, "cr": cr,
	}, defaultCallTimeout)
}

func (d *Device) SetTxPower(ctx context.Context, dBm int) radio.Result {
	return d.call(ctx, "set_tx_power", map[string]any{"dbm": dBm}, defaultCallTimeout)
}

func (d *Device) SetName(ctx context.Context, name string) radio.Result {
	return d.call(ctx, "set_name", map[string]any{"name": name}, defaultCallTimeout)
}

func (d *Device) SetMultiAcks(ctx context.Context, enabled bool) radio.Result {
	return d.call(ctx, "set_multi_acks", map[string]any{"enabled": enabled}, defaultCallTimeout)
}

func (d *Device) SetManualAddContacts(ctx context.Context, enabled bool) radio.Result {
	return d.call(ctx, "set_manual_add_contacts", map[string]any{"enabled": enabled}, defaultCallTimeout)
}

func (d *Device) GetContacts(ctx context.Context) radio.Result {
	return d.call(ctx, "get_contacts", nil, defaultCallTimeout)
}

func (d *Device) GetContactByKeyPrefix(ctx context.Context, prefix string) radio.Result {
	return d.call(ctx, "get_contact_by_key_prefix", map[string]any{"prefix": prefix}, defaultCallTimeout)
}

func (d *Device) AddContact(ctx context.Context, rawAdvert string) radio.Result {
	return d.call(ctx, "add_contact", map[string]any{"raw_advert": rawAdvert}, defaultCallTimeout)
}

func (d *Device) RemoveContact(ctx context.Context, publicKey string) radio.Result {
	return d.call(ctx, "remove_contact", map[string]any{"public_key": publicKey}, defaultCallTimeout)
}

func (d *Device) SendAdvert(ctx context.Context, flood bool) radio.Result {
	return d.call(ctx, "send_advert", map[string]any{"flood": flood}, defaultCallTimeout)
}

func (d *Device) SendMsg(ctx context.Context, nodeID, text string) radio.Result {
	return d.call(ctx, "send_msg", map[string]any{"node_id": nodeID, "text": text}, defaultCallTimeout)
}

func (d *Device) SendMsgWithRetry(ctx context.Context, nodeID, text string, maxRetries, maxFloodAttempts, floodAfter int, sendTimeout time.Duration) radio.Result {
	return d.call(ctx, "send_msg_with_retry", map[string]any{
		"node_id": nodeID, "text": text, "max_retries": maxRetries,
		"max_flood_attempts": maxFloodAttempts, "flood_after": floodAfter,
		"send_timeout_secs": sendTimeout.Seconds(),
	}, sendTimeout+defaultCallTimeout)
}

// RetrySupported reports the cached firmware retry capability, which
// SendDeviceQuery updates each time a device query succeeds.
func (d *Device) RetrySupported() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.retrySupported
}

func (d *Device) ExportPrivateKey(ctx context.Context) radio.Result {
	return d.call(ctx, "export_private_key", nil, defaultCallTimeout)
}

func (d *Device) SendDeviceQuery(ctx context.Context) radio.Result {
	result := d.call(ctx, "device_query", nil, defaultCallTimeout)
	if !result.Failed() {
		if payload, ok := result.Payload.(map[string]any); ok {
			if supported, ok := payload["retry_supported"].(bool); ok {
				d.mu.Lock()
				d.retrySupported = supported
				d.mu.Unlock()
			}
		}
	}
	return result
}

func (d *Device) EnsureContacts(ctx context.Context) radio.Result {
	return d.call(ctx, "ensure_contacts", nil, defaultCallTimeout)
}

func (d *Device) Events() <-chan radio.Event {
	return d.events
}

func (d *Device) closeEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
}

func (d *Device) Close() error {
	d.closeEvents()
	return d.f.Close()
}

var _ radio.Device = (*Device)(nil)
