package link

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"matter-bridge/internal/bridge"
)

var (
	ErrNotConnected = errors.New("stack link not connected")
	ErrQueueFull    = errors.New("stack link queue full")
	ErrRejected     = errors.New("rejected by stack")
	ErrClosed       = errors.New("stack link closed")
)

// Handler answers requests the stack sends to the bridge.
type Handler interface {
	Read(endpoint, clusterID, attrID uint16, maxLen int) ([]byte, bool)
	Write(endpoint, clusterID, attrID uint16, data []byte) bool
	Command(endpoint, clusterID uint16, commandID uint8) bool
}

// Opener opens the byte stream to the stack co-processor.
type Opener func() (io.ReadWriteCloser, error)

// Config tunes the link.
type Config struct {
	RequestTimeout time.Duration
	QueueSize      int
	MaxBackoff     time.Duration
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Link is a bridge.Stack backed by a framed byte stream to the co-processor
// running the Matter stack. Registration waits for an acknowledgement;
// attribute updates and reports are queued and never block the caller.
type Link struct {
	open   Opener
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      io.ReadWriteCloser
	connects  uint64
	handler   Handler
	onConnect func()

	writeMu sync.Mutex
	queue   chan frame

	seq     atomic.Uint32
	pendMu  sync.Mutex
	pending map[pendingKey]chan frame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ bridge.Stack = (*Link)(nil)

// pendingKey matches a reply to its request. The sequence counter is shared
// with queued frames and wraps, so the request type is part of the key.
type pendingKey struct {
	typ uint8
	seq uint8
}

// New creates a link. Nothing is opened until Start.
func New(open Opener, cfg Config, logger *slog.Logger) *Link {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		open:    open,
		cfg:     cfg,
		logger:  logger.With("component", "link"),
		queue:   make(chan frame, cfg.QueueSize),
		pending: make(map[pendingKey]chan frame),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connects returns how many times a transport has been opened.
func (l *Link) Connects() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects
}

// Attach sets the target of stack-originated requests and a hook run in its
// own goroutine after every later (re)connect. Until then requests are
// answered as not handled. The co-processor forgets registrations when it
// restarts, so the hook is where devices are announced again. since is a
// Connects value taken earlier; if the link reconnected after it, onConnect
// runs once right away.
func (l *Link) Attach(h Handler, onConnect func(), since uint64) {
	l.mu.Lock()
	l.handler = h
	l.onConnect = onConnect
	missed := l.connects != since
	l.mu.Unlock()
	if missed && onConnect != nil {
		onConnect()
	}
}

// Connected reports whether a transport is currently open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// WaitConnected blocks until a transport is open or ctx is done.
func (l *Link) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !l.Connected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for stack link: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Start launches the connect/read loop and the write queue.
func (l *Link) Start() {
	l.wg.Add(2)
	go l.run()
	go l.writeLoop()
}

// Close stops the link and waits for its goroutines.
func (l *Link) Close() {
	l.cancel()
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Link) run() {
	defer l.wg.Done()
	for {
		conn, err := l.connect()
		if err != nil {
			return
		}
		l.mu.Lock()
		l.conn = conn
		l.connects++
		cb := l.onConnect
		l.mu.Unlock()
		l.logger.Info("stack link connected")
		if cb != nil {
			go cb()
		}

		err = l.readLoop(conn)
		l.dropConn(conn)
		if l.ctx.Err() != nil {
			return
		}
		l.logger.Warn("stack link lost", "err", err)
	}
}

// connect retries the opener with exponential backoff until it succeeds or
// the link is closed.
func (l *Link) connect() (io.ReadWriteCloser, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = l.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	var conn io.ReadWriteCloser
	op := func() error {
		c, err := l.open()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		l.logger.Warn("stack link open failed", "err", err, "retry_in", next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, l.ctx), notify); err != nil {
		return nil, err
	}
	if l.ctx.Err() != nil {
		conn.Close()
		return nil, ErrClosed
	}
	return conn, nil
}

// dropConn closes conn and fails every request waiting on it.
func (l *Link) dropConn(conn io.ReadWriteCloser) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.mu.Unlock()
	conn.Close()

	l.pendMu.Lock()
	for key, ch := range l.pending {
		close(ch)
		delete(l.pending, key)
	}
	l.pendMu.Unlock()
}

func (l *Link) readLoop(conn io.Reader) error {
	r := bufio.NewReader(conn)
	for {
		f, err := readFrame(r)
		if err != nil {
			if errors.Is(err, ErrFrameCRC) || errors.Is(err, ErrFrameTooLarge) {
				l.logger.Warn("stack link bad frame", "err", err)
				continue
			}
			return err
		}
		l.dispatch(f)
	}
}

func (l *Link) dispatch(f frame) {
	if f.Type&msgReplyFlag != 0 {
		key := pendingKey{typ: f.Type &^ msgReplyFlag, seq: f.Seq}
		l.pendMu.Lock()
		ch, ok := l.pending[key]
		delete(l.pending, key)
		l.pendMu.Unlock()
		if !ok {
			l.logger.Warn("stack link orphaned reply", "type", msgName(f.Type), "seq", f.Seq)
			return
		}
		ch <- f
		return
	}

	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()

	reply := frame{Type: f.Type | msgReplyFlag, Seq: f.Seq}
	switch f.Type {
	case msgPing:
		reply.Payload = []byte{statusOK}
	case msgRead, msgWrite, msgCommand:
		if h == nil {
			reply.Payload = []byte{statusNotHandled}
			break
		}
		reply.Payload = l.handle(h, f)
	default:
		l.logger.Warn("stack link unknown message", "type", fmt.Sprintf("0x%02X", f.Type), "seq", f.Seq)
		reply.Payload = []byte{statusFailure}
	}
	if err := l.writeFrame(reply); err != nil {
		l.logger.Debug("stack link reply failed", "type", msgName(f.Type), "err", err)
	}
}

// handle runs a stack request against the handler and returns the reply
// payload: a status byte, followed by the value for handled reads.
func (l *Link) handle(h Handler, f frame) []byte {
	switch f.Type {
	case msgRead:
		p, maxLen, err := parseReadRequest(f.Payload)
		if err != nil {
			l.logger.Warn("stack link bad read", "err", err)
			return []byte{statusFailure}
		}
		data, ok := h.Read(p.Endpoint, p.Cluster, p.Attribute, maxLen)
		if !ok {
			return []byte{statusNotHandled}
		}
		return append([]byte{statusOK}, data...)

	case msgWrite:
		p, data, err := parseAttrPath(f.Payload)
		if err != nil {
			l.logger.Warn("stack link bad write", "err", err)
			return []byte{statusFailure}
		}
		if !h.Write(p.Endpoint, p.Cluster, p.Attribute, data) {
			return []byte{statusNotHandled}
		}
		return []byte{statusOK}

	case msgCommand:
		ep, cluster, cmd, err := parseCommandRequest(f.Payload)
		if err != nil {
			l.logger.Warn("stack link bad command", "err", err)
			return []byte{statusFailure}
		}
		if !h.Command(ep, cluster, cmd) {
			return []byte{statusNotHandled}
		}
		return []byte{statusOK}
	}
	return []byte{statusFailure}
}

func (l *Link) writeFrame(f frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", msgName(f.Type), err)
	}
	return nil
}

func (l *Link) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.ctx.Done():
			return
		case f := <-l.queue:
			if err := l.writeFrame(f); err != nil {
				l.logger.Debug("stack link queued write failed", "type", msgName(f.Type), "err", err)
			}
		}
	}
}

func (l *Link) nextSeq() uint8 {
	return uint8(l.seq.Add(1))
}

// enqueue hands a fire-and-forget frame to the write loop.
func (l *Link) enqueue(t uint8, payload []byte) error {
	if !l.Connected() {
		return ErrNotConnected
	}
	select {
	case l.queue <- frame{Type: t, Seq: l.nextSeq(), Payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

// request sends a frame and waits for its reply.
func (l *Link) request(t uint8, payload []byte) error {
	ch := make(chan frame, 1)
	l.pendMu.Lock()
	key := pendingKey{typ: t, seq: l.nextSeq()}
	for l.pending[key] != nil {
		key.seq = l.nextSeq()
	}
	l.pending[key] = ch
	l.pendMu.Unlock()
	seq := key.seq
	defer func() {
		l.pendMu.Lock()
		delete(l.pending, key)
		l.pendMu.Unlock()
	}()

	if err := l.writeFrame(frame{Type: t, Seq: seq, Payload: payload}); err != nil {
		return err
	}

	timer := time.NewTimer(l.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if len(resp.Payload) == 0 || resp.Payload[0] != statusOK {
			return fmt.Errorf("%s seq %d: %w", msgName(t), seq, ErrRejected)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s seq %d: timeout after %s", msgName(t), seq, l.cfg.RequestTimeout)
	case <-l.ctx.Done():
		return ErrClosed
	}
}

// RegisterDevice announces a device and waits for the stack to accept it.
func (l *Link) RegisterDevice(reg bridge.Registration) error {
	payload, err := encodeRegistration(reg)
	if err != nil {
		return err
	}
	return l.request(msgRegister, payload)
}

// DeregisterDevice removes an endpoint from the stack.
func (l *Link) DeregisterDevice(endpoint uint16) error {
	return l.request(msgDeregister, binary.LittleEndian.AppendUint16(nil, endpoint))
}

// UpdateAttribute queues a locally originated value for the stack.
func (l *Link) UpdateAttribute(endpoint, clusterID, attrID uint16, data []byte) error {
	payload := attrPath{endpoint, clusterID, attrID}.append(make([]byte, 0, attrPathSize+len(data)))
	return l.enqueue(msgUpdate, append(payload, data...))
}

// ReportAttributeChanged queues a dirty mark for the stack.
func (l *Link) ReportAttributeChanged(endpoint, clusterID, attrID uint16) {
	if err := l.enqueue(msgReport, attrPath{endpoint, clusterID, attrID}.append(nil)); err != nil {
		l.logger.Warn("report attribute changed", "endpoint", endpoint,
			"cluster", fmt.Sprintf("0x%04X", clusterID), "attr", fmt.Sprintf("0x%04X", attrID), "err", err)
	}
}
