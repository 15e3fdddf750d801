package rpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/hookio/pkg/log"
	"github.com/cuemby/hookio/pkg/metrics"
	"github.com/cuemby/hookio/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/structpb"
)

// ReplyFunc answers an incoming call. Only the first invocation is sent.
type ReplyFunc func(result any, err error)

// Handler serves one exposed method. It may reply synchronously or keep
// reply and answer later; calls on one link are dispatched in order. reply
// is nil when the caller sent a notification.
type Handler func(ctx context.Context, args Args, reply ReplyFunc)

// msgStream is the part of grpc.ServerStream and grpc.ClientStream a link
// needs.
type msgStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
	Context() context.Context
}

// Link is one bidirectional connection between two hooks. Either side can
// call methods the other side exposed with Handle.
type Link struct {
	id          string
	remote      types.Remote
	stream      msgStream
	callTimeout time.Duration
	logger      zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan *frame
	nextID    atomic.Uint64

	inbound chan *frame

	ctx       context.Context
	cancelCtx context.CancelFunc
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	endOnce   sync.Once
	err       error

	onEndMu sync.Mutex
	onEnd   []func(error)

	// release frees transport resources once the link ends
	release func()
}

func newLink(id string, remote types.Remote, stream msgStream, callTimeout time.Duration) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		id:          id,
		remote:      remote,
		stream:      stream,
		callTimeout: callTimeout,
		logger:      log.WithComponent("rpc").With().Str("link", id).Logger(),
		handlers:    make(map[string]Handler),
		pending:     make(map[uint64]chan *frame),
		inbound:     make(chan *frame, 256),
		ctx:         ctx,
		cancelCtx:   cancel,
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ID returns the session identifier of the link
func (l *Link) ID() string {
	return l.id
}

// Remote returns the address of the other side
func (l *Link) Remote() types.Remote {
	return l.remote
}

// Done is closed once the link has ended
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns the reason the link ended, nil for an orderly close
func (l *Link) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Handle exposes a method to the other side
func (l *Link) Handle(method string, h Handler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers[method] = h
}

// OnEnd registers fn to run once when the link ends
func (l *Link) OnEnd(fn func(err error)) {
	l.onEndMu.Lock()
	select {
	case <-l.done:
		l.onEndMu.Unlock()
		fn(l.err)
		return
	default:
	}
	l.onEnd = append(l.onEnd, fn)
	l.onEndMu.Unlock()
}

// Serve pumps the link until the stream ends or Close is called
func (l *Link) Serve() error {
	go l.dispatchLoop()

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- l.recvLoop()
	}()

	var err error
	select {
	case err = <-recvErr:
	case <-l.closing:
	}
	l.end(err)
	return err
}

// Close ends the link; pending calls fail with ErrClosed
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closing)
	})
	return nil
}

func (l *Link) end(err error) {
	l.endOnce.Do(func() {
		l.onEndMu.Lock()
		l.err = err
		close(l.done)
		callbacks := l.onEnd
		l.onEnd = nil
		l.onEndMu.Unlock()

		l.cancelCtx()
		if l.release != nil {
			l.release()
		}
		if err != nil {
			l.logger.Debug().Err(err).Msg("Link ended")
		} else {
			l.logger.Debug().Msg("Link closed")
		}
		for _, fn := range callbacks {
			fn(err)
		}
	})
}

func (l *Link) recvLoop() error {
	defer close(l.inbound)
	for {
		msg := new(structpb.Struct)
		if err := l.stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		f, err := decodeFrame(msg)
		if err != nil {
			l.logger.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}

		switch f.Kind {
		case kindReply:
			l.pendingMu.Lock()
			ch, ok := l.pending[f.ID]
			delete(l.pending, f.ID)
			l.pendingMu.Unlock()
			if ok {
				ch <- f
			}
		case kindCall:
			select {
			case l.inbound <- f:
			case <-l.done:
			}
		}
	}
}

func (l *Link) dispatchLoop() {
	for f := range l.inbound {
		l.dispatch(f)
	}
}

func (l *Link) dispatch(f *frame) {
	l.handlersMu.RLock()
	h, ok := l.handlers[f.Method]
	l.handlersMu.RUnlock()

	reply := l.replier(f)
	if !ok {
		if reply != nil {
			reply(nil, ErrUnknownMethod)
		}
		return
	}
	h(l.ctx, Args(f.Args), reply)
}

func (l *Link) replier(f *frame) ReplyFunc {
	if f.ID == 0 {
		return nil
	}
	var once sync.Once
	return func(result any, err error) {
		once.Do(func() {
			out := &frame{ID: f.ID, Kind: kindReply, Result: result}
			if err != nil {
				out.Error = err.Error()
			}
			if sendErr := l.send(out); sendErr != nil {
				l.logger.Debug().Err(sendErr).Str("method", f.Method).Msg("Failed to send reply")
			}
		})
	}
}

func (l *Link) send(f *frame) error {
	msg, err := f.encode()
	if err != nil {
		return err
	}

	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if err := l.stream.SendMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Call invokes method on the other side and waits for its reply
func (l *Link) Call(ctx context.Context, method string, args ...any) (any, error) {
	id, ch, err := l.start(method, args)
	if err != nil {
		metrics.RPCCallsTotal.WithLabelValues(method, "error").Inc()
		return nil, err
	}
	return l.wait(ctx, method, id, ch)
}

// Go sends a call in order with other traffic on the link and delivers the
// reply to done from another goroutine. An error is returned only when the
// call could not be sent, in which case done is never invoked.
func (l *Link) Go(ctx context.Context, method string, done func(result any, err error), args ...any) error {
	id, ch, err := l.start(method, args)
	if err != nil {
		metrics.RPCCallsTotal.WithLabelValues(method, "error").Inc()
		return err
	}
	go func() {
		done(l.wait(ctx, method, id, ch))
	}()
	return nil
}

func (l *Link) start(method string, args []any) (uint64, chan *frame, error) {
	id := l.nextID.Add(1)
	ch := make(chan *frame, 1)

	l.pendingMu.Lock()
	select {
	case <-l.done:
		l.pendingMu.Unlock()
		return 0, nil, ErrClosed
	default:
	}
	l.pending[id] = ch
	l.pendingMu.Unlock()

	if err := l.send(&frame{ID: id, Kind: kindCall, Method: method, Args: args}); err != nil {
		l.forget(id)
		return 0, nil, err
	}
	return id, ch, nil
}

func (l *Link) wait(ctx context.Context, method string, id uint64, ch chan *frame) (any, error) {
	if l.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.callTimeout)
		defer cancel()
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCCallDuration, method)

	var (
		result any
		err    error
	)
	select {
	case f := <-ch:
		result = f.Result
		if f.Error != "" {
			err = &RemoteError{Method: method, Message: f.Error}
		}
	case <-ctx.Done():
		l.forget(id)
		err = ctx.Err()
	case <-l.done:
		err = ErrClosed
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCCallsTotal.WithLabelValues(method, status).Inc()
	return result, err
}

func (l *Link) forget(id uint64) {
	l.pendingMu.Lock()
	delete(l.pending, id)
	l.pendingMu.Unlock()
}

// CallInto invokes method and decodes the result into out
func (l *Link) CallInto(ctx context.Context, method string, out any, args ...any) error {
	result, err := l.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return Decode(result, out)
}

// Notify invokes method without waiting for a reply
func (l *Link) Notify(method string, args ...any) error {
	err := l.send(&frame{Kind: kindCall, Method: method, Args: args})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCCallsTotal.WithLabelValues(method, status).Inc()
	return err
}
