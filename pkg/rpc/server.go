package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/hookio/pkg/log"
	"github.com/cuemby/hookio/pkg/types"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
)

const (
	serviceName = "hookio.Overlay"
	linkMethod  = "/hookio.Overlay/Link"
)

// linkService is implemented by *Server; it lets grpc type-check the
// registration.
type linkService interface {
	accept(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*linkService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Link",
			Handler:       linkHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "hookio/overlay",
}

func linkHandler(srv any, stream grpc.ServerStream) error {
	return srv.(linkService).accept(stream)
}

// Options tune links created by Listen and Dial
type Options struct {
	// CallTimeout bounds every Call; zero waits until the link ends
	CallTimeout time.Duration

	// OnAccept runs for each accepted link before it starts serving, so
	// methods can be exposed per connection
	OnAccept func(l *Link)
}

// Server accepts links from child hooks
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	opts       Options

	mu    sync.RWMutex
	links map[string]*Link
}

// Listen binds addr. Errors from the bind are wrapped so IsBindConflict
// can inspect them.
func Listen(addr string, opts Options) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &Server{
		grpcServer: grpc.NewServer(),
		listener:   lis,
		opts:       opts,
		links:      make(map[string]*Link),
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s, nil
}

// IsBindConflict reports whether err means another process already owns
// the address, in which case the caller should join as a client instead
func IsBindConflict(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, syscall.EADDRNOTAVAIL)
}

// Serve accepts links until Close is called
func (s *Server) Serve() error {
	if err := s.grpcServer.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the bound TCP port
func (s *Server) Port() int {
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Links returns the currently open links
func (s *Server) Links() []*Link {
	s.mu.RLock()
	defer s.mu.RUnlock()

	links := make([]*Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	return links
}

// Close ends every link and stops the server
func (s *Server) Close() error {
	for _, l := range s.Links() {
		_ = l.Close()
	}
	s.grpcServer.Stop()
	return nil
}

func (s *Server) accept(stream grpc.ServerStream) error {
	remote := types.Remote{}
	if p, ok := peer.FromContext(stream.Context()); ok && p.Addr != nil {
		remote = remoteFromAddr(p.Addr.String())
	}

	l := newLink(uuid.New().String(), remote, stream, s.opts.CallTimeout)

	s.mu.Lock()
	s.links[l.id] = l
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.links, l.id)
		s.mu.Unlock()
	}()

	logger := log.WithComponent("rpc")
	logger.Debug().
		Str("link", l.id).
		Str("remote", remote.String()).
		Msg("Accepted link")

	if s.opts.OnAccept != nil {
		s.opts.OnAccept(l)
	}
	return l.Serve()
}

// Dial opens a link to the server at addr
func Dial(ctx context.Context, addr string, opts Options) (*Link, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	stream, err := conn.NewStream(streamCtx, &serviceDesc.Streams[0], linkMethod, grpc.WaitForReady(false))
	if !stop() {
		// ctx fired while the stream was being opened
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	l := newLink(uuid.New().String(), remoteFromAddr(addr), stream, opts.CallTimeout)
	l.release = func() {
		_ = stream.CloseSend()
		cancel()
		_ = conn.Close()
	}
	return l, nil
}

func remoteFromAddr(addr string) types.Remote {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return types.Remote{Host: addr}
	}
	port, _ := strconv.Atoi(portStr)
	return types.Remote{Host: host, Port: port}
}
