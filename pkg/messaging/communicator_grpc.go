package messaging

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// gobCodec lets grpc carry SyncMessage payloads without a compiled .proto
// schema (see DESIGN.md). It is registered once under "gob"; clients select
// it per call with grpc.CallContentSubtype, and the server picks the
// registered codec from the request's content subtype.
type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return "gob" }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

const (
	exchangeMethod     = "/qsim.messaging.Partition/Exchange"
	barrierEnterMethod = "/qsim.messaging.Partition/BarrierEnter"
)

var exchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: "qsim.messaging.Partition",
	HandlerType: (*exchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Exchange",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := new(SyncMessage)
				if err := dec(req); err != nil {
					return nil, err
				}
				return srv.(exchangeServer).Exchange(ctx, req)
			},
		},
		{
			MethodName: "BarrierEnter",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				req := new(ack)
				if err := dec(req); err != nil {
					return nil, err
				}
				return srv.(exchangeServer).BarrierEnter(ctx, req)
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qsim/messaging.proto",
}

type exchangeServer interface {
	Exchange(ctx context.Context, msg *SyncMessage) (*ack, error)
	BarrierEnter(ctx context.Context, req *ack) (*ack, error)
}

type ack struct{}

// GRPCCommunicator implements Communicator over gRPC, one process per
// partition, for the "cross-process" transport.
type GRPCCommunicator struct {
	rank      int
	addr      string
	peerAddrs map[int]string

	server   *grpc.Server
	listener net.Listener

	mu    sync.Mutex
	conns map[int]*grpc.ClientConn

	inbox     chan *SyncMessage
	barrierCh chan struct{}

	SendDuration, RecvDuration time.Duration
}

// NewGRPCCommunicator builds (but does not start) a gRPC communicator for
// partition rank, listening on addr, with peerAddrs giving every other
// partition's dial target.
func NewGRPCCommunicator(rank int, addr string, peerAddrs map[int]string) *GRPCCommunicator {
	return &GRPCCommunicator{
		rank:      rank,
		addr:      addr,
		peerAddrs: peerAddrs,
		conns:     make(map[int]*grpc.ClientConn),
		inbox:     make(chan *SyncMessage, 256),
		barrierCh: make(chan struct{}, len(peerAddrs)),
	}
}

func (c *GRPCCommunicator) Rank() int { return c.rank }

// Start begins listening and serving the Exchange RPC; call once before the
// simulation loop.
func (c *GRPCCommunicator) Start() error {
	lis, err := net.Listen("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("grpc communicator: listen on %s: %w", c.addr, err)
	}
	c.listener = lis
	c.server = grpc.NewServer()
	c.server.RegisterService(&exchangeServiceDesc, grpcServerImpl{c})
	go func() { _ = c.server.Serve(lis) }()
	return nil
}

type grpcServerImpl struct{ c *GRPCCommunicator }

func (s grpcServerImpl) Exchange(_ context.Context, msg *SyncMessage) (*ack, error) {
	s.c.inbox <- msg
	return &ack{}, nil
}

func (s grpcServerImpl) BarrierEnter(_ context.Context, _ *ack) (*ack, error) {
	s.c.barrierCh <- struct{}{}
	return &ack{}, nil
}

func (c *GRPCCommunicator) clientFor(part int) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[part]; ok {
		return conn, nil
	}
	addr, ok := c.peerAddrs[part]
	if !ok {
		return nil, fmt.Errorf("grpc communicator: no address for partition %d", part)
	}
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc communicator: dial %s: %w", addr, err)
	}
	c.conns[part] = conn
	return conn, nil
}

// SendReceiveVehicles sends every outgoing message over gRPC, non-blocking
// per request (each call runs in its own goroutine with its own deadline
// scope), then drains the inbox, invoking onMsg, until expected is empty.
func (c *GRPCCommunicator) SendReceiveVehicles(out map[int]*SyncMessage, expected map[int]bool, now uint32, onMsg func(*SyncMessage)) error {
	sendStart := time.Now()
	errCh := make(chan error, len(out))
	for part, m := range out {
		go func(part int, m *SyncMessage) {
			conn, err := c.clientFor(part)
			if err != nil {
				errCh <- err
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			reply := new(ack)
			err = conn.Invoke(ctx, exchangeMethod, m, reply, grpc.CallContentSubtype("gob"))
			errCh <- err
		}(part, m)
	}
	for range out {
		if err := <-errCh; err != nil {
			return fmt.Errorf("grpc communicator: send failed: %w", err)
		}
	}
	c.SendDuration += time.Since(sendStart)

	recvStart := time.Now()
	for len(expected) > 0 {
		m := <-c.inbox
		onMsg(m)
	}
	c.RecvDuration += time.Since(recvStart)
	return nil
}

// Barrier performs a true all-to-all rendezvous: it calls BarrierEnter on
// every peer, then blocks until every peer has called BarrierEnter on this
// one. Every rank must call Barrier() exactly once per rendezvous point or
// the slowest rank's peers deadlock waiting on it.
func (c *GRPCCommunicator) Barrier() {
	errCh := make(chan error, len(c.peerAddrs))
	for part := range c.peerAddrs {
		go func(part int) {
			conn, err := c.clientFor(part)
			if err != nil {
				errCh <- err
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			reply := new(ack)
			errCh <- conn.Invoke(ctx, barrierEnterMethod, &ack{}, reply, grpc.CallContentSubtype("gob"))
		}(part)
	}
	for range c.peerAddrs {
		if err := <-errCh; err != nil {
			panic(fmt.Sprintf("grpc communicator: barrier call failed: %v", err))
		}
	}
	for i := 0; i < len(c.peerAddrs); i++ {
		<-c.barrierCh
	}
}

// Close releases client connections and stops serving.
func (c *GRPCCommunicator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		_ = conn.Close()
	}
	if c.server != nil {
		c.server.GracefulStop()
	}
	return nil
}
