package grpc

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/arya-analytics/infodb"
	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName    = "infodb.v1.Relay"
	exchangeMethod = "/" + serviceName + "/Exchange"

	keyMethod         = "x-infodb-method"
	keyPath           = "x-infodb-path"
	keyEncoding       = "x-infodb-encoding"
	keyAcceptEncoding = "x-infodb-accept-encoding"
	keyIfNoneMatch    = "x-infodb-if-none-match"
	keyStatus         = "x-infodb-status"
	keyETag           = "x-infodb-etag"
)

// relayServer is the server side of the relay service. Every request is a
// single unary exchange whose body travels as a BytesValue and whose request
// line travels as metadata.
type relayServer interface {
	Exchange(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func exchangeHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor,
) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(relayServer).Exchange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: exchangeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(relayServer).Exchange(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*relayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Exchange", Handler: exchangeHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// |||||| SERVER ||||||

type relay struct {
	handle infodb.Handler
}

func (r *relay) Exchange(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	res := r.handle(ctx, infodb.Request{
		Method:           first(md, keyMethod),
		Path:             first(md, keyPath),
		Body:             in.GetValue(),
		Compressed:       first(md, keyEncoding) == codec.Encoding,
		AcceptCompressed: first(md, keyAcceptEncoding) == codec.Encoding,
		IfNoneMatch:      first(md, keyIfNoneMatch),
	})
	header := metadata.Pairs(keyStatus, strconv.Itoa(res.Status))
	if res.Compressed {
		header.Set(keyEncoding, codec.Encoding)
	}
	if res.ETag != "" {
		header.Set(keyETag, res.ETag)
	}
	if err := grpc.SetHeader(ctx, header); err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(res.Body), nil
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

// |||||| TRANSPORT ||||||

// Transport exchanges entries over gRPC. Connections are dialed lazily and
// kept for the lifetime of the transport.
type Transport struct {
	Logger *zap.Logger
	mu     sync.Mutex
	conns  map[address.Address]*grpc.ClientConn
}

func New(logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{Logger: logger, conns: make(map[address.Address]*grpc.ClientConn)}
}

var _ infodb.Transport = (*Transport)(nil)

func (t *Transport) String() string { return "grpc" }

// Configure implements infodb.Transport.
func (t *Transport) Configure(ctx context.Context, addr address.Address, h infodb.Handler) error {
	lis, err := net.Listen("tcp", addr.String())
	if err != nil {
		return errors.Wrapf(err, "[grpc] - listen on %s", addr)
	}
	server := grpc.NewServer()
	server.RegisterService(&relayServiceDesc, &relay{handle: h})
	go func() {
		if err := server.Serve(lis); err != nil {
			t.Logger.Error("server stopped", zap.Stringer("addr", addr), zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		server.Stop()
	}()
	t.Logger.Info("serving", zap.Stringer("addr", addr))
	return nil
}

func (t *Transport) acquire(ctx context.Context, addr address.Address) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	c, err := grpc.DialContext(ctx, addr.String(), grpc.WithInsecure())
	if err != nil {
		return nil, errors.Wrapf(err, "[grpc] - dial %s", addr)
	}
	t.conns[addr] = c
	return c, nil
}

func (t *Transport) exchange(ctx context.Context, addr address.Address, req infodb.Request) (infodb.Response, error) {
	c, err := t.acquire(ctx, addr)
	if err != nil {
		return infodb.Response{}, err
	}
	md := metadata.Pairs(keyMethod, req.Method, keyPath, req.Path)
	if req.AcceptCompressed {
		md.Set(keyAcceptEncoding, codec.Encoding)
	}
	if req.Compressed {
		md.Set(keyEncoding, codec.Encoding)
	}
	ctx = metadata.NewOutgoingContext(ctx, md)
	var header metadata.MD
	out := new(wrapperspb.BytesValue)
	if err := c.Invoke(ctx, exchangeMethod, wrapperspb.Bytes(req.Body), out, grpc.Header(&header)); err != nil {
		return infodb.Response{}, err
	}
	status, err := strconv.Atoi(first(header, keyStatus))
	if err != nil {
		return infodb.Response{}, errors.Wrap(err, "[grpc] - missing status")
	}
	res := infodb.Response{
		Status:     status,
		Body:       out.GetValue(),
		Compressed: first(header, keyEncoding) == codec.Encoding,
		ETag:       first(header, keyETag),
	}
	if res.Status != http.StatusOK {
		return res, infodb.StatusError{Status: res.Status, Body: string(res.Body)}
	}
	return res, nil
}

// Post implements infodb.Transport.
func (t *Transport) Post(ctx context.Context, addr address.Address, path string, body []byte) error {
	_, err := t.exchange(ctx, addr, infodb.Request{Method: infodb.MethodPost, Path: path, Body: body})
	return err
}

// Get implements infodb.Transport.
func (t *Transport) Get(ctx context.Context, addr address.Address, path string) ([]byte, error) {
	res, err := t.exchange(ctx, addr, infodb.Request{
		Method:           infodb.MethodGet,
		Path:             path,
		AcceptCompressed: true,
	})
	if err != nil {
		return nil, err
	}
	if res.Compressed {
		return codec.Decompress(res.Body)
	}
	return res.Body, nil
}

// Close closes every pooled connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for addr, c := range t.conns {
		err = errors.CombineErrors(err, c.Close())
		delete(t.conns, addr)
	}
	return err
}
