package server

import (
	"context"
	"net"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps a gRPC server and listener.
type GRPCServer struct {
	Server   *grpc.Server
	Listener net.Listener
}

func NewGRPCServer(addr string, logger zerolog.Logger, opts ...grpc.ServerOption) (*GRPCServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewGRPCServerWithListener(ln, logger, opts...), nil
}

// NewGRPCServerWithListener serves on an existing listener, e.g. a bufconn in tests.
// Every unary call is logged at debug level and handler panics become Internal errors.
func NewGRPCServerWithListener(ln net.Listener, logger zerolog.Logger, opts ...grpc.ServerOption) *GRPCServer {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(unaryInterceptor(logger))}, opts...)
	s := grpc.NewServer(opts...)
	reflection.Register(s)
	return &GRPCServer{Server: s, Listener: ln}
}

func (s *GRPCServer) Serve() error {
	return s.Server.Serve(s.Listener)
}

func (s *GRPCServer) Stop() {
	s.Server.GracefulStop()
}

func unaryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error().
					Str("method", info.FullMethod).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("grpc handler panicked")
				resp, err = nil, status.Errorf(codes.Internal, "internal error")
			}
			logger.Debug().
				Str("method", info.FullMethod).
				Str("code", status.Code(err).String()).
				Dur("duration", time.Since(start)).
				Msg("grpc call")
		}()
		return handler(ctx, req)
	}
}
