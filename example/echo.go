package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zereker/stream"
)

// echo writes every received chunk back until the peer goes away.
func echo(ctx context.Context, s *stream.Stream) {
	for ctx.Err() == nil {
		data, err := s.Read()
		if err != nil {
			if stream.IsTimeout(err) {
				continue
			}
			slog.Error("read failed", "stream_id", s.ID(), "error", err)
			return
		}

		if len(data) == 0 {
			if s.PeerClosed() {
				slog.Info("peer closed", "stream_id", s.ID())
				return
			}
			continue
		}

		if _, err = s.Write(data); err != nil {
			slog.Error("write failed", "stream_id", s.ID(), "error", err)
			return
		}
	}
}

func main() {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:12345")
	if err != nil {
		panic(err)
	}

	server, err := stream.Listen(addr,
		stream.ServerShutdownTimeoutOption(time.Second),
		stream.ServerStreamOptions(
			stream.ReadTimeoutOption(30*time.Second),
			stream.WriteTimeoutOption(5*time.Second),
		),
	)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		cancel()
	}()

	if err := server.Serve(ctx, stream.HandlerFunc(echo)); err != nil && ctx.Err() == nil {
		slog.Error("server error", "error", err)
	}
}
