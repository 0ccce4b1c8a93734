package transport

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	pathoram "github.com/etclab/adjoram"
	"github.com/etclab/adjoram/internal/wire"
)

// shardState bundles one shard's BucketTree with the mutex that
// serializes concurrent requests against it.
type shardState struct {
	mu   sync.Mutex
	tree pathoram.BucketTree
}

// Server accepts TCP connections speaking the wire protocol and dispatches
// each request to the BucketTree registered for its shard index.
type Server struct {
	listener net.Listener
	shards   []*shardState
	log      *logrus.Logger
	metrics  *pathoram.Metrics
}

// SetMetrics attaches a Metrics collector; the server then records the
// storage-side latency of every read_path/write_path it serves, labeled
// by shard.
func (s *Server) SetMetrics(m *pathoram.Metrics) { s.metrics = m }

// NewServer constructs a Server over the given per-shard BucketTrees,
// indexed by shard id.
func NewServer(trees []pathoram.BucketTree, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	shards := make([]*shardState, len(trees))
	for i, t := range trees {
		shards[i] = &shardState{tree: t}
	}
	return &Server{shards: shards, log: log}
}

// Serve listens on addr and blocks, accepting and handling connections
// until the listener is closed.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.log.WithField("addr", addr).Info("oram server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts down the listener, causing Serve to return.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	logger := s.log.WithField("remote", conn.RemoteAddr().String())

	if err := wire.ReadHandshake(conn); err != nil {
		logger.WithError(err).Warn("handshake failed")
		return
	}
	logger.Debug("client connected")

	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			logger.WithError(err).Debug("connection closed")
			return
		}
		req, err := wire.DecodeRequest(payload)
		if err != nil {
			logger.WithError(err).Warn("malformed request")
			return
		}
		if err := s.handleRequest(conn, req, logger); err != nil {
			logger.WithError(err).Warn("request failed")
			return
		}
	}
}

func (s *Server) handleRequest(conn net.Conn, req wire.Request, logger *logrus.Entry) error {
	if int(req.Shard) >= len(s.shards) {
		return fmt.Errorf("transport: unknown shard %d", req.Shard)
	}
	shard := s.shards[req.Shard]
	shardLabel := strconv.Itoa(int(req.Shard))

	shard.mu.Lock()
	defer shard.mu.Unlock()

	switch req.Op {
	case wire.OpReadPath:
		start := time.Now()
		buckets, err := shard.tree.ReadPath(int64(req.Leaf))
		s.metrics.ObserveReadPath(shardLabel, time.Since(start))
		if err != nil {
			logger.WithError(err).WithField("shard", req.Shard).Error("read_path failed")
			return err
		}
		return wire.WriteFrame(conn, wire.EncodeReadResponse(buckets))

	case wire.OpWritePath:
		start := time.Now()
		err := shard.tree.WritePath(int64(req.Leaf), req.Buckets)
		s.metrics.ObserveWritePath(shardLabel, time.Since(start))
		status := wire.StatusOK
		if err != nil {
			logger.WithError(err).WithField("shard", req.Shard).Error("write_path failed")
			status = wire.StatusError
		}
		if werr := wire.WriteFrame(conn, wire.EncodeWriteResponse(status)); werr != nil {
			return werr
		}
		return err

	default:
		return fmt.Errorf("transport: unknown opcode %d", req.Op)
	}
}
