// Package transport implements the client and server halves of the
// length-prefixed wire protocol (internal/wire) over TCP. Client is a
// pathoram.BucketTree that forwards ReadPath/WritePath to a remote server
// instead of a local tree; Server dispatches
// incoming requests to one BucketTree per shard, serializing concurrent
// requests within a shard with a per-shard mutex while different shards
// proceed in parallel goroutines.
package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/etclab/adjoram/internal/wire"
)

// Client is a pathoram.BucketTree backed by a single persistent TCP
// connection to an ORAM server, scoped to one shard index. ReadPath and
// WritePath hold an internal mutex for the whole request/response round
// trip, so concurrent calls on one Client are serialized.
type Client struct {
	mu         sync.Mutex
	conn       net.Conn
	shard      uint16
	height     int
	numLeaves  int64
	bucketSize int
}

// Dial opens a connection to addr, performs the handshake, and returns a
// Client scoped to shard with the given tree dimensions.
func Dial(addr string, shard uint16, height, bucketSize int) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if err := wire.WriteHandshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Client{
		conn:       conn,
		shard:      shard,
		height:     height,
		numLeaves:  int64(1) << height,
		bucketSize: bucketSize,
	}, nil
}

func (c *Client) Height() int      { return c.height }
func (c *Client) NumLeaves() int64 { return c.numLeaves }
func (c *Client) BucketSize() int  { return c.bucketSize }

// Close shuts down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// ReadPath implements pathoram.BucketTree by issuing one OpReadPath
// request and decoding its response.
func (c *Client) ReadPath(leaf int64) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := wire.Request{
		Op:    wire.OpReadPath,
		Shard: c.shard,
		Leaf:  uint32(leaf),
	}
	if err := wire.WriteFrame(c.conn, wire.EncodeRequest(req)); err != nil {
		return nil, err
	}
	payload, err := wire.ReadFrame(c.conn)
	if err != nil {
		return nil, err
	}
	return wire.DecodeReadResponse(payload, c.height+1)
}

// WritePath implements pathoram.BucketTree by issuing one OpWritePath
// request carrying all Height+1 ciphertext blobs and checking the status
// byte response.
func (c *Client) WritePath(leaf int64, blobs [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(blobs) != c.height+1 {
		return fmt.Errorf("transport: write_path: got %d buckets, want %d", len(blobs), c.height+1)
	}
	req := wire.Request{
		Op:          wire.OpWritePath,
		Shard:       c.shard,
		Leaf:        uint32(leaf),
		BucketCount: uint16(len(blobs)),
		Buckets:     blobs,
	}
	if err := wire.WriteFrame(c.conn, wire.EncodeRequest(req)); err != nil {
		return err
	}
	payload, err := wire.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	status, err := wire.DecodeWriteResponse(payload)
	if err != nil {
		return err
	}
	if status != wire.StatusOK {
		return fmt.Errorf("transport: write_path: server returned status %d", status)
	}
	return nil
}
