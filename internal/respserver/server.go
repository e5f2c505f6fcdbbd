// Package respserver is the server loop: it accepts connections, splits
// each into a Connection actor pair, dispatches frames through command,
// and — when configured with --replicaof — runs the long-lived task
// that maintains the link to the primary.
package respserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"respkv/internal/command"
	"respkv/internal/config"
	"respkv/internal/connio"
	"respkv/internal/frame"
	"respkv/internal/metrics"
	"respkv/internal/rdbfile"
	"respkv/internal/rdbsnap"
	"respkv/internal/replication"
	"respkv/internal/store"
)

// Server owns the shared keyspace and replication state for one running
// instance, primary or replica.
type Server struct {
	cfg     config.Config
	store   *store.Store
	primary *replication.Primary // nil when this instance is a replica
	metrics *metrics.Metrics
}

// New constructs a Server. If cfg.IsReplica() is false, a fresh
// replication.Primary is created and this instance serves full resyncs.
func New(cfg config.Config, st *store.Store, m *metrics.Metrics) *Server {
	s := &Server{cfg: cfg, store: st, metrics: m}
	if !cfg.IsReplica() {
		s.primary = replication.NewPrimary()
	}
	return s
}

// Run listens on cfg.Port, preloads any on-disk snapshot, starts the
// replica ingestion task if configured, and serves connections until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if entries, err := rdbfile.Load(s.cfg.Dir, s.cfg.DBFilename); err == nil {
		s.store.Load(entries)
	} else {
		log.Printf("respserver: loading %s/%s: %v", s.cfg.Dir, s.cfg.DBFilename, err)
	}

	if s.cfg.IsReplica() {
		go s.runReplicaLink(ctx)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("respserver: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("respserver: listening on :%d", s.cfg.Port)
	for {
		netConn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("respserver: accept: %w", err)
			}
		}
		go s.handleConn(netConn)
	}
}

func (s *Server) role() command.Role {
	if s.cfg.IsReplica() {
		return command.RoleReplica
	}
	return command.RoleMaster
}

// snapshot is what PSYNC sends: the fixed, built-in empty RDB file,
// verbatim, on every full resync — never a live encoding of the
// keyspace. Replication of existing keys happens only through the
// ordinary propagation stream a replica receives after resync.
func (s *Server) snapshot() []byte {
	return rdbsnap.EmptyRDB()
}

func (s *Server) handleConn(netConn net.Conn) {
	id := uuid.NewString()
	conn := connio.New(netConn, id)
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ConnectionOpened()
		defer s.metrics.ConnectionClosed()
	}

	var listeningPort int
	deps := &command.Deps{
		Store:         s.store,
		Primary:       s.primary,
		Role:          s.role(),
		Dir:           s.cfg.Dir,
		DBFile:        s.cfg.DBFilename,
		Snapshot:      s.snapshot,
		ListeningPort: &listeningPort,
	}

	defer func() {
		if s.primary != nil {
			s.primary.RemoveReplica(conn)
			if s.metrics != nil {
				s.metrics.SetReplicaCount(len(s.primary.Replicas()))
			}
		}
	}()

	for {
		req, err := conn.ReadFrame()
		if err != nil {
			return
		}
		if req.Kind != frame.KindArray {
			_ = conn.WriteFrame(frame.Err("ERR expected array request"))
			continue
		}

		name := commandName(req)
		start := time.Now()
		resp, _ := command.Execute(deps, conn, req)
		if s.metrics != nil {
			s.metrics.ObserveCommand(name, time.Since(start))
			if strings.EqualFold(name, "WAIT") {
				s.metrics.ObserveWait(time.Since(start))
			}
			if strings.EqualFold(name, "REPLCONF") && s.primary != nil {
				s.metrics.SetReplicaCount(len(s.primary.Replicas()))
			}
		}

		if resp.Kind == frame.KindNoSend {
			continue
		}
		if err := conn.WriteFrame(resp); err != nil {
			return
		}
	}
}

func commandName(req frame.Frame) string {
	if len(req.Array) == 0 {
		return ""
	}
	first := req.Array[0]
	if first.Kind == frame.KindBulk && first.Bulk != nil {
		return string(first.Bulk)
	}
	if first.Kind == frame.KindSimple {
		return first.Str
	}
	return ""
}

// runReplicaLink owns this instance's single long-lived connection to
// its primary: handshake, snapshot ingestion, then the apply loop. A
// dropped connection is retried at a bounded rate (SPEC_FULL §4.7); per
// the open question on reconnect semantics, every attempt performs a
// fresh full resync rather than any partial catch-up.
func (s *Server) runReplicaLink(ctx context.Context) {
	backoff := replication.NewBackoffer(2 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		backoff.Wait()
		if err := s.replicaSession(ctx); err != nil {
			log.Printf("respserver: replica link: %v", err)
		}
	}
}

func (s *Server) replicaSession(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ReplicaOfHost, s.cfg.ReplicaOfPort)
	netConn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	conn := connio.New(netConn, "replica-link:"+addr)
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	res, err := replication.Handshake(conn, s.cfg.Port)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	// res.RDB is always the primary's fixed built-in empty RDB file; it
	// carries no keyspace state and is accepted, not decoded. Everything
	// the replica ends up holding arrives afterward as propagated writes.
	log.Printf("respserver: full resync from %s complete, replid=%s", addr, res.ReplID)

	ingestion := &replication.IngestionOffset{}
	deps := &command.Deps{
		Store:  s.store,
		Role:   command.RoleReplica,
		Dir:    s.cfg.Dir,
		DBFile: s.cfg.DBFilename,
	}

	for {
		req, err := conn.ReadFrame()
		if err != nil {
			return fmt.Errorf("ingestion read: %w", err)
		}
		ingestion.Add(int64(frame.Len(req)))

		resp, err := command.ExecuteReplicaWrite(deps, ingestion.Get(), req)
		if err != nil {
			log.Printf("respserver: ingestion: %v", err)
			continue
		}
		if resp.Kind == frame.KindNoSend {
			continue
		}
		if err := conn.WriteFrame(resp); err != nil {
			return fmt.Errorf("ingestion write: %w", err)
		}
	}
}
