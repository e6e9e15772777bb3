package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/graph-gophers/graphql-go"
	"golang.org/x/net/websocket"

	"github.com/louisbranch/phonebook/internal/platform/timeouts"
	phonebookgraphql "github.com/louisbranch/phonebook/internal/services/phonebook/api/graphql/phonebook"
	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
)

// Subprotocol is the websocket subprotocol spoken on /subscriptions.
const Subprotocol = "graphql-transport-ws"

const maxOperationsPerConn = 32

// Message types of the graphql-transport-ws protocol.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type initPayload struct {
	Authorization string `json:"authorization"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeMessage(msg wsMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(msg)
}

func (p *wsPeer) write(id, msgType string, payload any) error {
	msg := wsMessage{ID: id, Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		msg.Payload = raw
	}
	return p.writeMessage(msg)
}

// wsSession tracks the state of one subscription connection.
type wsSession struct {
	ctx      context.Context
	executor Executor
	authn    Authenticator
	peer     *wsPeer
	header   string

	acknowledged bool
	viewer       *storage.Identity

	mu         sync.Mutex
	operations map[string]context.CancelFunc
	wg         sync.WaitGroup
}

func newSubscriptionHandler(executor Executor, authn Authenticator) http.Handler {
	return websocket.Server{
		Handshake: negotiateSubprotocol,
		Handler: func(conn *websocket.Conn) {
			handleSubscriptionConn(conn, executor, authn)
		},
	}
}

// negotiateSubprotocol selects graphql-transport-ws when offered. Clients
// that offer no subprotocol are accepted; clients offering only others are
// rejected.
func negotiateSubprotocol(cfg *websocket.Config, _ *http.Request) error {
	if len(cfg.Protocol) == 0 {
		return nil
	}
	if slices.Contains(cfg.Protocol, Subprotocol) {
		cfg.Protocol = []string{Subprotocol}
		return nil
	}
	return websocket.ErrBadWebSocketProtocol
}

func handleSubscriptionConn(conn *websocket.Conn, executor Executor, authn Authenticator) {
	ctx, cancel := context.WithCancel(conn.Request().Context())
	session := &wsSession{
		ctx:        ctx,
		executor:   executor,
		authn:      authn,
		peer:       newWSPeer(json.NewEncoder(conn)),
		header:     conn.Request().Header.Get("Authorization"),
		operations: make(map[string]context.CancelFunc),
	}
	defer func() {
		cancel()
		_ = conn.Close()
		session.wg.Wait()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(timeouts.WebSocketInit))
	decoder := json.NewDecoder(conn)
	for {
		var msg wsMessage
		if err := decoder.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Printf("subscriptions: read message: %v", err)
			}
			return
		}
		if !session.handle(conn, msg) {
			return
		}
	}
}

// handle processes one client message and reports whether the connection
// should stay open.
func (s *wsSession) handle(conn *websocket.Conn, msg wsMessage) bool {
	switch msg.Type {
	case msgConnectionInit:
		if s.acknowledged {
			log.Printf("subscriptions: duplicate connection_init")
			return false
		}
		if !s.authenticate(msg.Payload) {
			return false
		}
		_ = conn.SetReadDeadline(time.Time{})
		s.acknowledged = true
		return s.peer.write("", msgConnectionAck, nil) == nil
	case msgPing:
		return s.peer.write("", msgPong, nil) == nil
	case msgPong:
		return true
	case msgSubscribe:
		if !s.acknowledged {
			log.Printf("subscriptions: subscribe before connection_init")
			return false
		}
		return s.subscribe(msg)
	case msgComplete:
		s.release(msg.ID)
		return true
	default:
		log.Printf("subscriptions: unsupported message type %q", msg.Type)
		return false
	}
}

func (s *wsSession) authenticate(raw json.RawMessage) bool {
	header := s.header
	if len(raw) > 0 && string(raw) != "null" {
		var payload initPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("subscriptions: invalid connection_init payload: %v", err)
			return false
		}
		if payload.Authorization != "" {
			header = payload.Authorization
		}
	}
	viewer, err := s.authn.AuthenticateRequest(s.ctx, header)
	if err != nil {
		log.Printf("subscriptions: connection rejected: %v", err)
		_ = s.peer.write("", msgError, []errorEntry{newErrorEntry(err)})
		return false
	}
	s.viewer = viewer
	return true
}

func (s *wsSession) subscribe(msg wsMessage) bool {
	if msg.ID == "" {
		log.Printf("subscriptions: subscribe without id")
		return false
	}
	var req graphqlRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Query == "" {
		return s.peer.write(msg.ID, msgError, []errorEntry{{Message: "invalid subscribe payload"}}) == nil
	}

	s.mu.Lock()
	if _, exists := s.operations[msg.ID]; exists {
		s.mu.Unlock()
		log.Printf("subscriptions: duplicate operation id %q", msg.ID)
		return false
	}
	if len(s.operations) >= maxOperationsPerConn {
		s.mu.Unlock()
		return s.peer.write(msg.ID, msgError, []errorEntry{{Message: "too many operations"}}) == nil
	}
	opCtx, cancel := context.WithCancel(phonebookgraphql.WithViewer(s.ctx, s.viewer))
	s.operations[msg.ID] = cancel
	s.mu.Unlock()

	stream, err := s.executor.Subscribe(opCtx, req.Query, req.OperationName, req.Variables)
	if err != nil {
		s.release(msg.ID)
		return s.peer.write(msg.ID, msgError, []errorEntry{{Message: err.Error()}}) == nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.forward(msg.ID, stream)
	}()
	return true
}

// forward relays responses for one operation until the stream closes. The
// stream is always drained so the executor can finish.
func (s *wsSession) forward(id string, stream <-chan any) {
	first := true
	failed := false
	for raw := range stream {
		resp, ok := raw.(*graphql.Response)
		if !ok || failed {
			continue
		}
		var err error
		if first && len(resp.Data) == 0 && len(resp.Errors) > 0 {
			failed = true
			err = s.peer.write(id, msgError, resp.Errors)
		} else {
			err = s.peer.write(id, msgNext, resp)
		}
		first = false
		if err != nil {
			failed = true
			s.release(id)
		}
	}
	if s.release(id) && !failed {
		_ = s.peer.write(id, msgComplete, nil)
	}
}

// release cancels operation id and reports whether it was still active.
func (s *wsSession) release(id string) bool {
	s.mu.Lock()
	cancel, ok := s.operations[id]
	delete(s.operations, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
