package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/kevinxiao27/egdoc/doc"
	"github.com/kevinxiao27/egdoc/internal/store"
	"github.com/kevinxiao27/egdoc/ol"
	"github.com/kevinxiao27/egdoc/types"
	"github.com/kevinxiao27/egdoc/util"
)

// Server relays changes between replicas of named documents. Every document
// is persisted in the change store and kept in memory once touched.
type Server struct {
	store *store.Store
	actor types.ActorId

	mu       sync.Mutex
	docs     map[string]*doc.Document
	clients  map[string]map[uuid.UUID]*client
	upgrader websocket.Upgrader
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	// mu serializes writes; gorilla connections allow one writer at a time
	mu sync.Mutex
}

func (c *client) send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChangesMessage carries encoded changes, base64 in JSON.
type ChangesMessage struct {
	Changes [][]byte           `json:"changes"`
	Heads   []types.ChangeHash `json:"heads,omitempty"`
}

type PutRequest struct {
	Obj   string `json:"obj"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type SpliceRequest struct {
	Obj  string `json:"obj"`
	Pos  int    `json:"pos"`
	Del  int    `json:"del"`
	Text string `json:"text"`
}

type DocumentResponse struct {
	Heads   []string `json:"heads"`
	Content any      `json:"content"`
}

func NewServer(s *store.Store, actor types.ActorId) *Server {
	return &Server{
		store:   s,
		actor:   actor,
		docs:    make(map[string]*doc.Document),
		clients: make(map[string]map[uuid.UUID]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(countRequests)
	r.HandleFunc("/docs/{id}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/docs/{id}/put", s.handlePut).Methods(http.MethodPost)
	r.HandleFunc("/docs/{id}/splice", s.handleSplice).Methods(http.MethodPost)
	r.HandleFunc("/docs/{id}/changes", s.handleGetChanges).Methods(http.MethodGet)
	r.HandleFunc("/docs/{id}/changes", s.handleApplyChanges).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket)
	return r
}

// document returns the in-memory replica of id, loading it from the store
// the first time.
func (s *Server) document(ctx context.Context, id string) (*doc.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[id]; ok {
		return d, nil
	}
	d, err := s.store.Load(ctx, id, s.actor)
	if errors.Is(err, store.ErrNoDocument) {
		d, err = doc.NewWithActor(s.actor), nil
	}
	if err != nil {
		return nil, err
	}
	s.docs[id] = d
	documentsOpen.Inc()
	return d, nil
}

// persist stores the changes d has after since and sends them to every
// client of id except from.
func (s *Server) persist(ctx context.Context, id string, d *doc.Document, since []types.ChangeHash, from uuid.UUID) error {
	changes := d.ChangesSince(since)
	if len(changes) == 0 {
		return nil
	}
	if _, err := s.store.Append(ctx, id, changes...); err != nil {
		return err
	}
	s.broadcast(id, from, changesMessage(changes, d.Heads()))
	return nil
}

func changesMessage(changes []*doc.Change, heads []types.ChangeHash) WSMessage {
	msg := ChangesMessage{Heads: heads}
	for _, c := range changes {
		msg.Changes = append(msg.Changes, c.Bytes())
	}
	data, _ := json.Marshal(msg)
	return WSMessage{Type: "changes", Data: data}
}

func decodeChanges(raw [][]byte) ([]*doc.Change, error) {
	changes := make([]*doc.Change, 0, len(raw))
	for i, b := range raw {
		c, err := ol.DecodeChange(b)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func (s *Server) broadcast(id string, from uuid.UUID, msg WSMessage) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients[id]))
	for cid, c := range s.clients[id] {
		if cid != from {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	glog.V(1).Infof("[server]broadcast %s to %d clients of %s", msg.Type, len(targets), id)
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			glog.Infof("[server]send to %s: %v", c.id, err)
		}
	}
	broadcastTotal.Add(float64(len(targets)))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Infof("[server]write response: %v", err)
	}
}

func httpError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, doc.ErrNotFound), errors.Is(err, store.ErrInvalidDocId):
		code = http.StatusNotFound
	case errors.Is(err, doc.ErrWrongType), errors.Is(err, doc.ErrOutOfRange), isBadRequest(err):
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}

type badRequest struct{ error }

func (b badRequest) Unwrap() error { return b.error }

func isBadRequest(err error) bool {
	var b badRequest
	return errors.As(err, &b)
}

func heads(d *doc.Document) []string {
	return util.MapN(d.Heads(), func(h types.ChangeHash) (string, error) {
		return h.String(), nil
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	d, err := s.document(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpError(w, err)
		return
	}
	content, err := d.Materialize(doc.Root)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, DocumentResponse{Heads: heads(d), Content: content})
}

// scalar converts a decoded JSON value. Integral numbers become ints.
func scalar(v any) (types.ScalarValue, error) {
	switch v := v.(type) {
	case nil:
		return types.Null(), nil
	case bool:
		return types.Bool(v), nil
	case string:
		return types.Str(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return types.Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return types.ScalarValue{}, badRequest{err}
		}
		return types.F64(f), nil
	default:
		return types.ScalarValue{}, badRequest{fmt.Errorf("unsupported value %T", v)}
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return badRequest{fmt.Errorf("decode request: %w", err)}
	}
	return nil
}

// edit runs fn in a transaction on document id, then persists and relays
// the resulting change.
func (s *Server) edit(r *http.Request, fn func(tx *doc.Transaction) error) (*doc.Document, error) {
	id := mux.Vars(r)["id"]
	d, err := s.document(r.Context(), id)
	if err != nil {
		return nil, err
	}
	before := d.Heads()
	if _, err := d.Update(fn); err != nil {
		return nil, err
	}
	return d, s.persist(r.Context(), id, d, before, uuid.Nil)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var req PutRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	glog.V(1).Infof("[server]put %s %q", req.Obj, req.Key)
	d, err := s.edit(r, func(tx *doc.Transaction) error {
		obj, err := types.ParseExId(req.Obj)
		if err != nil {
			return badRequest{err}
		}
		v, err := scalar(req.Value)
		if err != nil {
			return err
		}
		return tx.Put(obj, doc.Key(req.Key), v)
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"heads": heads(d)})
}

func (s *Server) handleSplice(w http.ResponseWriter, r *http.Request) {
	var req SpliceRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	glog.V(1).Infof("[server]splice %s pos=%d del=%d", req.Obj, req.Pos, req.Del)
	var text string
	d, err := s.edit(r, func(tx *doc.Transaction) error {
		obj, err := types.ParseExId(req.Obj)
		if err != nil {
			return badRequest{err}
		}
		if err := tx.SpliceText(obj, req.Pos, req.Del, req.Text); err != nil {
			return err
		}
		text, err = tx.Text(obj)
		return err
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"heads": heads(d), "text": text})
}

// handleGetChanges returns the changes after the comma separated heads in
// the since parameter, or all of them.
func (s *Server) handleGetChanges(w http.ResponseWriter, r *http.Request) {
	d, err := s.document(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpError(w, err)
		return
	}
	var since []types.ChangeHash
	if param := r.URL.Query().Get("since"); param != "" {
		for _, part := range strings.Split(param, ",") {
			h, err := types.ParseChangeHash(part)
			if err != nil {
				httpError(w, badRequest{err})
				return
			}
			since = append(since, h)
		}
	}
	msg := ChangesMessage{Heads: d.Heads()}
	for _, c := range d.ChangesSince(since) {
		msg.Changes = append(msg.Changes, c.Bytes())
	}
	writeJSON(w, msg)
}

func (s *Server) handleApplyChanges(w http.ResponseWriter, r *http.Request) {
	var req ChangesMessage
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	d, err := s.apply(r.Context(), id, req.Changes, uuid.Nil)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"heads": heads(d)})
}

func (s *Server) apply(ctx context.Context, id string, raw [][]byte, from uuid.UUID) (*doc.Document, error) {
	changes, err := decodeChanges(raw)
	if err != nil {
		return nil, badRequest{err}
	}
	d, err := s.document(ctx, id)
	if err != nil {
		return nil, err
	}
	before := d.Heads()
	if err := d.ApplyChanges(changes...); err != nil {
		return nil, badRequest{err}
	}
	changesReceived.Add(float64(len(changes)))
	return d, s.persist(ctx, id, d, before, from)
}

func (s *Server) addClient(id string, c *client) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[id] == nil {
		s.clients[id] = make(map[uuid.UUID]*client)
	}
	s.clients[id][c.id] = c
	clientsConnected.Inc()
	return len(s.clients[id])
}

func (s *Server) removeClient(id string, c *client) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients[id], c.id)
	clientsConnected.Dec()
	return len(s.clients[id])
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("doc")
	d, err := s.document(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[server]upgrade: %v", err)
		return
	}
	defer conn.Close()

	c := &client{id: uuid.New(), conn: conn}
	n := s.addClient(id, c)
	defer func() {
		n := s.removeClient(id, c)
		glog.Infof("[server]client %s left %s, %d remaining", c.id, id, n)
	}()
	glog.Infof("[server]client %s joined %s, %d connected", c.id, id, n)

	init := changesMessage(d.Changes(), d.Heads())
	init.Type = "init"
	if err := c.send(init); err != nil {
		return
	}

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		glog.V(2).Infof("[server]%s<- %s", c.id, msg.Type)
		switch msg.Type {
		case "changes":
			var cm ChangesMessage
			if err := json.Unmarshal(msg.Data, &cm); err != nil {
				glog.Infof("[server]%s: bad changes message: %v", c.id, err)
				continue
			}
			if _, err := s.apply(r.Context(), id, cm.Changes, c.id); err != nil {
				glog.Infof("[server]%s: apply: %v", c.id, err)
				errData, _ := json.Marshal(err.Error())
				c.send(WSMessage{Type: "error", Data: errData})
			}
		default:
			glog.Infof("[server]%s: unknown message type %q", c.id, msg.Type)
		}
	}
}
