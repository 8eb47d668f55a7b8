// internal/feed/handlers.go
package feed

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tamzrod/plc-db-sync/internal/codec"
	"github.com/tamzrod/plc-db-sync/internal/status"
	"github.com/tamzrod/plc-db-sync/internal/writer"
)

type writeReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ---- websocket ----

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := newClient(r.RemoteAddr)
	s.register(c)
	defer s.unregister(c)

	go s.writeLoop(conn, c)
	defer close(c.done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		res, _ := s.applyBody(message)
		reply, _ := json.Marshal(res)
		if !c.queue(reply) {
			return
		}
	}
}

// frameWriter is the write side of a websocket connection.
type frameWriter interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// writeLoop is the single writer of a connection. A failed write closes
// the connection so the read loop ends too.
func (s *Server) writeLoop(conn frameWriter, c *client) {
	defer close(c.gone)

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug("websocket write failed", zap.String("client", c.id), zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

// ---- HTTP ----

func (s *Server) serveSnapshot(w http.ResponseWriter, _ *http.Request) {
	last := s.Last()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(last)
}

func (s *Server) serveWrite(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, writeReply{Error: err.Error()})
		return
	}

	reply, code := s.applyBody(body)
	writeJSON(w, code, reply)
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Status == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.Encode(s.opts.Status()))
}

type historyEntry struct {
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) serveHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		http.NotFound(w, r)
		return
	}

	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, writeReply{Error: "from: " + err.Error()})
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, writeReply{Error: "to: " + err.Error()})
		return
	}

	recs, err := s.opts.History.Range(from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, writeReply{Error: err.Error()})
		return
	}

	out := make([]historyEntry, 0, len(recs))
	for _, rec := range recs {
		if !json.Valid(rec.Payload) {
			// truncated at region capacity
			continue
		}
		out = append(out, historyEntry{At: rec.At, Data: rec.Payload})
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- helpers ----

// applyBody decodes and applies one change set, returning the reply
// and the HTTP status that goes with it.
func (s *Server) applyBody(body []byte) (writeReply, int) {
	if s.opts.Apply == nil {
		return writeReply{Error: "writes disabled"}, http.StatusServiceUnavailable
	}
	changes, err := codec.DecodeChanges(body)
	if err != nil {
		return writeReply{Error: err.Error()}, http.StatusBadRequest
	}
	if err := s.opts.Apply.Apply(changes); err != nil {
		s.log.Info("feed write failed", zap.Error(err))
		return writeReply{Error: err.Error()}, applyStatus(err)
	}
	return writeReply{OK: true}, http.StatusOK
}

func applyStatus(err error) int {
	var f *writer.Failure
	switch {
	case errors.Is(err, writer.ErrNoChanges):
		return http.StatusBadRequest
	case errors.As(err, &f) && f.Stage == writer.StageEncode:
		return http.StatusUnprocessableEntity
	case errors.As(err, &f):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	const limit = 1 << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var buf json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
