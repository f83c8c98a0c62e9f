// Package server exposes search and crawl control over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/xhad/clipping/pkg/crawl"
	"github.com/xhad/clipping/pkg/search"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message types exchanged over /ws. Clients send search, articles and
// crawl; the server answers with the rest.
const (
	TypeSearch   = "search"
	TypeArticles = "articles"
	TypeCrawl    = "crawl"

	TypeResults   = "results"
	TypeStatus    = "status"
	TypeProgress  = "progress"
	TypeCrawlDone = "crawl_done"
	TypeError     = "error"
)

var ErrCrawlRunning = errors.New("a crawl is already running")

type Message struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// CrawlRequest is the data of a crawl message.
type CrawlRequest struct {
	Sources  []string `json:"sources,omitempty"`
	FromDate string   `json:"from_date,omitempty"`
}

// SourceProgress is sent once per finished source during a crawl.
type SourceProgress struct {
	Source     string   `json:"source"`
	States     []string `json:"states"`
	Dispatched int      `json:"dispatched"`
	Error      string   `json:"error,omitempty"`
	Finished   int      `json:"finished"`
	Total      int      `json:"total"`
}

// CrawlSummary is sent when a crawl ends.
type CrawlSummary struct {
	JobID      string `json:"job_id"`
	Cutoff     string `json:"cutoff"`
	Sources    int    `json:"sources"`
	Dispatched int    `json:"dispatched"`
	Accepted   int64  `json:"accepted"`
	Stored     int64  `json:"stored"`
	Ingested   int64  `json:"ingested"`
	Elapsed    string `json:"elapsed"`
}

type Crawler interface {
	Start(ctx context.Context, opts crawl.Options) (*crawl.Job, error)
}

type ServerConfig struct {
	Addr   string
	Logger *logrus.Logger
}

type WSServer struct {
	config   ServerConfig
	search   *search.Service
	crawler  Crawler
	log      *logrus.Logger
	crawling atomic.Bool

	// base outlives single connections so a crawl keeps running when the
	// client that started it goes away.
	base context.Context
}

func NewWithConfig(searcher *search.Service, crawler Crawler, config ServerConfig) *WSServer {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	return &WSServer{
		config:  config,
		search:  searcher,
		crawler: crawler,
		log:     config.Logger,
		base:    context.Background(),
	}
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	s.base = ctx
	srv := &http.Server{Addr: s.config.Addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting WebSocket server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// conn serializes writes; gorilla connections allow one writer at a time.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugf("Error reading message: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(c, TypeError, fmt.Sprintf("invalid message: %v", err), nil)
			continue
		}

		go s.handleMessage(r.Context(), c, msg)
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *conn, msg Message) {
	log := s.log.WithField("type", msg.Type)
	log.Debug("Handling message")

	switch msg.Type {
	case TypeSearch:
		var req search.Request
		if !s.decode(c, msg, &req) {
			return
		}
		if req.Query == "" {
			req.Query = msg.Content
		}
		hits, err := s.search.Semantic(ctx, req)
		if err != nil {
			s.sendMessage(c, TypeError, err.Error(), nil)
			return
		}
		s.sendMessage(c, TypeResults, fmt.Sprintf("%d results", len(hits)), hits)

	case TypeArticles:
		var req search.Request
		if !s.decode(c, msg, &req) {
			return
		}
		articles, err := s.search.Articles(ctx, req)
		if err != nil {
			s.sendMessage(c, TypeError, err.Error(), nil)
			return
		}
		s.sendMessage(c, TypeResults, fmt.Sprintf("%d articles", len(articles)), articles)

	case TypeCrawl:
		var req CrawlRequest
		if !s.decode(c, msg, &req) {
			return
		}
		if err := s.runCrawl(c, req); err != nil {
			log.Warnf("Crawl request failed: %v", err)
			s.sendMessage(c, TypeError, err.Error(), nil)
		}

	default:
		s.sendMessage(c, TypeError, fmt.Sprintf("unknown message type %q", msg.Type), nil)
	}
}

func (s *WSServer) decode(c *conn, msg Message, v any) bool {
	if len(msg.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		s.sendMessage(c, TypeError, fmt.Sprintf("invalid %s data: %v", msg.Type, err), nil)
		return false
	}
	return true
}

// runCrawl starts a crawl and streams its progress to c. Only one crawl
// runs at a time.
func (s *WSServer) runCrawl(c *conn, req CrawlRequest) error {
	if s.crawler == nil {
		return errors.New("crawling is not enabled on this server")
	}
	if !s.crawling.CompareAndSwap(false, true) {
		return ErrCrawlRunning
	}
	defer s.crawling.Store(false)

	job, err := s.crawler.Start(s.base, crawl.Options{Sources: req.Sources, FromDate: req.FromDate})
	if err != nil {
		return err
	}
	s.sendMessage(c, TypeStatus, fmt.Sprintf("Crawl %s started for %d sources", job.ID, job.Total), nil)

	for ev := range job.Progress {
		if ev.Kind != crawl.EventSource || ev.Source == nil {
			continue
		}
		p := SourceProgress{
			Source:     ev.Source.SourceID,
			Dispatched: ev.Source.Dispatched(),
			Finished:   ev.Finished,
			Total:      ev.Total,
		}
		for _, st := range ev.Source.States {
			p.States = append(p.States, string(st))
		}
		if ev.Source.Err != nil {
			p.Error = ev.Source.Err.Error()
		}
		s.sendMessage(c, TypeProgress, fmt.Sprintf("%d/%d sources", ev.Finished, ev.Total), p)
	}

	result, err := job.Wait()
	if err != nil {
		return fmt.Errorf("crawl %s interrupted: %w", job.ID, err)
	}
	s.sendMessage(c, TypeCrawlDone, fmt.Sprintf("Crawl %s finished", job.ID), CrawlSummary{
		JobID:      result.JobID,
		Cutoff:     result.Cutoff.Format(time.DateOnly),
		Sources:    len(result.Reports),
		Dispatched: result.Dispatched(),
		Accepted:   result.Pipeline.Accepted,
		Stored:     result.Pipeline.Stored,
		Ingested:   result.Pipeline.Ingested,
		Elapsed:    result.Finished.Sub(result.Started).Round(time.Millisecond).String(),
	})
	return nil
}

func (s *WSServer) sendMessage(c *conn, msgType string, content string, data any) {
	msg := Message{
		Type:    msgType,
		Content: content,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.log.Errorf("Error encoding %s payload: %v", msgType, err)
			return
		}
		msg.Data = raw
	}
	if err := c.send(msg); err != nil {
		s.log.Debugf("Error sending message: %v", err)
	}
}
