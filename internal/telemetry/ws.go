package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Sampler produces the current snapshot. The server calls it once per
// interval, not once per subscriber.
type Sampler func() Snapshot

// Server pushes stats snapshots to websocket subscribers. Slow subscribers
// miss samples rather than stalling the sampler.
type Server struct {
	sample   Sampler
	interval time.Duration
	log      *zap.Logger

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[chan []byte]struct{}

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewServer(sample Sampler, interval time.Duration, logger *zap.Logger) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	s := &Server{
		sample:   sample,
		interval: interval,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[chan []byte]struct{}{},
		stop: make(chan struct{}),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.broadcast()
	}()
	return s
}

// Close stops the broadcast loop and disconnects subscribers.
func (s *Server) Close() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.mu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.mu.Unlock()
}

func (s *Server) broadcast() {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-tick.C:
		}

		b, err := json.Marshal(s.sample())
		if err != nil {
			s.log.Warn("stats marshal failed", zap.Error(err))
			continue
		}

		s.mu.Lock()
		for ch := range s.subs {
			select {
			case ch <- b:
			default:
				// Subscriber is behind; it catches the next sample.
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) subscribe() chan []byte {
	ch := make(chan []byte, 4)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	s.mu.Unlock()
}

// Handler upgrades the request and streams snapshots until the client
// disconnects. Inbound messages are read and discarded to service pings.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		out := s.subscribe()
		defer s.unsubscribe(out)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}
}
