package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig configures the websocket price stream.
type StreamConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the reconnect backoff.
	MaxReconnectDelay time.Duration
	// ReadTimeout is the per-message read deadline.
	ReadTimeout time.Duration
	// MaxAge is the staleness cutoff for cached quotes.
	MaxAge time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		MaxAge:            DefaultMaxAge,
	}
}

// Stream is a websocket PriceOracle. It subscribes to price updates for a
// fixed set of mints and serves GetPrice from an in-memory cache guarded by
// a staleness cutoff. Reconnects with backoff and resubscribes on drop.
type Stream struct {
	endpoint string
	mints    []string
	config   StreamConfig
	now      func() time.Time

	mu     sync.RWMutex
	quotes map[string]Quote

	done chan struct{}
	wg   sync.WaitGroup
}

// NewStream creates a price stream for the given mints and starts its read
// loop. Close must be called to release the connection.
func NewStream(endpoint string, mints []string, config *StreamConfig) *Stream {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	s := &Stream{
		endpoint: endpoint,
		mints:    mints,
		config:   cfg,
		now:      time.Now,
		quotes:   make(map[string]Quote),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// GetPrice serves the cached price for mint, rejecting stale entries.
func (s *Stream) GetPrice(_ context.Context, mint string) (Quote, error) {
	s.mu.RLock()
	q, ok := s.quotes[mint]
	s.mu.RUnlock()

	if !ok {
		return Quote{}, ErrPriceUnavailable
	}
	if s.config.MaxAge > 0 && s.now().UnixMilli()-q.AsOfMs > s.config.MaxAge.Milliseconds() {
		return Quote{}, ErrPriceStale
	}
	return q, nil
}

// Close stops the read loop and waits for it to exit.
func (s *Stream) Close() {
	close(s.done)
	s.wg.Wait()
}

// priceUpdate is one streamed price message.
type priceUpdate struct {
	Mint   string  `json:"mint"`
	Price  float64 `json:"price"`
	AsOfMs int64   `json:"asOf"`
}

// subscribeRequest asks the feed for updates on a set of mints.
type subscribeRequest struct {
	Op    string   `json:"op"`
	Mints []string `json:"mints"`
}

func (s *Stream) run() {
	defer s.wg.Done()

	delay := s.config.ReconnectDelay
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.connectAndRead(); err != nil {
			log.Printf("[oracle] stream disconnected: %v (reconnect in %s)", err, delay)
		}

		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

func (s *Stream) connectAndRead() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Mints: s.mints}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		select {
		case <-s.done:
			return nil
		default:
		}

		if s.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var update priceUpdate
		if err := json.Unmarshal(msg, &update); err != nil {
			// Skip malformed frames; the feed interleaves heartbeats.
			continue
		}
		if update.Mint == "" || update.Price <= 0 {
			continue
		}
		if update.AsOfMs == 0 {
			update.AsOfMs = s.now().UnixMilli()
		}

		s.mu.Lock()
		s.quotes[update.Mint] = Quote{Price: update.Price, AsOfMs: update.AsOfMs}
		s.mu.Unlock()
	}
}
