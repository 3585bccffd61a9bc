package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"VolBot/internal/domain/models"
	drepo "VolBot/internal/domain/repository"
	"VolBot/pkg/logger"
)

// Stream implements a MarketStream backed by the Binance kline WebSocket.
// Only closed candles are forwarded; in-progress kline updates are dropped.
type Stream struct {
	websocketURL   string
	symbol         string
	interval       string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subID     int
}

// NewStream creates a kline MarketStream for one symbol and interval.
func NewStream(websocketURL, symbol, interval string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) drepo.MarketStream {
	return &Stream{
		websocketURL:   websocketURL,
		symbol:         symbol,
		interval:       interval,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.log.Info("binance stream connected", logger.String("url", s.websocketURL))
	return nil
}

// Subscribe requests the kline stream for the configured symbol.
func (s *Stream) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	ok := s.connected
	s.subID++
	id := s.subID
	s.mu.Unlock()
	if conn == nil || !ok {
		return fmt.Errorf("binance stream not connected")
	}
	topic := fmt.Sprintf("%s@kline_%s", strings.ToLower(s.symbol), s.interval)
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{topic},
		"id":     id,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s.log.Info("binance stream subscribed", logger.String("topic", topic))
	return nil
}

type wsKline struct {
	StartTime int64  `json:"t"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

type wsKlineEvent struct {
	Event  string  `json:"e"`
	Symbol string  `json:"s"`
	Kline  wsKline `json:"k"`
}

// Read streams closed candles and errors. A read failure closes both
// channels and marks the stream disconnected so the caller's next connect
// attempt dials a fresh socket.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Candle, <-chan error) {
	candles := make(chan *models.Candle, 256)
	errs := make(chan error, 1)
	done := make(chan struct{})

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	// ping loop, stops with the read loop
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(candles)
		defer close(errs)
		defer close(done)
		if conn == nil {
			s.markDisconnected()
			errs <- fmt.Errorf("binance stream conn nil")
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			default:
				_, b, err := conn.ReadMessage()
				if err != nil {
					s.markDisconnected()
					errs <- fmt.Errorf("binance stream read: %w", err)
					return
				}
				var ev wsKlineEvent
				if err := json.Unmarshal(b, &ev); err != nil {
					// ignore non-kline frames (subscribe acks etc.)
					continue
				}
				if ev.Event != "kline" || !ev.Kline.Closed {
					continue
				}
				c, err := parseKline(ev.Kline)
				if err != nil {
					s.log.Warn("dropping unparsable kline", logger.Error(err))
					continue
				}
				select {
				case candles <- c:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return candles, errs
}

func parseKline(k wsKline) (*models.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("kline open: %w", err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("kline high: %w", err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("kline low: %w", err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("kline close: %w", err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("kline volume: %w", err)
	}
	return &models.Candle{
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Timestamp: k.StartTime,
	}, nil
}

// Reconnect closes and reconnects, then resubscribes.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	time.Sleep(s.reconnectDelay)
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

// markDisconnected drops the dead socket so the next connect attempt dials
// again instead of reusing it.
func (s *Stream) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
