package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/events"
	"github.com/avramidis/skopos/internal/metrics"
)

const (
	dialTimeout          = 30 * time.Second
	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// Subscription names one kline stream to follow.
type Subscription struct {
	Symbol    string
	Timeframe string
}

// ParseSubscriptions parses "SYMBOL:timeframe" entries, e.g. "BTCUSDT:1m".
func ParseSubscriptions(entries []string) ([]Subscription, error) {
	subs := make([]Subscription, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("binance: subscription %q must be SYMBOL:timeframe", entry)
		}
		if !supportedIntervals[parts[1]] {
			return nil, fmt.Errorf("binance: subscription %q uses unsupported interval %q", entry, parts[1])
		}
		subs = append(subs, Subscription{
			Symbol:    strings.ToUpper(parts[0]),
			Timeframe: parts[1],
		})
	}
	return subs, nil
}

// Stream follows Binance kline streams and publishes a BarClosed event
// for every closed candle. Cache refresh happens downstream, on the bus.
type Stream struct {
	url     string
	subs    []Subscription
	bus     *events.Bus
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu           sync.RWMutex
	conn         *websocket.Conn
	connCtx      context.Context
	cancelFunc   context.CancelFunc
	connected    bool
	reconnecting bool
	stopped      bool
	stopChan     chan struct{}
}

// klineFrame is one message from a combined stream endpoint.
type klineFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Kline  struct {
			OpenTime int64  `json:"t"`
			Interval string `json:"i"`
			Open     string `json:"o"`
			Close    string `json:"c"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Volume   string `json:"v"`
			Final    bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

// NewStream creates a kline stream client.
func NewStream(cfg Config, subs []Subscription, bus *events.Bus, met *metrics.Metrics, log zerolog.Logger) *Stream {
	names := make([]string, 0, len(subs))
	for _, s := range subs {
		names = append(names, strings.ToLower(s.Symbol)+"@kline_"+s.Timeframe)
	}
	return &Stream{
		url:      cfg.StreamURL + "/stream?streams=" + strings.Join(names, "/"),
		subs:     subs,
		bus:      bus,
		metrics:  met,
		log:      log.With().Str("component", "binance_stream").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start opens the connection and launches the read loop. On initial
// failure the reconnect loop keeps trying in the background.
func (s *Stream) Start() error {
	if len(s.subs) == 0 {
		return fmt.Errorf("binance: stream started without subscriptions")
	}
	s.log.Info().Int("streams", len(s.subs)).Msg("Starting kline stream")

	if err := s.Connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, retrying in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readMessages(ctx)
	return nil
}

// Stop shuts the stream down for good.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Info().Msg("Stopping kline stream")
	close(s.stopChan)
	return s.Disconnect()
}

// Connect dials the combined stream endpoint.
func (s *Stream) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("binance: dialing stream: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	connCtx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = cancel
	s.connected = true
	s.metrics.SetStreamConnected(true)

	s.log.Info().Msg("Kline stream connected")
	return nil
}

// Disconnect closes the current connection.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	s.connected = false
	s.metrics.SetStreamConnected(false)

	if err != nil {
		return fmt.Errorf("binance: closing stream: %w", err)
	}
	return nil
}

// Connected reports the connection state.
func (s *Stream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Stream) readMessages(ctx context.Context) {
	defer func() {
		s.metrics.SetStreamConnected(false)
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				s.log.Info().Int("status", int(status)).Msg("Stream closed normally")
			case ctx.Err() != nil:
				s.log.Debug().Msg("Stream read cancelled")
			default:
				s.log.Error().Err(err).Msg("Stream read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if err := s.handleMessage(message); err != nil {
			s.log.Error().Err(err).Msg("Dropped unreadable stream message")
		}
	}
}

// handleMessage parses one frame. Only closed candles produce events;
// in-progress updates are ignored.
func (s *Stream) handleMessage(message []byte) error {
	var frame klineFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return fmt.Errorf("binance: parsing stream frame: %w", err)
	}
	if frame.Data.Event != "kline" || !frame.Data.Kline.Final {
		return nil
	}

	k := frame.Data.Kline
	bar, err := parseStreamKline(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return fmt.Errorf("binance: kline %s %s: %w", frame.Data.Symbol, k.Interval, err)
	}
	if err := bar.Validate(); err != nil {
		return fmt.Errorf("binance: kline %s %s: %w", frame.Data.Symbol, k.Interval, err)
	}

	symbol := strings.ToUpper(frame.Data.Symbol)
	s.log.Debug().
		Str("symbol", symbol).
		Str("interval", k.Interval).
		Int64("open_time", bar.Timestamp).
		Msg("Bar closed")

	if s.bus != nil {
		s.bus.Publish(&events.BarClosedData{Symbol: symbol, Timeframe: k.Interval, Bar: bar})
	}
	return nil
}

func (s *Stream) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := backoffDelay(attempt)
		if attempt <= maxReconnectAttempts {
			s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting stream")
		} else {
			s.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Still reconnecting stream")
		}

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.Connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnect failed")
			continue
		}

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readMessages(ctx)
		return
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

func parseStreamKline(openTime int64, open, high, low, closePrice, volume string) (domain.Bar, error) {
	parse := func(name, s string) (float64, error) {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s %q: %w", name, s, err)
		}
		return v, nil
	}

	o, err := parse("open", open)
	if err != nil {
		return domain.Bar{}, err
	}
	h, err := parse("high", high)
	if err != nil {
		return domain.Bar{}, err
	}
	l, err := parse("low", low)
	if err != nil {
		return domain.Bar{}, err
	}
	c, err := parse("close", closePrice)
	if err != nil {
		return domain.Bar{}, err
	}
	v, err := parse("volume", volume)
	if err != nil {
		return domain.Bar{}, err
	}

	return domain.Bar{Timestamp: openTime, Open: o, High: h, Low: l, Close: c, Volume: v}, nil
}
