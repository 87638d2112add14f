package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// BinanceWSSource streams mark prices from the Binance USDS-M futures
// combined stream endpoint. It subscribes to {symbol}@markPrice@1s for each
// configured symbol and reconnects with exponential backoff on disconnect.
type BinanceWSSource struct {
	baseURL string
	symbols []string
	onTick  TickHandler
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewBinanceWSSource creates a source that will stream mark prices for the
// given symbols (e.g. "BTCUSDT").
//
// baseURL is the combined-stream endpoint, e.g. "wss://fstream.binance.com/stream".
func NewBinanceWSSource(baseURL string, symbols []string, onTick TickHandler, logger *slog.Logger) *BinanceWSSource {
	return &BinanceWSSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		symbols: symbols,
		onTick:  onTick,
		logger:  logger.With(slog.String("component", "binance_ws")),
		done:    make(chan struct{}),
	}
}

// streamEnvelope is the combined-stream wrapper around each payload.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   markPriceUpdate `json:"data"`
}

// markPriceUpdate is the markPriceUpdate event payload.
type markPriceUpdate struct {
	EventType string          `json:"e"`
	Symbol    string          `json:"s"`
	MarkPrice decimal.Decimal `json:"p"`
	EventTime int64           `json:"E"`
}

// Run connects and streams ticks until ctx is cancelled or Close is called.
// Reconnects with backoff on disconnect.
func (s *BinanceWSSource) Run(ctx context.Context) error {
	if len(s.symbols) == 0 {
		s.logger.Info("no symbols to stream, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("binance ws disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *BinanceWSSource) runConnection(ctx context.Context) error {
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, strings.ToLower(sym)+"@markPrice@1s")
	}
	url := s.baseURL + "?streams=" + strings.Join(streams, "/")

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.logger.Info("binance ws connected", slog.Int("streams", len(streams)))

	// Close the connection when the context ends so the read loop unblocks.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-connCtx.Done():
		case <-s.done:
		}
		_ = conn.Close()
	}()
	go s.pingLoop(connCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}

		var env streamEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Warn("binance ws bad payload", slog.String("error", err.Error()))
			continue
		}
		if env.Data.EventType != "markPriceUpdate" || env.Data.Symbol == "" {
			continue
		}

		s.onTick(ctx, Tick{
			Symbol: env.Data.Symbol,
			Price:  env.Data.MarkPrice,
			At:     time.UnixMilli(env.Data.EventTime),
		})
	}
}

func (s *BinanceWSSource) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// Close stops the source.
func (s *BinanceWSSource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Compile-time interface check.
var _ PriceSource = (*BinanceWSSource)(nil)
