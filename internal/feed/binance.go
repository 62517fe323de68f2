package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/metrics"
	"github.com/betbot/snipebot/pkg/logger"
)

const (
	binanceWSBase  = "wss://stream.binance.com:9443/stream?streams="
	reconnectDelay = 2 * time.Second
	readDeadline   = 45 * time.Second
)

// binanceEnvelope combined stream 外层结构
type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// binanceAggTrade aggTrade 消息
type binanceAggTrade struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	TimeMS int64  `json:"T"`
}

// BinanceFeed Binance 现货 aggTrade 行情源
//
// 通过 combined stream 订阅多个交易对，成交价写入 PriceBook 与波动率
// 采样器。断线后 2s 重连，不向上层抛错。
type BinanceFeed struct {
	symbols []string
	book    *PriceBook
	vol     *VolTracker
	log     *logrus.Entry
}

func NewBinanceFeed(symbols []string, book *PriceBook, vol *VolTracker) *BinanceFeed {
	return &BinanceFeed{
		symbols: symbols,
		book:    book,
		vol:     vol,
		log:     logger.WithField("component", "binance_feed"),
	}
}

func (f *BinanceFeed) streamURL() string {
	parts := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		parts = append(parts, strings.ToLower(s)+"@aggTrade")
	}
	return binanceWSBase + strings.Join(parts, "/")
}

// Run 阻塞运行直到 ctx 取消
func (f *BinanceFeed) Run(ctx context.Context) {
	url := f.streamURL()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f.log.Infof("连接 Binance 行情源: %s", strings.Join(f.symbols, ","))
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			f.log.Warnf("连接失败: %v，%s 后重试", err, reconnectDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
				continue
			}
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
			return nil
		})

		err = f.readLoop(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		metrics.FeedReconnects.Add(1)
		f.log.Warnf("行情断开: %v，%s 后重连", err, reconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (f *BinanceFeed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		var env binanceEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}
		var trade binanceAggTrade
		if err := json.Unmarshal(env.Data, &trade); err != nil {
			continue
		}
		price, err := strconv.ParseFloat(trade.Price, 64)
		if err != nil || price <= 0 {
			continue
		}

		now := time.Now()
		symbol := strings.ToUpper(trade.Symbol)
		f.book.Update(symbol, price, now)
		if f.vol != nil {
			f.vol.Observe(symbol, price, now)
		}
	}
}
