package exchange

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/logger"
)

// OrderStatus 网关侧订单状态
type OrderStatus string

const (
	OrderStatusMatched  OrderStatus = "matched"  // 已成交
	OrderStatusLive     OrderStatus = "live"     // 挂在盘口（FOK 下不应出现，视为未成交）
	OrderStatusRejected OrderStatus = "rejected" // 被拒（FOK 无法全部成交）
	OrderStatusCanceled OrderStatus = "canceled"
)

// Filled 该状态是否代表已获得仓位
func (s OrderStatus) Filled() bool {
	return s == OrderStatusMatched
}

// OrderRequest FOK 买单请求
type OrderRequest struct {
	AssetID string
	Price   domain.Price // 限价（taker 时为可接受的最差价）
	Tokens  float64      // 整数 token 数
}

// OrderResult 下单/查询结果
type OrderResult struct {
	OrderID      string
	Status       OrderStatus
	FilledTokens float64
	AvgPrice     float64
}

// OrderGateway 订单网关
type OrderGateway interface {
	// SubmitFOK 提交 FOK 买单。交易所明确拒单不是 error：
	// 返回 Status=rejected，error 留给网络/协议失败。
	SubmitFOK(ctx context.Context, req *OrderRequest) (*OrderResult, error)
	Cancel(ctx context.Context, orderID string) error
	Order(ctx context.Context, orderID string) (*OrderResult, error)
}

// orderDTO CLOB 下单接口的请求/响应
type orderDTO struct {
	OrderID  string  `json:"orderId"`
	Status   string  `json:"status"`
	ErrorMsg string  `json:"errorMsg"`
	AvgPrice float64 `json:"avgPrice"`
}

// placeOrderBody 价格与数量按十进制字符串上送，float 序列化会带出
// 0.30000000000000004 这类尾巴，交易所侧直接拒单
type placeOrderBody struct {
	TokenID     string `json:"token_id"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	TimeInForce string `json:"time_in_force"`
	ClientID    string `json:"client_id"`
}

// HTTPGateway CLOB REST 订单网关
type HTTPGateway struct {
	c   *Client
	log *logrus.Entry
}

func NewHTTPGateway(clobURL string) *HTTPGateway {
	return &HTTPGateway{
		c:   NewClient(clobURL),
		log: logger.WithField("component", "gateway"),
	}
}

func (g *HTTPGateway) SubmitFOK(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	body := placeOrderBody{
		TokenID:     req.AssetID,
		Side:        "BUY",
		Price:       decimal.New(int64(req.Price.Pips), -4).String(),
		Size:        decimal.NewFromFloat(req.Tokens).String(),
		TimeInForce: "FOK",
		ClientID:    uuid.NewString(),
	}

	var dto orderDTO
	if err := g.c.Post(ctx, "/order", body, &dto); err != nil {
		return nil, errors.Wrap(err, "submit order")
	}

	res := &OrderResult{
		OrderID:  dto.OrderID,
		Status:   normalizeStatus(dto.Status),
		AvgPrice: dto.AvgPrice,
	}
	if res.Status == OrderStatusMatched {
		res.FilledTokens = req.Tokens
		if res.AvgPrice <= 0 {
			res.AvgPrice = req.Price.ToDecimal()
		}
	}
	if res.Status == OrderStatusRejected && dto.ErrorMsg != "" {
		g.log.Debugf("订单被拒: %s", dto.ErrorMsg)
	}
	return res, nil
}

func (g *HTTPGateway) Cancel(ctx context.Context, orderID string) error {
	return g.c.Delete(ctx, "/order/"+orderID, nil)
}

func (g *HTTPGateway) Order(ctx context.Context, orderID string) (*OrderResult, error) {
	var dto orderDTO
	if err := g.c.Get(ctx, "/order/"+orderID, nil, &dto); err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	return &OrderResult{
		OrderID:  dto.OrderID,
		Status:   normalizeStatus(dto.Status),
		AvgPrice: dto.AvgPrice,
	}, nil
}

func normalizeStatus(s string) OrderStatus {
	switch s {
	case "matched", "MATCHED", "filled", "FILLED":
		return OrderStatusMatched
	case "live", "LIVE", "open", "OPEN":
		return OrderStatusLive
	case "canceled", "CANCELED", "cancelled":
		return OrderStatusCanceled
	default:
		return OrderStatusRejected
	}
}

// QuoteFunc 纸面撮合用的盘口来源
type QuoteFunc func(assetID string) (domain.BookTop, bool)

// PaperGateway 纸面网关：不触网，按盘口一档模拟 FOK 撮合。
// 卖一价不超过限价且量足够则全部成交，否则拒单。
type PaperGateway struct {
	quote QuoteFunc
	log   *logrus.Entry
	seq   atomic.Int64
}

func NewPaperGateway(quote QuoteFunc) *PaperGateway {
	return &PaperGateway{
		quote: quote,
		log:   logger.WithField("component", "paper_gateway"),
	}
}

func (g *PaperGateway) SubmitFOK(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	id := fmt.Sprintf("paper-%d", g.seq.Add(1))

	top, ok := g.quote(req.AssetID)
	if !ok || !top.HasAsk() || top.Ask.GreaterThan(req.Price) || top.AskSize < req.Tokens {
		g.log.Infof("[纸面] 拒单 %s: %d tokens @ <=%.4f", req.AssetID, int(req.Tokens), req.Price.ToDecimal())
		return &OrderResult{OrderID: id, Status: OrderStatusRejected}, nil
	}

	g.log.Infof("[纸面] 成交 %s: %d tokens @ %.4f", req.AssetID, int(req.Tokens), top.Ask.ToDecimal())
	return &OrderResult{
		OrderID:      id,
		Status:       OrderStatusMatched,
		FilledTokens: req.Tokens,
		AvgPrice:     top.Ask.ToDecimal(),
	}, nil
}

func (g *PaperGateway) Cancel(ctx context.Context, orderID string) error { return nil }

func (g *PaperGateway) Order(ctx context.Context, orderID string) (*OrderResult, error) {
	return nil, errors.Errorf("paper order %s not tracked", orderID)
}
