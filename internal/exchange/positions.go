package exchange

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/logger"
)

// positionDTO 持仓查询接口的单行响应
type positionDTO struct {
	Asset       string  `json:"asset"`
	ConditionID string  `json:"conditionId"`
	Slug        string  `json:"slug"`
	Outcome     string  `json:"outcome"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avgPrice"`
	Redeemable  bool    `json:"redeemable"`
}

// ExchangePosition 交易所口径的权威持仓，对账时与本地未决记录比对
type ExchangePosition struct {
	AssetID     string
	ConditionID string
	Slug        string
	Side        domain.Side
	Tokens      float64
	AvgPrice    float64
	Redeemable  bool
}

// Key 对账匹配键（slug:side）
func (p *ExchangePosition) Key() string {
	return p.Slug + ":" + string(p.Side)
}

// DataAPIClient 账户数据客户端（持仓查询）
type DataAPIClient struct {
	c    *Client
	user string
	log  *logrus.Entry
}

func NewDataAPIClient(baseURL, userAddress string) *DataAPIClient {
	return &DataAPIClient{
		c:    NewClient(baseURL),
		user: userAddress,
		log:  logger.WithField("component", "data_api"),
	}
}

// Positions 查询账户全部持仓。
// 个别行 outcome 不可解析时跳过并告警，不让整轮对账失败。
func (d *DataAPIClient) Positions(ctx context.Context) ([]*ExchangePosition, error) {
	var dtos []positionDTO
	err := d.c.Get(ctx, "/positions", map[string]string{
		"user":          d.user,
		"sizeThreshold": "0.1",
	}, &dtos)
	if err != nil {
		return nil, errors.Wrap(err, "fetch positions")
	}

	out := make([]*ExchangePosition, 0, len(dtos))
	for _, dto := range dtos {
		if dto.Size <= 0 {
			continue
		}
		side, perr := domain.ParseSide(strings.ToLower(dto.Outcome))
		if perr != nil {
			d.log.Warnf("跳过未知 outcome 的持仓 %q (slug=%s)", dto.Outcome, dto.Slug)
			continue
		}
		out = append(out, &ExchangePosition{
			AssetID:     dto.Asset,
			ConditionID: dto.ConditionID,
			Slug:        dto.Slug,
			Side:        side,
			Tokens:      dto.Size,
			AvgPrice:    dto.AvgPrice,
			Redeemable:  dto.Redeemable,
		})
	}
	return out, nil
}
