package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/logger"
)

// winnerThreshold 结果价高于该值即认定该方向为赢家
const winnerThreshold = 0.9

// resolutionDTO 结算查询响应
type resolutionDTO struct {
	Slug          string `json:"slug"`
	Closed        bool   `json:"closed"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
}

// snapshotDTO 结算源开盘价快照
type snapshotDTO struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// OracleClient 结算预言机客户端
//
// 两个职责：查询已到期窗口的赢家，以及窗口开盘时刻的结算源价格
// （行权价的第一优先来源）。
type OracleClient struct {
	gamma *Client
	snap  *Client
	log   *logrus.Entry
}

func NewOracleClient(gammaURL, snapshotURL string) *OracleClient {
	return &OracleClient{
		gamma: NewClient(gammaURL),
		snap:  NewClient(snapshotURL),
		log:   logger.WithField("component", "oracle"),
	}
}

// Winner 查询市场赢家。未定出结果时 decided=false（不报错，等下轮）。
func (o *OracleClient) Winner(ctx context.Context, slug string) (winner domain.Side, decided bool, err error) {
	var dtos []resolutionDTO
	if err := o.gamma.Get(ctx, "/markets", map[string]string{"slug": slug}, &dtos); err != nil {
		return "", false, errors.Wrap(err, "query resolution")
	}
	if len(dtos) == 0 {
		return "", false, errors.Errorf("market %s not found", slug)
	}
	dto := dtos[0]

	var outcomes, prices []string
	if err := json.Unmarshal([]byte(dto.Outcomes), &outcomes); err != nil {
		return "", false, errors.Wrap(err, "parse outcomes")
	}
	if err := json.Unmarshal([]byte(dto.OutcomePrices), &prices); err != nil {
		return "", false, errors.Wrap(err, "parse outcome prices")
	}
	if len(outcomes) != len(prices) {
		return "", false, errors.Errorf("outcome/price arity mismatch: %d/%d", len(outcomes), len(prices))
	}

	for i, o := range outcomes {
		p, perr := strconv.ParseFloat(prices[i], 64)
		if perr != nil {
			continue
		}
		if p > winnerThreshold {
			side, serr := domain.ParseSide(strings.ToLower(o))
			if serr != nil {
				return "", false, serr
			}
			return side, true, nil
		}
	}
	return "", false, nil
}

// OpenPrice 查询窗口开始时刻的结算源价格；快照缺失时返回 (0, nil)
func (o *OracleClient) OpenPrice(ctx context.Context, feedSymbol string, openTime time.Time) (float64, error) {
	var dto snapshotDTO
	err := o.snap.Get(ctx, "/open-price", map[string]string{
		"symbol":    feedSymbol,
		"timestamp": strconv.FormatInt(openTime.Unix(), 10),
	}, &dto)
	if err != nil {
		o.log.Debugf("开盘价快照不可用 %s@%d: %v", feedSymbol, openTime.Unix(), err)
		return 0, nil
	}
	if dto.Price <= 0 {
		return 0, nil
	}
	return dto.Price, nil
}
