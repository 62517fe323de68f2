package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/pkg/logger"
)

const (
	dvolBaseURL      = "https://www.deribit.com/api/v2"
	dvolPollInterval = 60 * time.Second
	dvolStaleAfter   = 5 * time.Minute
)

// dvolResponse get_volatility_index_data 响应
type dvolResponse struct {
	Result struct {
		// 每条 candle: [ts, open, high, low, close]
		Data [][]float64 `json:"data"`
	} `json:"result"`
}

// DVOLFeed Deribit DVOL 隐含波动率快照
//
// 周期拉取 DVOL 指数，换算为小数年化波动率（DVOL 80 → 0.80）。
// 只覆盖 Deribit 有指数的币种，其余交易对返回 ok=false。
type DVOLFeed struct {
	client *resty.Client
	log    *logrus.Entry

	mu        sync.RWMutex
	vols      map[string]float64 // 币种（BTC/ETH）→ 年化波动率
	updatedAt map[string]time.Time
}

func NewDVOLFeed() *DVOLFeed {
	return &DVOLFeed{
		client: resty.New().
			SetBaseURL(dvolBaseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2),
		log:       logger.WithField("component", "dvol_feed"),
		vols:      make(map[string]float64),
		updatedAt: make(map[string]time.Time),
	}
}

// currencyFor 从行情交易对推出 Deribit 币种；不支持的返回空串
func currencyFor(symbol string) string {
	s := strings.ToUpper(symbol)
	switch {
	case strings.HasPrefix(s, "BTC"):
		return "BTC"
	case strings.HasPrefix(s, "ETH"):
		return "ETH"
	default:
		return ""
	}
}

// Run 阻塞轮询直到 ctx 取消
func (d *DVOLFeed) Run(ctx context.Context, symbols []string) {
	currencies := make(map[string]bool)
	for _, s := range symbols {
		if c := currencyFor(s); c != "" {
			currencies[c] = true
		}
	}
	if len(currencies) == 0 {
		d.log.Info("无支持 DVOL 的币种，隐含波动率源停用")
		return
	}

	ticker := time.NewTicker(dvolPollInterval)
	defer ticker.Stop()

	for {
		for c := range currencies {
			d.poll(ctx, c)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *DVOLFeed) poll(ctx context.Context, currency string) {
	end := time.Now()
	start := end.Add(-10 * time.Minute)

	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"currency":        currency,
			"resolution":      "60",
			"start_timestamp": formatMS(start),
			"end_timestamp":   formatMS(end),
		}).
		Get("/public/get_volatility_index_data")
	if err != nil {
		d.log.Warnf("DVOL 拉取失败 %s: %v", currency, err)
		return
	}

	var body dvolResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil || len(body.Result.Data) == 0 {
		return
	}
	last := body.Result.Data[len(body.Result.Data)-1]
	if len(last) < 5 || last[4] <= 0 {
		return
	}

	d.mu.Lock()
	d.vols[currency] = last[4] / 100.0
	d.updatedAt[currency] = time.Now()
	d.mu.Unlock()
}

// ImpliedVol 实现 ImpliedSource
func (d *DVOLFeed) ImpliedVol(symbol string) (float64, bool) {
	c := currencyFor(symbol)
	if c == "" {
		return 0, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	at, ok := d.updatedAt[c]
	if !ok || time.Since(at) > dvolStaleAfter {
		return 0, false
	}
	return d.vols[c], true
}

func formatMS(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
