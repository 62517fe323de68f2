package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/logger"
)

// marketDTO 市场发现接口的响应
type marketDTO struct {
	Slug        string `json:"slug"`
	ConditionID string `json:"conditionId"`
	Question    string `json:"question"`
	Closed      bool   `json:"closed"`
	// JSON 编码的数组字符串，如 `["Up","Down"]` / `["123","456"]`
	Outcomes     string `json:"outcomes"`
	ClobTokenIDs string `json:"clobTokenIds"`
	EndDateISO   string `json:"endDateIso"`
}

// bookDTO 盘口快照响应（一档已排序）
type bookDTO struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// DiscoveryClient 市场发现客户端
//
// 按 slug（含窗口开始时间戳）查找当前结算窗口，并拉取双边盘口。
type DiscoveryClient struct {
	gamma *Client // 市场元数据
	clob  *Client // 盘口
	log   *logrus.Entry
}

func NewDiscoveryClient(gammaURL, clobURL string) *DiscoveryClient {
	return &DiscoveryClient{
		gamma: NewClient(gammaURL),
		clob:  NewClient(clobURL),
		log:   logger.WithField("component", "discovery"),
	}
}

// WindowSlug 品种在给定开始时间的市场 slug
func WindowSlug(inst *domain.Instrument, openTime time.Time) string {
	return fmt.Sprintf("%s-updown-%s-%d", inst.Symbol, inst.DurationTag, openTime.Unix())
}

// ParseWindowSlug 从市场 slug 还原窗口开始时间与周期。
// 对账重建的记录靠它补回到期时间。
func ParseWindowSlug(slug string) (openTime time.Time, duration time.Duration, err error) {
	parts := strings.Split(slug, "-")
	if len(parts) < 4 || parts[len(parts)-3] != "updown" {
		return time.Time{}, 0, errors.Errorf("unrecognized slug: %s", slug)
	}
	ts, perr := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if perr != nil {
		return time.Time{}, 0, errors.Wrapf(perr, "slug timestamp: %s", slug)
	}
	d, derr := time.ParseDuration(parts[len(parts)-2])
	if derr != nil || d <= 0 {
		return time.Time{}, 0, errors.Errorf("slug duration tag: %s", slug)
	}
	return time.Unix(ts, 0), d, nil
}

// FindWindow 查找窗口对应的市场；市场尚未创建时返回 (nil, nil)
func (d *DiscoveryClient) FindWindow(ctx context.Context, inst *domain.Instrument, openTime time.Time) (*domain.MarketWindow, error) {
	slug := WindowSlug(inst, openTime)

	var dtos []marketDTO
	if err := d.gamma.Get(ctx, "/markets", map[string]string{"slug": slug}, &dtos); err != nil {
		return nil, errors.Wrap(err, "find window")
	}
	if len(dtos) == 0 {
		return nil, nil
	}
	dto := dtos[0]

	upID, downID, err := parseTokenIDs(dto.Outcomes, dto.ClobTokenIDs)
	if err != nil {
		return nil, errors.Wrapf(err, "market %s", slug)
	}

	w := &domain.MarketWindow{
		Slug:        dto.Slug,
		WindowID:    inst.WindowID(openTime),
		Instrument:  inst,
		UpAssetID:   upID,
		DownAssetID: downID,
		ConditionID: dto.ConditionID,
		OpenTime:    openTime,
		ExpiryTime:  openTime.Add(inst.Duration),
		State:       domain.WindowStateDiscovered,
	}
	if !w.IsValid() {
		return nil, errors.Errorf("market %s: incomplete metadata", slug)
	}
	return w, nil
}

// parseTokenIDs 把 outcomes 与 token 数组按位对齐，取出 Up/Down token
func parseTokenIDs(outcomesJSON, tokensJSON string) (up, down string, err error) {
	var outcomes, tokens []string
	if err := json.Unmarshal([]byte(outcomesJSON), &outcomes); err != nil {
		return "", "", errors.Wrap(err, "parse outcomes")
	}
	if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
		return "", "", errors.Wrap(err, "parse token ids")
	}
	if len(outcomes) != len(tokens) || len(outcomes) != 2 {
		return "", "", errors.Errorf("unexpected outcome arity: %d/%d", len(outcomes), len(tokens))
	}
	// 线上 outcome 首字母大写（"Up"/"Down"），入域前统一小写
	for i, o := range outcomes {
		side, perr := domain.ParseSide(strings.ToLower(o))
		if perr != nil {
			return "", "", errors.Wrapf(perr, "outcome %q", o)
		}
		if side == domain.SideUp {
			up = tokens[i]
		} else {
			down = tokens[i]
		}
	}
	if up == "" || down == "" {
		return "", "", errors.New("missing up/down token id")
	}
	return up, down, nil
}

// Book 拉取单个 token 的盘口一档
func (d *DiscoveryClient) Book(ctx context.Context, assetID string) (domain.BookTop, error) {
	var dto bookDTO
	if err := d.clob.Get(ctx, "/book", map[string]string{"token_id": assetID}, &dto); err != nil {
		return domain.BookTop{}, errors.Wrap(err, "fetch book")
	}

	top := domain.BookTop{UpdatedAt: time.Now()}
	// bids 升序、asks 降序返回，最优档在末尾
	if len(dto.Bids) > 0 {
		lvl := dto.Bids[len(dto.Bids)-1]
		top.Bid, top.BidSize = parseLevel(lvl)
	}
	if len(dto.Asks) > 0 {
		lvl := dto.Asks[len(dto.Asks)-1]
		top.Ask, top.AskSize = parseLevel(lvl)
	}
	return top, nil
}

func parseLevel(lvl bookLevel) (domain.Price, float64) {
	p, err1 := strconv.ParseFloat(lvl.Price, 64)
	s, err2 := strconv.ParseFloat(lvl.Size, 64)
	if err1 != nil || err2 != nil || p <= 0 {
		return domain.Price{}, 0
	}
	return domain.PriceFromDecimal(p), s
}

// Quote 拉取窗口双边盘口
func (d *DiscoveryClient) Quote(ctx context.Context, w *domain.MarketWindow) (*domain.WindowQuote, error) {
	up, err := d.Book(ctx, w.UpAssetID)
	if err != nil {
		return nil, err
	}
	down, err := d.Book(ctx, w.DownAssetID)
	if err != nil {
		return nil, err
	}
	return &domain.WindowQuote{WindowID: w.WindowID, Up: up, Down: down}, nil
}
