// Package exchange 封装交易所侧的全部 HTTP 面：市场发现、盘口、
// 订单网关、预言机结果与权威持仓。
package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/snipebot/pkg/ratelimit"
)

// requestsPerSecond 客户端侧请求节流；交易所官方限流为 150 请求/10 秒
const requestsPerSecond = 10

// Client resty 封装：统一超时、重试、429 限流退避与客户端侧节流
type Client struct {
	rc     *resty.Client
	bucket *ratelimit.TokenBucket
}

func NewClient(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 时优先尊重 Retry-After
			if resp.StatusCode() == 429 {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})
	rc.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return resp.StatusCode() == 429 || resp.StatusCode() >= 500
	})
	return &Client{
		rc:     rc,
		bucket: ratelimit.NewTokenBucket(requestsPerSecond, requestsPerSecond),
	}
}

// Get 执行 GET 并把 2xx 响应解码到 out
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	if err := c.bucket.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(endpoint)
	return decode(resp, err, endpoint, out)
}

// Post 执行 POST（JSON body）并把 2xx 响应解码到 out
func (c *Client) Post(ctx context.Context, endpoint string, body any, out any) error {
	if err := c.bucket.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(endpoint)
	return decode(resp, err, endpoint, out)
}

// Delete 执行 DELETE
func (c *Client) Delete(ctx context.Context, endpoint string, out any) error {
	if err := c.bucket.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.rc.R().SetContext(ctx).Delete(endpoint)
	return decode(resp, err, endpoint, out)
}

func decode(resp *resty.Response, err error, endpoint string, out any) error {
	if err != nil {
		return errors.Wrapf(err, "request %s", endpoint)
	}
	if !resp.IsSuccess() {
		return errors.Errorf("request %s: http %d: %s", endpoint, resp.StatusCode(), truncate(resp.Body(), 256))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "decode %s response", endpoint)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
