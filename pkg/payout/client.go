package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// Config HTTP 渠道配置
type Config struct {
	Endpoint   string
	MchID      string
	AppID      string
	APIKey     string
	Timeout    time.Duration // 单次 HTTP 请求超时
	MaxRetries uint64        // 网络错误/5xx 的重试次数
}

// Client HTTP JSON 打款渠道客户端
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient 创建渠道客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("payout: endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type transferBody struct {
	MchID     string `json:"mch_id"`
	AppID     string `json:"app_id"`
	OutBillNo string `json:"out_bill_no"`
	Amount    int64  `json:"amount"` // 单位：分
	Method    string `json:"method"`
	Name      string `json:"name"`
	AccountNo string `json:"account_no,omitempty"`
	BankName  string `json:"bank_name,omitempty"`
	OpenID    string `json:"openid,omitempty"`
	Remark    string `json:"remark,omitempty"`
}

type transferResponse struct {
	OutBillNo    string `json:"out_bill_no"`
	TransferID   string `json:"transfer_id"`
	Status       string `json:"status"`
	ActualAmount *int64 `json:"actual_amount,omitempty"` // 单位：分
	Fee          *int64 `json:"fee,omitempty"`
	FailReason   string `json:"fail_reason,omitempty"`
}

// Transfer 发起转账
func (c *Client) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	body := &transferBody{
		MchID:     c.config.MchID,
		AppID:     c.config.AppID,
		OutBillNo: req.OutBillNo,
		Amount:    ToFen(req.Amount),
		Method:    req.Method,
		Name:      req.Account.Name,
		AccountNo: req.Account.AccountNo,
		BankName:  req.Account.BankName,
		OpenID:    req.Account.OpenID,
		Remark:    req.Remark,
	}
	var resp transferResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", body, &resp); err != nil {
		return nil, err
	}
	return resp.result(), nil
}

// QueryTransfer 按单号查询
func (c *Client) QueryTransfer(ctx context.Context, outBillNo string) (*TransferResult, error) {
	var resp transferResponse
	path := "/v1/transfers/" + url.PathEscape(outBillNo) + "?mch_id=" + url.QueryEscape(c.config.MchID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.result(), nil
}

func (r *transferResponse) result() *TransferResult {
	res := &TransferResult{
		OutBillNo:  r.OutBillNo,
		TransferID: r.TransferID,
		Status:     strings.ToUpper(r.Status),
		FailReason: r.FailReason,
	}
	if r.ActualAmount != nil {
		v := FromFen(*r.ActualAmount)
		res.ActualAmount = &v
	}
	if r.Fee != nil {
		v := FromFen(*r.Fee)
		res.Fee = &v
	}
	return res
}

// do 发送请求，网络错误和 5xx 按指数退避重试；请求按单号幂等，重试安全
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var raw []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("payout: marshal request: %w", err)
		}
		raw = b
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackOff(), c.config.MaxRetries),
		ctx,
	)

	return backoff.Retry(func() error {
		var body io.Reader
		if raw != nil {
			body = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.Endpoint, "/")+path, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("payout: create request: %w", err))
		}
		// 设置请求头
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		req.Header.Set("X-Mch-Id", c.config.MchID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("payout: send request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("payout: read response: %w", err)
		}

		// 4xx 不重试，由调用方判断是否被拒绝
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrTransferNotFound)
		case resp.StatusCode >= 500:
			return fmt.Errorf("payout: server error %d: %s", resp.StatusCode, truncate(data))
		case resp.StatusCode >= 400:
			return backoff.Permanent(&RequestError{StatusCode: resp.StatusCode, Body: truncate(data)})
		}

		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("payout: decode response: %w", err))
		}
		return nil
	}, policy)
}

// RequestError 渠道拒绝请求（4xx），重试无意义
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("payout: request rejected %d: %s", e.StatusCode, e.Body)
}

// Rejected 渠道明确拒绝受理该转账，可视为打款失败
//
// 401/409/429 等只说明本次请求未被处理，不能据此判断转账未发生。
func (e *RequestError) Rejected() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}

// ToFen 元转分
func ToFen(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromFen 分转元
func FromFen(fen int64) decimal.Decimal {
	return decimal.New(fen, -2)
}
