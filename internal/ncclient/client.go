package ncclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"haccp-core/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// CreatePath 不符合项创建接口
const CreatePath = "/api/v1/non-conformances"

// Config 不符合项服务连接参数
type Config struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	RetryWaitTime time.Duration `yaml:"retry_wait_time"`
}

// Client 外部不符合项（NC）服务客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// errorBody 服务端错误响应
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewClient 创建客户端；5xx 和网络错误会重试
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWaitTime <= 0 {
		cfg.RetryWaitTime = 500 * time.Millisecond
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetRetryMaxWaitTime(5*cfg.RetryWaitTime).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Client{httpClient: client, logger: logger}
}

// OpenNonConformance 实现 deviation.NCOpener
// 以监控记录 ID 作为 Idempotency-Key，重试不会重复开立
func (c *Client) OpenNonConformance(ctx context.Context, req domain.NonConformanceRequest) (*domain.NonConformance, error) {
	var nc domain.NonConformance
	var apiErr errorBody
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.MonitoringLogID).
		SetBody(req).
		SetResult(&nc).
		SetError(&apiErr).
		Post(CreatePath)
	if err != nil {
		c.logger.Error("Non-conformance API call failed",
			zap.String("monitoring_log_id", req.MonitoringLogID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to call non-conformance API: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		if msg == "" {
			msg = resp.Status()
		}
		c.logger.Error("Non-conformance API returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", msg),
		)
		return nil, fmt.Errorf("non-conformance API error: %s (status: %d)", msg, resp.StatusCode())
	}
	if nc.NCID == "" {
		return nil, fmt.Errorf("non-conformance API returned no nc_id")
	}
	if nc.Severity == "" {
		nc.Severity = req.Severity
	}

	c.logger.Info("Non-conformance created",
		zap.String("nc_id", nc.NCID),
		zap.String("nc_number", nc.NCNumber),
		zap.String("severity", string(nc.Severity)),
	)
	return &nc, nil
}
