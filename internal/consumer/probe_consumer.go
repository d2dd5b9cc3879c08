package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"haccp-core/common/mqtt"
	"haccp-core/internal/domain"
	"haccp-core/internal/service"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅
type Subscriber interface {
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Recorder 记录监控
type Recorder interface {
	RecordMonitoringLog(ctx context.Context, req service.RecordMonitoringLogRequest) (*service.RecordMonitoringLogResponse, error)
}

// ProbeReading 探头上报的一次测量
// 主题格式: haccp/probe/{ccp_id}/reading
type ProbeReading struct {
	MeasuredValue        *float64       `json:"measured_value"`
	Unit                 string         `json:"unit,omitempty"`
	BatchID              string         `json:"batch_id,omitempty"`
	EquipmentID          string         `json:"equipment_id,omitempty"`
	UserID               string         `json:"user_id,omitempty"`
	AdditionalParameters map[string]any `json:"additional_parameters,omitempty"`
	// Timestamp Unix 秒，0 表示使用接收时间
	Timestamp int64 `json:"timestamp,omitempty"`
}

// ProbeConfig 探头消费配置
type ProbeConfig struct {
	Topic string `yaml:"topic"`
	// ServiceUserID 探头网关使用的账户，报文未带 user_id 时以该账户代录
	ServiceUserID string        `yaml:"service_user_id"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ProbeConsumer 订阅探头读数并写入监控记录
type ProbeConsumer struct {
	config   ProbeConfig
	mqtt     Subscriber
	recorder Recorder
	logger   *zap.Logger
}

// NewProbeConsumer 创建探头消费者
func NewProbeConsumer(cfg ProbeConfig, sub Subscriber, recorder Recorder, logger *zap.Logger) *ProbeConsumer {
	if cfg.Topic == "" {
		cfg.Topic = "haccp/probe/+/reading"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ProbeConsumer{
		config:   cfg,
		mqtt:     sub,
		recorder: recorder,
		logger:   logger,
	}
}

// Start 订阅并阻塞到 ctx 取消
func (c *ProbeConsumer) Start(ctx context.Context) error {
	if err := c.mqtt.Subscribe(c.config.Topic, c.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to probe topic: %w", err)
	}
	c.logger.Info("Probe consumer started", zap.String("topic", c.config.Topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *ProbeConsumer) Stop() {
	if err := c.mqtt.Unsubscribe(c.config.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("Probe consumer stopped")
}

// HandleMessage 处理一条探头读数
func (c *ProbeConsumer) HandleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[1] != "probe" || parts[2] == "" {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	ccpID := parts[2]

	var reading ProbeReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return fmt.Errorf("failed to unmarshal probe reading: %w", err)
	}
	if reading.MeasuredValue == nil {
		return fmt.Errorf("probe reading for ccp %s has no measured_value", ccpID)
	}

	req := service.RecordMonitoringLogRequest{
		CCPID:                ccpID,
		MeasuredValue:        *reading.MeasuredValue,
		Unit:                 reading.Unit,
		AdditionalParameters: reading.AdditionalParameters,
		UserID:               reading.UserID,
		Observations:         "recorded by probe " + topic,
	}
	if req.UserID == "" {
		req.UserID = c.config.ServiceUserID
		req.AllowOverride = true
	}
	if reading.BatchID != "" {
		req.BatchID = &reading.BatchID
	}
	if reading.EquipmentID != "" {
		req.EquipmentID = &reading.EquipmentID
	}
	if reading.Timestamp > 0 {
		at := time.Unix(reading.Timestamp, 0).UTC()
		req.MonitoredAt = &at
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	resp, err := c.recorder.RecordMonitoringLog(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAuthorization) || errors.Is(err, domain.ErrPrecondition) {
			c.logger.Warn("Probe reading rejected",
				zap.String("ccp_id", ccpID),
				zap.String("user_id", req.UserID),
				zap.Error(err),
			)
		}
		return fmt.Errorf("failed to record probe reading: %w", err)
	}

	fields := []zap.Field{
		zap.String("ccp_id", ccpID),
		zap.String("log_id", resp.Log.LogID),
		zap.Float64("measured_value", resp.Log.MeasuredValue),
		zap.Bool("is_within_limits", resp.Log.IsWithinLimits),
	}
	if !resp.Log.IsWithinLimits {
		fields = append(fields,
			zap.Bool("alert_created", resp.AlertCreated),
			zap.Bool("nc_created", resp.NCCreated),
			zap.Bool("batch_quarantined", resp.BatchQuarantined),
		)
	}
	c.logger.Info("Probe reading recorded", fields...)
	return nil
}
