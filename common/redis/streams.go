package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"haccp-core/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// NewRedisClient 创建Redis客户端
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping 测试Redis连接
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// StreamOptions Streams 发布参数
type StreamOptions struct {
	// MaxLen > 0 时使用近似裁剪（XADD MAXLEN ~）
	MaxLen int64
}

// PublishToStream 发布消息到 Redis Streams，所有值转换为字符串
func PublishToStream(ctx context.Context, client *redis.Client, stream string, values map[string]interface{}, opts StreamOptions) (string, error) {
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		s, err := stringify(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode stream field %s: %w", k, err)
		}
		streamValues[k] = s
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: streamValues,
	}
	if opts.MaxLen > 0 {
		args.MaxLen = opts.MaxLen
		args.Approx = true
	}
	return client.XAdd(ctx, args).Result()
}

// PublishJSONToStream 发布 JSON 消息到 Redis Streams（字段：type / data / timestamp）
func PublishJSONToStream(ctx context.Context, client *redis.Client, stream, msgType string, data interface{}, opts StreamOptions) (string, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return PublishToStream(ctx, client, stream, map[string]interface{}{
		"type":      msgType,
		"data":      jsonBytes,
		"timestamp": time.Now().Unix(),
	}, opts)
}

func stringify(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
