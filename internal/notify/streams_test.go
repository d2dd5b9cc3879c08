package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"haccp-core/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestStreamNotifier_Notify(t *testing.T) {
	_, client := setupTestRedis(t)
	n := NewStreamNotifier(client, "", 100, zap.NewNop())
	ctx := context.Background()

	err := n.Notify(ctx, domain.Notification{
		UserID:   "op-1",
		Title:    "CCP deviation: CCP-1",
		Priority: domain.PriorityHigh,
		Category: "ccp_deviation",
		Data:     map[string]any{"batch_number": "LOT-0042"},
	})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, NotificationStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgTypeNotification, msgs[0].Values["type"])

	var got domain.Notification
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, "op-1", got.UserID)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	assert.Equal(t, "LOT-0042", got.Data["batch_number"])
}

func TestStreamNotifier_RequiresRecipient(t *testing.T) {
	_, client := setupTestRedis(t)
	n := NewStreamNotifier(client, "alerts", 0, zap.NewNop())

	err := n.Notify(context.Background(), domain.Notification{Title: "orphan"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStreamNotifier_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	n := NewStreamNotifier(client, "", 0, zap.NewNop())
	mr.Close()

	err := n.Notify(context.Background(), domain.Notification{UserID: "op-1"})
	assert.Error(t, err)
}

func TestStreamAuditSink_Record(t *testing.T) {
	_, client := setupTestRedis(t)
	sink := NewStreamAuditSink(client, "", 0)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Record(ctx, domain.AuditEvent{ActorID: "qa-1", Action: "batch.disposition", Resource: "batch", ResourceID: "b-42", OccurredAt: at}))
	require.NoError(t, sink.Record(ctx, domain.AuditEvent{ActorID: "qa-1", Action: "monitoring.verify", Resource: "ccp_monitoring_log", ResourceID: "log-1", OccurredAt: at}))

	msgs, err := client.XRange(ctx, AuditStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var ev domain.AuditEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Values["data"].(string)), &ev))
	assert.Equal(t, "monitoring.verify", ev.Action)
	assert.True(t, at.Equal(ev.OccurredAt))
}
