package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"github.com/ClareAI/astra-dialout-service/pkg/redis"
	"go.uber.org/zap"
)

const (
	CleanupChannel = "astra:dialout:call:cleanup"
	CallKeyPrefix  = "astra:dialout:call:info"
	CallTTL        = 2 * time.Hour
)

// CallInfo is the monitoring payload registered for each in-flight call, so
// operators can see which pod owns which call
type CallInfo struct {
	CallID           string    `json:"callId"`
	PodID            string    `json:"podId"`
	CarrierReference string    `json:"carrierReference,omitempty"`
	PhoneNumber      string    `json:"phoneNumber"`
	RoomName         string    `json:"roomName,omitempty"`
	StartTime        time.Time `json:"startTime"`
}

// CleanupMessage is the payload for terminal-call cleanup broadcasts
type CleanupMessage struct {
	CallID string `json:"callId"`
}

type Manager struct {
	redisSvc redis.RedisServiceInterface
	podID    string
}

func NewManager(redisSvc redis.RedisServiceInterface, podID string) *Manager {
	return &Manager{
		redisSvc: redisSvc,
		podID:    podID,
	}
}

// Register an in-flight call for monitoring
func (m *Manager) Register(ctx context.Context, info CallInfo) error {
	info.PodID = m.podID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, _ := json.Marshal(info)
	key := fmt.Sprintf("%s:%s", CallKeyPrefix, info.CallID)

	err := m.redisSvc.SetValue(ctx, key, string(data), CallTTL)
	if err == nil {
		logger.Base().Info("Call registered in Redis", zap.String("call_id", info.CallID), zap.String("pod_id", m.podID))
	}
	return err
}

// Unregister a call once it reaches a terminal state
func (m *Manager) Unregister(ctx context.Context, callID string) error {
	key := fmt.Sprintf("%s:%s", CallKeyPrefix, callID)
	return m.redisSvc.DelValue(ctx, key)
}

// NotifyCleanup broadcasts a cleanup request to all pods so whichever pod
// owns the media room tears it down
func (m *Manager) NotifyCleanup(ctx context.Context, callID string) error {
	logger.Base().Info("Broadcasting call cleanup", zap.String("call_id", callID))
	return m.redisSvc.Publish(ctx, CleanupChannel, CleanupMessage{CallID: callID})
}

// SubscribeToCleanup listens for cleanup broadcasts
func (m *Manager) SubscribeToCleanup(ctx context.Context, handler func(callID string)) error {
	return m.redisSvc.Subscribe(ctx, CleanupChannel, func(payload string) {
		var msg CleanupMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal cleanup message", zap.Error(err))
			return
		}
		handler(msg.CallID)
	})
}
