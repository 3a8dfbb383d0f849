package livekit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClareAI/astra-dialout-service/pkg/logger"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"go.uber.org/zap"
)

const (
	// roomEmptyTimeout tears the room down if nobody joins the media leg
	roomEmptyTimeout = 300 * time.Second

	// one SIP participant plus the voice agent
	roomMaxParticipants = 2
)

// trackedRoom stores per-call media room state
type trackedRoom struct {
	RoomName  string
	CreatedAt time.Time
}

// RoomManager creates and tears down the per-call LiveKit media rooms that
// bridge the telephony leg to the voice session
type RoomManager struct {
	config *Config
	client *lksdk.RoomServiceClient

	mutex sync.RWMutex
	rooms map[string]*trackedRoom // call_id -> room
}

// NewRoomManager creates a room manager backed by the LiveKit room service
func NewRoomManager(config *Config) (*RoomManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid LiveKit config: %w", err)
	}

	rm := &RoomManager{
		config: config,
		client: lksdk.NewRoomServiceClient(config.ServerURL, config.APIKey, config.APISecret),
		rooms:  make(map[string]*trackedRoom),
	}

	logger.Base().Info("LiveKit RoomManager initialized", zap.String("server_url", config.ServerURL))
	return rm, nil
}

// RoomNameFor derives the deterministic media room name of a call
func RoomNameFor(callID string) string {
	return fmt.Sprintf("call-%s", callID)
}

// CreateRoom provisions the media room for a call and returns its name. The
// metadata is handed to the voice agent when it joins, carrying the call
// context.
func (rm *RoomManager) CreateRoom(ctx context.Context, callID, metadata string) (string, error) {
	roomName := RoomNameFor(callID)

	_, err := rm.client.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            roomName,
		EmptyTimeout:    uint32(roomEmptyTimeout.Seconds()),
		MaxParticipants: roomMaxParticipants,
		Metadata:        metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create room %s: %w", roomName, err)
	}

	rm.mutex.Lock()
	rm.rooms[callID] = &trackedRoom{RoomName: roomName, CreatedAt: time.Now()}
	rm.mutex.Unlock()

	logger.Base().Info("Media room created", zap.String("call_id", callID), zap.String("room_name", roomName))
	return roomName, nil
}

// DeleteRoom tears down the media room of a call. Deleting an already-gone
// room is not an error.
func (rm *RoomManager) DeleteRoom(ctx context.Context, callID string) error {
	rm.mutex.Lock()
	room, exists := rm.rooms[callID]
	if exists {
		delete(rm.rooms, callID)
	}
	rm.mutex.Unlock()

	roomName := RoomNameFor(callID)
	if exists {
		roomName = room.RoomName
		logger.Base().Info("Room finished", zap.String("room_name", roomName), zap.String("call_id", callID), zap.Float64("duration", time.Since(room.CreatedAt).Seconds()))
	}

	if _, err := rm.client.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName}); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", roomName, err)
	}
	return nil
}

// GenerateToken generates a LiveKit access token for a participant joining a
// call's media room
func (rm *RoomManager) GenerateToken(roomName, participantName string) (string, error) {
	at := auth.NewAccessToken(rm.config.APIKey, rm.config.APISecret)

	canPublish := true
	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         roomName,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}

	at.SetVideoGrant(grant).
		SetIdentity(participantName).
		SetValidFor(2 * time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT: %w", err)
	}
	return token, nil
}

// GetRoomCount returns the number of tracked rooms
func (rm *RoomManager) GetRoomCount() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return len(rm.rooms)
}

// CleanupExpiredRooms deletes rooms older than the duration; used by the
// background sweep as a safety net for dropped terminal callbacks
func (rm *RoomManager) CleanupExpiredRooms(ctx context.Context, maxAge time.Duration) int {
	rm.mutex.RLock()
	now := time.Now()
	var expired []string
	for callID, room := range rm.rooms {
		if now.Sub(room.CreatedAt) > maxAge {
			expired = append(expired, callID)
		}
	}
	rm.mutex.RUnlock()

	for _, callID := range expired {
		logger.Base().Info("Cleaning up expired room", zap.String("call_id", callID))
		if err := rm.DeleteRoom(ctx, callID); err != nil {
			logger.Base().Warn("Failed to delete expired room", zap.String("call_id", callID), zap.Error(err))
		}
	}
	return len(expired)
}
