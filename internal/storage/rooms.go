package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chatlive/backend/internal/models"
)

// EnsureUser loads the user with the given anon ID, creating it on first
// contact.
func (s *Service) EnsureUser(userID string) (*models.User, error) {
	var user models.User
	result := s.DB.Where("id = ?", userID).
		FirstOrCreate(&user, models.User{ID: userID, LastSeenAt: time.Now()})
	if result.Error != nil {
		s.Log.Error().Str("user", userID).Err(result.Error).Msg("failed to ensure user")
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		s.Log.Info().Str("user", user.ID).Msg("new user saved")
	} else {
		s.DB.Model(&user).Update("last_seen_at", time.Now())
	}
	return &user, nil
}

// EnterRoom resolves a room by its short code, creating it on first use,
// and adds userID to the member list if not already present.
func (s *Service) EnterRoom(code, userID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.Where("code = ?", code).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		room = models.ChatRoom{
			RoomID:    uuid.New().String(),
			Code:      code,
			Members:   []string{userID},
			IsActive:  true,
			CreatedAt: time.Now(),
		}
		if err := s.DB.Create(&room).Error; err != nil {
			s.Log.Error().Str("code", code).Err(err).Msg("failed to create room")
			return nil, err
		}
		return &room, nil
	}
	if err != nil {
		s.Log.Error().Str("code", code).Err(err).Msg("failed to load room")
		return nil, err
	}

	if !room.HasMember(userID) {
		room.Members = append(room.Members, userID)
		if err := s.DB.Model(&room).Update("members", room.Members).Error; err != nil {
			return nil, err
		}
	}
	return &room, nil
}

// GetRoomByID returns a room by its UUID.
func (s *Service) GetRoomByID(roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.DB.Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.Log.Error().Str("room", roomID).Err(err).Msg("failed to get room")
		return nil, err
	}
	return &room, nil
}
