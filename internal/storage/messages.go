package storage

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"chatlive/backend/internal/config"
	"chatlive/backend/internal/models"
)

// RecentMessages returns the newest limit messages of a room,
// newest-first.
func (s *Service) RecentMessages(roomID string, limit int) ([]models.Message, error) {
	var rows []models.Message
	err := s.DB.Where("room_id = ?", roomID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		s.Log.Error().Str("room", roomID).Err(err).Msg("recent messages query failed")
		return nil, err
	}
	return rows, nil
}

// MessagesBefore returns up to limit messages strictly older than the
// (before, beforeID) cursor, newest-first. The ID tie-break keeps the
// page boundary exact when timestamps collide.
func (s *Service) MessagesBefore(roomID string, before time.Time, beforeID uint, limit int) ([]models.Message, error) {
	var rows []models.Message
	err := s.DB.Where("room_id = ?", roomID).
		Where("created_at < ? OR (created_at = ? AND id < ?)", before, before, beforeID).
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		s.Log.Error().Str("room", roomID).Err(err).Msg("older messages query failed")
		return nil, err
	}
	return rows, nil
}

// InsertMessage persists a new message and publishes the insert on the
// room's change channel. The row's ID and CreatedAt are filled in by the
// database and written back into msg so the caller can echo it
// optimistically.
func (s *Service) InsertMessage(msg *models.Message) error {
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	if err := s.DB.Create(msg).Error; err != nil {
		s.Log.Error().Str("room", msg.RoomID).Err(err).Msg("failed to save message")
		return err
	}
	s.publishChange(msg.RoomID, models.ChangeEvent{Kind: models.ChangeInsert, Message: *msg})
	return nil
}

// SoftDeleteMessage flags a message as deleted and swaps its content for
// the placeholder. Only the sender may delete; anyone else gets
// ErrConflict. The row is never removed.
func (s *Service) SoftDeleteMessage(roomID string, id uint, requesterID string) error {
	var msg models.Message
	err := s.DB.Where("room_id = ? AND id = ?", roomID, id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return ErrConflict
	}
	if msg.Deleted {
		return nil
	}

	now := time.Now()
	err = s.DB.Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"deleted":    true,
			"deleted_at": now,
			"content":    config.DeletedPlaceholder,
		}).Error
	if err != nil {
		return err
	}

	msg.Deleted = true
	msg.DeletedAt = &now
	msg.Content = config.DeletedPlaceholder
	s.publishChange(roomID, models.ChangeEvent{Kind: models.ChangeDelete, Message: msg})
	return nil
}

// AddReaction persists one reaction row. Duplicate (message, user, emoji)
// rows hit the unique index and come back as ErrConflict.
func (s *Service) AddReaction(reaction *models.Reaction) error {
	var exists int64
	s.DB.Model(&models.Message{}).Where("id = ?", reaction.MessageID).Count(&exists)
	if exists == 0 {
		return ErrNotFound
	}
	if err := s.DB.Create(reaction).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return err
	}
	return nil
}

// React satisfies the session's reactions capability on top of
// AddReaction.
func (s *Service) React(roomID string, messageID uint, userID, emoji string) error {
	return s.AddReaction(&models.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji})
}

// MarkRoomDelivered is the room-wide delivery procedure: every sent
// message in the room not authored by selfID becomes delivered. The
// updated IDs are published as status updates so live subscribers
// converge without waiting for their own sweep.
func (s *Service) MarkRoomDelivered(roomID, selfID string) error {
	var ids []uint
	err := s.DB.Raw(`
        UPDATE messages
        SET status = 'delivered'
        WHERE room_id = ? AND sender_id <> ? AND status = 'sent'
        RETURNING id
    `, roomID, selfID).Scan(&ids).Error
	if err != nil {
		s.Log.Error().Str("room", roomID).Err(err).Msg("mark delivered failed")
		return err
	}
	for _, id := range ids {
		s.publishChange(roomID, models.ChangeEvent{
			Kind:    models.ChangeUpdate,
			Message: models.Message{ID: id, RoomID: roomID, Status: models.StatusDelivered},
		})
	}
	return nil
}

// MarkMessageRead moves a single message to read. A no-op when the
// message is already read, authored by selfID, or unknown.
func (s *Service) MarkMessageRead(roomID string, id uint, selfID string) error {
	var ids []uint
	err := s.DB.Raw(`
        UPDATE messages
        SET status = 'read'
        WHERE id = ? AND room_id = ? AND sender_id <> ? AND status <> 'read'
        RETURNING id
    `, id, roomID, selfID).Scan(&ids).Error
	if err != nil {
		s.Log.Error().Uint("message", id).Err(err).Msg("mark read failed")
		return err
	}
	if len(ids) > 0 {
		s.publishChange(roomID, models.ChangeEvent{
			Kind:    models.ChangeUpdate,
			Message: models.Message{ID: id, RoomID: roomID, Status: models.StatusRead},
		})
	}
	return nil
}

// publishChange publishes a row-level change on the room's message
// channel. Publish failures are logged and dropped: the heartbeat sweep
// and history queries are the correctness backstop, the stream is an
// optimization.
func (s *Service) publishChange(roomID string, ev models.ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.Log.Error().Err(err).Msg("failed to encode change event")
		return
	}
	if err := s.Redis.Publish(s.Ctx, messageChannel(roomID), payload).Err(); err != nil {
		s.Log.Warn().Str("room", roomID).Err(err).Msg("failed to publish change event")
	}
}
