package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"chatlive/backend/internal/models"
	"chatlive/backend/internal/storage"
)

// Small operator CLI for inspecting rooms and cleaning presence leftovers.

func main() {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDR")})
	store := storage.NewService(db, rdb, zerolog.Nop())

	if len(os.Args) < 2 {
		fmt.Println("Usage: admin <rooms|close-room|purge-presence> [args]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "rooms":
		var rooms []models.ChatRoom
		if err := db.Where("is_active = ?", true).Find(&rooms).Error; err != nil {
			log.Fatalf("failed to list rooms: %v", err)
		}
		for _, room := range rooms {
			fmt.Printf("%s  code=%s  members=%d\n", room.RoomID, room.Code, len(room.Members))
		}
	case "close-room":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin close-room <room_id>")
			os.Exit(1)
		}
		roomID := os.Args[2]
		err := db.Model(&models.ChatRoom{}).
			Where("room_id = ?", roomID).
			Update("is_active", false).Error
		if err != nil {
			log.Fatalf("failed to close room: %v", err)
		}
		fmt.Printf("Room %s closed.\n", roomID)
	case "purge-presence":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin purge-presence <room_id>")
			os.Exit(1)
		}
		roomID := os.Args[2]
		if err := purgePresence(store, roomID); err != nil {
			log.Fatalf("failed to purge presence: %v", err)
		}
		fmt.Printf("Stale presence entries purged for room %s.\n", roomID)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

// purgePresence removes roster members whose liveness key has expired.
func purgePresence(store *storage.Service, roomID string) error {
	ctx := context.Background()
	rosterKey := "room:" + roomID + ":roster"
	members, err := store.Redis.SMembers(ctx, rosterKey).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		aliveKey := "presence:" + roomID + ":" + member
		n, err := store.Redis.Exists(ctx, aliveKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := store.Redis.SRem(ctx, rosterKey, member).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
