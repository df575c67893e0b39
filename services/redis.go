package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"

	"activity/config"
)

var RedisClient *redis.Client

const refreshChannel = "activity:feed:refresh"

// instanceID distinguishes this gateway in fan-out messages so an
// instance does not re-trigger itself.
var instanceID = newInstanceID()

func newInstanceID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// InitRedis connects the optional fan-out client. Without a configured
// host the gateway runs standalone and fan-out is disabled.
func InitRedis() error {
	redisConfig := config.AppConfig.Redis
	if redisConfig.Host == "" {
		log.Println("Redis not configured, cross-instance fan-out disabled")
		return nil
	}

	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	_, err := RedisClient.Ping(context.Background()).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return nil
}

func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

type refreshMessage struct {
	Instance string `json:"instance"`
}

// PublishFeedRefresh tells sibling gateway instances that the activities
// table changed, for deployments where only one instance holds the
// realtime subscription.
func PublishFeedRefresh(ctx context.Context) {
	if RedisClient == nil {
		return
	}
	body, _ := json.Marshal(refreshMessage{Instance: instanceID})
	if err := RedisClient.Publish(ctx, refreshChannel, body).Err(); err != nil {
		log.Println("feed refresh fan-out publish failed:", err)
	}
}

// SubscribeFeedRefresh invokes onRefresh for every fan-out message from a
// sibling instance, until ctx ends. Messages from this instance are skipped.
func SubscribeFeedRefresh(ctx context.Context, onRefresh func()) {
	if RedisClient == nil {
		return
	}

	sub := RedisClient.Subscribe(ctx, refreshChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m refreshMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					continue
				}
				if m.Instance == instanceID {
					continue
				}
				onRefresh()
			}
		}
	}()
}
