package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chrischoy/MediaWhisperer/config"
	"github.com/chrischoy/MediaWhisperer/model"
	"github.com/redis/go-redis/v9"
)

const (
	convSeqKey = "conv:seq"
	msgSeqKey  = "msg:seq"
)

func convKey(id int64) string { return "conv:" + strconv.FormatInt(id, 10) }
func messagesKey(id int64) string { return "conv:" + strconv.FormatInt(id, 10) + ":messages" }
func userConvsKey(id int64) string { return "user:" + strconv.FormatInt(id, 10) + ":convs" }

// RedisConversationStore keeps each conversation as a JSON string, its
// messages as a JSON list and a per-user sorted set of conversation IDs.
type RedisConversationStore struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and checks it is reachable.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		ContextTimeoutEnabled: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis is offline: %w", err)
	}
	return client, nil
}

func NewRedisConversationStore(client *redis.Client) *RedisConversationStore {
	return &RedisConversationStore{client: client}
}

func (s *RedisConversationStore) CreateConversation(ctx context.Context, conv model.Conversation) (*model.Conversation, error) {
	id, err := s.client.Incr(ctx, convSeqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate conversation id: %w", err)
	}

	now := time.Now().UTC()
	conv.ID = id
	conv.CreatedAt = now
	conv.UpdatedAt = now

	data, err := json.Marshal(conv)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, convKey(id), data, 0)
		pipe.ZAdd(ctx, userConvsKey(conv.UserID), redis.Z{Score: float64(id), Member: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	return &conv, nil
}

func (s *RedisConversationStore) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	data, err := s.client.Get(ctx, convKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation %d: %w", id, err)
	}
	return &conv, nil
}

func (s *RedisConversationStore) ListConversations(ctx context.Context, userID, pdfID int64) ([]*model.Conversation, error) {
	ids, err := s.client.ZRevRange(ctx, userConvsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	result := make([]*model.Conversation, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		conv, err := s.GetConversation(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if pdfID != 0 && conv.PDFID != pdfID {
			continue
		}
		result = append(result, conv)
	}
	return result, nil
}

func (s *RedisConversationStore) DeleteConversation(ctx context.Context, id int64) error {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, convKey(id), messagesKey(id))
		pipe.ZRem(ctx, userConvsKey(conv.UserID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *RedisConversationStore) AddMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	conv, err := s.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}

	id, err := s.client.Incr(ctx, msgSeqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate message id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = time.Now().UTC()
	conv.UpdatedAt = msg.CreatedAt

	msgData, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	convData, err := json.Marshal(conv)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, messagesKey(conv.ID), msgData)
		pipe.Set(ctx, convKey(conv.ID), convData, 0)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return &msg, nil
}

func (s *RedisConversationStore) Messages(ctx context.Context, conversationID int64) ([]*model.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	result := make([]*model.Message, 0, len(raw))
	for _, item := range raw {
		var msg model.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		result = append(result, &msg)
	}
	return result, nil
}

func (s *RedisConversationStore) CountMessages(ctx context.Context, conversationID int64) (int, error) {
	n, err := s.client.LLen(ctx, messagesKey(conversationID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return int(n), nil
}
