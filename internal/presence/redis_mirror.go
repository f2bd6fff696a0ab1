package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cwrk-planet/room-bus/internal/domain"
)

const roomsIndexKey = "presence:rooms"

// RedisMirror хранит присутствие в sorted set на комнату: member = id персонажа,
// score = время последнего heartbeat в unix ms. presence:rooms: индекс комнат.
type RedisMirror struct {
	client *redis.Client
}

var _ Mirror = (*RedisMirror)(nil)

// DialRedis разбирает URL вида redis://host:port/db и проверяет соединение.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

func roomPresenceKey(roomID domain.RoomID) string {
	return fmt.Sprintf("presence:room:%d", roomID)
}

func (m *RedisMirror) Save(ctx context.Context, e domain.PresenceEntry) error {
	pipe := m.client.TxPipeline()
	pipe.SAdd(ctx, roomsIndexKey, strconv.FormatInt(int64(e.RoomID), 10))
	pipe.ZAdd(ctx, roomPresenceKey(e.RoomID), redis.Z{
		Score:  float64(e.LastHeartbeatAt.UnixMilli()),
		Member: strconv.FormatInt(int64(e.CharacterID), 10),
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (m *RedisMirror) Remove(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) error {
	return m.client.ZRem(ctx, roomPresenceKey(roomID), strconv.FormatInt(int64(characterID), 10)).Err()
}

func (m *RedisMirror) Load(ctx context.Context) ([]domain.PresenceEntry, error) {
	rooms, err := m.client.SMembers(ctx, roomsIndexKey).Result()
	if err != nil {
		return nil, err
	}

	var out []domain.PresenceEntry
	for _, raw := range rooms {
		roomID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		zs, err := m.client.ZRangeWithScores(ctx, roomPresenceKey(domain.RoomID(roomID)), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		if len(zs) == 0 {
			m.client.SRem(ctx, roomsIndexKey, raw)
			continue
		}
		for _, z := range zs {
			member, ok := z.Member.(string)
			if !ok {
				continue
			}
			charID, err := strconv.ParseInt(member, 10, 64)
			if err != nil {
				continue
			}
			out = append(out, domain.PresenceEntry{
				RoomID:          domain.RoomID(roomID),
				CharacterID:     domain.CharacterID(charID),
				LastHeartbeatAt: time.UnixMilli(int64(z.Score)).UTC(),
			})
		}
	}
	return out, nil
}
