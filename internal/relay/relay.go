// Package relay разносит сообщения между экземплярами через Kafka.
// Каждый экземпляр пишет свои публикации в общий топик и читает его своей
// consumer group, так что уведомление получает каждый экземпляр.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/metrics"
)

const DefaultTopic = "room-bus.messages"

// Notice: то, что лежит в топике.
type Notice struct {
	Origin  string         `json:"origin"`
	Message domain.Message `json:"message"`
}

func Encode(origin string, msg domain.Message) ([]byte, error) {
	return json.Marshal(Notice{Origin: origin, Message: msg})
}

func Decode(data []byte) (Notice, error) {
	var n Notice
	if err := json.Unmarshal(data, &n); err != nil {
		return Notice{}, fmt.Errorf("decode notice: %w", err)
	}
	if n.Message.ID == 0 || n.Message.RoomID <= 0 {
		return Notice{}, errors.New("decode notice: empty message")
	}
	return n, nil
}

// Deliverer: приёмник чужих уведомлений (bus.Bus).
type Deliverer interface {
	Deliver(msg domain.Message)
}

type Config struct {
	Brokers []string
	Topic   string
	// Origin: id экземпляра, свои уведомления пропускаются.
	Origin string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Relay struct {
	origin string
	writer messageWriter
	reader messageReader
	log    *slog.Logger
}

func New(cfg Config) *Relay {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	log := slog.Default().With("component", "relay", "origin", cfg.Origin)
	// Async: WriteMessages только ставит сообщение в батч, ошибки приходят в Completion.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // ключ = комната, порядок в пределах комнаты сохраняется
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			metrics.RelayNotices.WithLabelValues("failed").Add(float64(len(msgs)))
			log.Warn("kafka write failed", "notices", len(msgs), "err", err)
		},
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     "room-bus-" + cfg.Origin,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return newRelay(cfg.Origin, writer, reader)
}

func newRelay(origin string, w messageWriter, r messageReader) *Relay {
	return &Relay{
		origin: origin,
		writer: w,
		reader: r,
		log:    slog.Default().With("component", "relay", "origin", origin),
	}
}

// Announce публикует локально сохранённое сообщение для остальных экземпляров.
func (r *Relay) Announce(ctx context.Context, msg domain.Message) error {
	data, err := Encode(r.origin, msg)
	if err != nil {
		return err
	}
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(int64(msg.RoomID), 10)),
		Value: data,
		Time:  msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	metrics.RelayNotices.WithLabelValues("out").Inc()
	return nil
}

// Run читает топик до отмены ctx и передаёт чужие сообщения в d.
func (r *Relay) Run(ctx context.Context, d Deliverer) error {
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("kafka read failed, retrying", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		n, err := Decode(m.Value)
		if err != nil {
			r.log.Warn("skip bad notice", "offset", m.Offset, "err", err)
			continue
		}
		if n.Origin == r.origin {
			continue
		}
		metrics.RelayNotices.WithLabelValues("in").Inc()
		d.Deliver(n.Message)
	}
}

func (r *Relay) Close() error {
	return errors.Join(r.writer.Close(), r.reader.Close())
}
