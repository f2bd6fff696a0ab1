package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/cwrk-planet/room-bus/internal/client"
	"github.com/cwrk-planet/room-bus/internal/domain"
)

var tailOpts struct {
	target      string
	room        int64
	since       uint64
	token       string
	characterID int64
	asJSON      bool
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow a room over gRPC and print messages; resubscribes after overflow",
	RunE:  runTail,
}

func init() {
	f := tailCmd.Flags()
	f.StringVar(&tailOpts.target, "target", "localhost:9090", "gRPC address of room-bus")
	f.Int64Var(&tailOpts.room, "room", 0, "Room id")
	f.Uint64Var(&tailOpts.since, "since", 0, "Print messages after this id")
	f.StringVar(&tailOpts.token, "token", os.Getenv("ROOMBUS_TOKEN"), "Access token (or set ROOMBUS_TOKEN)")
	f.Int64Var(&tailOpts.characterID, "character", 0, "Character id sent as x-character-id")
	f.BoolVar(&tailOpts.asJSON, "json", false, "Print one JSON object per line")
	_ = tailCmd.MarkFlagRequired("room")
	_ = tailCmd.MarkFlagRequired("character")
}

func runTail(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.New(client.Options{
		Target:      tailOpts.target,
		Token:       tailOpts.token,
		CharacterID: domain.CharacterID(tailOpts.characterID),
	})
	if err != nil {
		return err
	}
	defer c.Close()

	roomID := domain.RoomID(tailOpts.room)
	since := domain.MessageID(tailOpts.since)
	subscriberID := "tail-" + ulid.Make().String()
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)

	for {
		stream, err := c.Subscribe(ctx, roomID, subscriberID, since)
		if err != nil {
			return err
		}
		for {
			m, err := stream.Recv()
			if err != nil {
				var overflow *domain.OverflowError
				if errors.As(err, &overflow) {
					slog.Warn("tail fell behind, resubscribing", "last_seen", overflow.LastSeen)
					since = overflow.LastSeen
					break
				}
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			since = m.ID
			if tailOpts.asJSON {
				if err := enc.Encode(m); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(out, "%s #%d <%d> %s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.ID, m.AuthorCharacterID, m.Body)
		}
	}
}
