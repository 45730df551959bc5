package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"heartlink/backend/internal/api/handler"
	"heartlink/backend/internal/config"
	"heartlink/backend/internal/pairing"
	"heartlink/backend/internal/storage"

	"github.com/spf13/pflag"
)

const usage = `Usage: admin <command> [flags] [args]

Commands:
  token <participant_id>                 print a signed access token
  sweep                                  run the expiry check on every overdue temporary session
  queue                                  list participants waiting in the matchmaking queue
  link-telegram <participant_id> <chat>  bind a Telegram chat id for notifications

` + sweepNote + `
Flags:
`

// sweepNote explains what an offline sweep does not reach.
const sweepNote = `Note: sweep runs in this process, not in the server. A running server is not
told about the invitations it creates: no Telegram notifications are sent and
relay links are only refreshed on the server's next restart. Prefer
EXPIRY_WORKER_ENABLED=true on the server for scheduled expiry.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	var ttl time.Duration
	flagSet := pflag.NewFlagSet("admin", pflag.ContinueOnError)
	flagSet.DurationVar(&ttl, "ttl", 72*time.Hour, "lifetime of tokens minted by the token command")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(argv); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	args := flagSet.Args()
	if len(args) == 0 {
		flagSet.Usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch args[0] {
	case "token":
		if len(args) != 2 {
			return fmt.Errorf("usage: admin token <participant_id> [--ttl 72h]")
		}
		token, err := handler.IssueToken([]byte(cfg.JWTSecret), args[1], ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil

	case "sweep":
		store, err := storage.Open(cfg.StorageDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		n, err := pairing.NewService(store, cfg.SessionTTL).SweepExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d invitation(s) created.\n", n)
		if n > 0 {
			fmt.Fprint(os.Stderr, sweepNote)
		}
		return nil

	case "queue":
		store, err := storage.Open(cfg.StorageDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		entries, err := pairing.NewService(store, cfg.SessionTTL).Queue(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\twaiting since %s\n", e.UserID, e.EnqueuedAt.Format(time.RFC3339))
		}
		fmt.Printf("%d participant(s) queued.\n", len(entries))
		return nil

	case "link-telegram":
		if len(args) != 3 {
			return fmt.Errorf("usage: admin link-telegram <participant_id> <chat_id>")
		}
		chatID, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q: %w", args[2], err)
		}
		store, err := storage.Open(cfg.StorageDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := store.SetTelegramChatID(ctx, args[1], chatID); err != nil {
			return err
		}
		log.Printf("Participant %s linked to Telegram chat %d.", args[1], chatID)
		return nil

	default:
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}
