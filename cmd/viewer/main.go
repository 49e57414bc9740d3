// Viewer dumps the message store of a running or stopped node, for support
// and debugging. Read-only: it can open the database next to a live server.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"chat-core/internal"
	"chat-core/repositories"
)

type storedMessage struct {
	ID      string `cbor:"1,keyasint"`
	Conv    string `cbor:"2,keyasint"`
	Sender  string `cbor:"3,keyasint"`
	Content string `cbor:"4,keyasint"`
	Type    string `cbor:"5,keyasint"`
	At      int64  `cbor:"10,keyasint"`
	Seq     uint64 `cbor:"11,keyasint"`
}

func main() {
	// 1. Load config
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// 2. Open Badger in read-only mode.
	// BypassLockGuard allows opening while the server holds the lock.
	opts := badger.DefaultOptions(config.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	prefix := []byte("msg:")
	if len(os.Args) > 1 {
		prefix = []byte(fmt.Sprintf("msg:%x:", os.Args[1]))
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Conversation", "Seq", "Sender", "Type", "At", "Content"})
	table.SetAutoWrapText(false)

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			conv, seq, _, ok := repositories.ParseKey(string(item.Key()))
			if !ok {
				continue
			}
			if err := item.Value(func(val []byte) error {
				var sm storedMessage
				if err := cbor.Unmarshal(val, &sm); err != nil {
					return err
				}
				table.Append([]string{
					conv,
					fmt.Sprintf("%d", seq),
					sm.Sender,
					sm.Type,
					time.Unix(0, sm.At).UTC().Format(time.RFC3339),
					truncate(sm.Content, 60),
				})
				count++
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	table.Render()
	color.Green.Printf("%d messages\n", count)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
