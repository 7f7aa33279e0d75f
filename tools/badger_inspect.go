package main

import (
	"chat-core/domain"
	"chat-core/repositories"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

// Dumps the transcript of a conversation, or of every conversation when
// no participant is given.
func main() {
	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB")
	a := flag.String("a", "", "First participant of the conversation")
	b := flag.String("b", "", "Second participant of the conversation")
	flag.Parse()

	var roomID domain.RoomID
	if *a != "" || *b != "" {
		var err error
		if roomID, err = domain.ResolveRoomID(domain.ParticipantID(*a), domain.ParticipantID(*b)); err != nil {
			log.Fatal(err)
		}
	}

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Room", "Seq", "Sent at", "From", "Status", "ID", "Text"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := repositories.MessagePrefix(roomID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				m, err := repositories.UnmarshalDiskMessage(v)
				if err != nil {
					// keep going, one broken record must not hide the others
					fmt.Printf("Error decoding key %s: %v\n", string(item.Key()), err)
					return nil
				}

				// the first 8 characters of the id are enough to tell messages apart
				displayID := m.ID.String()[:8]
				table.Append([]string{
					m.Room,
					fmt.Sprint(m.Seq),
					m.At.Format("2006-01-02 15:04:05"),
					m.Author,
					domain.Status(m.Status).String(),
					displayID,
					m.Text,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err != nil {
		// a crashed writer leaves a log to truncate, which read-only mode refuses
		if strings.Contains(err.Error(), "Log truncate required") {
			fmt.Println("⚠️  Truncating the value log before reading")

			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)

			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}
			_ = db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
