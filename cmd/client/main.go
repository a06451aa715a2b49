package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/atinyakov/HealthSync/internal/client/storage"
	"github.com/atinyakov/HealthSync/internal/models"
)

var (
	version   string
	buildDate string
)

const help = `Available commands:
  put <kind> [id]     create or replace a record (prompts for JSON)
  delete <kind> <id>  delete a record
  get <kind> <id>     show a record
  list [kind]         list records
  sync                sync now
  status              show pending writes and cursor
  kinds               list record kinds
  exit`

// repl runs the interactive shell loop, accepting commands to manage records.
func repl(ctx context.Context, client *http.Client, baseURL, token string, ls *storage.LocalStorage, interval time.Duration) {
	storage.StartAutoSync(ctx, client, baseURL, token, ls, interval)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("healthsync> ")
		if !scanner.Scan() {
			break
		}
		args := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "help":
			fmt.Println(help)
		case "kinds":
			for _, k := range models.Kinds {
				fmt.Println(k)
			}
		case "put":
			if len(args) < 2 {
				fmt.Println("Usage: put <kind> [id]")
				continue
			}
			kind, err := models.ParseKind(args[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			id := ""
			if len(args) > 2 {
				id = args[2]
			}
			data, err := storage.PromptPayload(scanner, os.Stdout, kind)
			if err != nil {
				fmt.Println(err)
				continue
			}
			rec, err := ls.Put(kind, id, data)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if persist(os.Stdout, ls) {
				fmt.Println("Saved", rec.Ref())
			}
		case "get":
			ref, ok := parseRef(args)
			if !ok {
				fmt.Println("Usage: get <kind> <id>")
				continue
			}
			rec, found := ls.Get(ref)
			if !found {
				fmt.Println("Record not found")
				continue
			}
			b, _ := json.MarshalIndent(rec, "", "  ")
			fmt.Println(string(b))
		case "delete":
			ref, ok := parseRef(args)
			if !ok {
				fmt.Println("Usage: delete <kind> <id>")
				continue
			}
			if ls.Delete(ref) {
				if persist(os.Stdout, ls) {
					fmt.Println("Record deleted")
				}
			} else {
				fmt.Println("Record not found")
			}
		case "list":
			var kind models.Kind
			if len(args) > 1 {
				k, err := models.ParseKind(args[1])
				if err != nil {
					fmt.Println(err)
					continue
				}
				kind = k
			}
			for _, rec := range ls.List(kind) {
				fmt.Printf("%s  %s  %s\n", rec.Ref(), rec.UpdatedAt.Format(time.RFC3339), rec.Data)
			}
		case "sync":
			if err := storage.SyncWithServer(ctx, client, baseURL, token, ls); err != nil {
				fmt.Println("sync error:", err)
			} else {
				fmt.Println("Sync successful")
			}
		case "status":
			fmt.Printf("Client: %s\nPending writes: %d\nCursor: %q\n", ls.ClientID(), ls.PendingCount(), ls.Cursor())
		case "exit":
			fmt.Println("Bye")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for a list of commands.")
		}
	}
}

// persist saves the store and warns when the changes are not durable.
func persist(out io.Writer, s interface{ Save() error }) bool {
	if err := s.Save(); err != nil {
		fmt.Fprintf(out, "warning: changes kept in memory only, save failed: %v\n", err)
		return false
	}
	return true
}

func parseRef(args []string) (models.Ref, bool) {
	if len(args) < 3 {
		return models.Ref{}, false
	}
	kind, err := models.ParseKind(args[1])
	if err != nil {
		return models.Ref{}, false
	}
	return models.Ref{Kind: kind, ID: args[2]}, true
}

// main parses command-line flags and dispatches to the register or shell commands.
func main() {
	var (
		cmd        string
		baseURL    string
		caFile     string
		storeFile  string
		passphrase string
		interval   time.Duration
		showVer    bool
	)

	flag.StringVar(&cmd, "cmd", "shell", "command: register | shell")
	flag.StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	flag.StringVar(&caFile, "ca", "", "path to a private CA cert")
	flag.StringVar(&storeFile, "store", storage.DefaultFile, "path to the local store")
	flag.StringVar(&passphrase, "passphrase", "", "encrypt the local store with this passphrase")
	flag.DurationVar(&interval, "interval", 30*time.Second, "background sync interval")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("HealthSync Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	token := os.Getenv("HEALTHSYNC_TOKEN")
	if token == "" {
		log.Fatal("please set HEALTHSYNC_TOKEN to your identity token")
	}
	client, err := storage.NewHTTPClient(caFile)
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()

	switch cmd {
	case "register":
		u, err := storage.Register(ctx, client, baseURL, token)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Registered as %s\n", u.ID)
	case "shell":
		var sealer *storage.Sealer
		if passphrase != "" {
			if sealer, err = storage.NewSealer([]byte(passphrase)); err != nil {
				log.Fatal(err)
			}
		}
		ls := storage.NewLocalStorage(storeFile, sealer)
		if err := ls.Load(); err != nil {
			log.Fatal(err)
		}

		repl(ctx, client, baseURL, token, ls, interval)
		persist(os.Stdout, ls)
	default:
		log.Fatalf("unknown command: %s", cmd)
	}
}
