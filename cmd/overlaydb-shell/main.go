// Command overlaydb-shell is an interactive REPL driving a
// localdb.LocalDatabase in-process: no network hop, no client/server
// wire protocol (spec.md §1 scopes both out). The readline loop mirrors
// the teacher's go-ycsb-style shell command; the put/get/delete/scan/
// txn surface speaks directly to the package this repository exists to
// build.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/arannya-labs/overlaydb/internal/btreeindex"
	"github.com/arannya-labs/overlaydb/internal/cursor"
	"github.com/arannya-labs/overlaydb/internal/txn"
	"github.com/arannya-labs/overlaydb/localdb"
	"github.com/arannya-labs/overlaydb/pkg/logger"
	"github.com/arannya-labs/overlaydb/pkg/telemetry"
)

var (
	dbPath  = flag.String("db", "overlaydb.bin", "path to the database file")
	walDir  = flag.String("wal", "", "journal directory (defaults to <db>.wal)")
	verbose = flag.Bool("v", false, "debug-level logging")
)

type shell struct {
	db  *localdb.LocalDatabase
	txn *txn.Transaction
	cur *cursor.Cursor
}

func main() {
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Database: *dbPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, shutdownTelemetry, err := telemetry.New(telemetry.Config{Enabled: true, ServiceName: telemetry.DefaultServiceName})
	if err != nil {
		log.Sugar().Warnf("telemetry disabled: %v", err)
		tel = nil
	}
	if shutdownTelemetry != nil {
		defer shutdownTelemetry(context.Background())
	}

	params := localdb.Parameters{
		DatabaseName: *dbPath,
		Path:         *dbPath,
		JournalDir:   *walDir,
		Flags:        localdb.EnableTransactions,
	}
	deps := localdb.Deps{Logger: log}
	if tel != nil {
		deps.Meter = tel.Meter
	}

	db, err := open(params, deps)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	sh := &shell{db: db}
	sh.loop()
}

// open reopens an existing database file, falling back to creating a
// fresh one (mirrors the teacher's standalone-server bootstrap, which
// also tries open-then-create rather than demanding the caller know in
// advance whether the file exists).
func open(params localdb.Parameters, deps localdb.Deps) (*localdb.LocalDatabase, error) {
	if _, err := os.Stat(params.Path); err == nil {
		return localdb.Open(params, deps)
	}
	return localdb.Create(params, deps)
}

func (sh *shell) loop() {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "overlaydb» ",
		HistoryFile:       "/tmp/overlaydb_shell_history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	defer l.Close()

	fmt.Println("overlaydb shell. Type 'help' for commands, 'exit' to leave.")
	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return
			}
			continue
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return
		}
		sh.dispatch(fields)
	}
}

func (sh *shell) dispatch(args []string) {
	switch strings.ToLower(args[0]) {
	case "help":
		sh.help()
	case "begin":
		sh.begin()
	case "commit":
		sh.commit()
	case "abort":
		sh.abort()
	case "flush":
		sh.flush()
	case "put":
		sh.put(args[1:])
	case "get":
		sh.get(args[1:])
	case "delete":
		sh.delete(args[1:])
	case "scan":
		sh.scan()
	case "count":
		sh.count()
	case "integrity":
		sh.integrity()
	case "cursor":
		sh.cursor(args[1:])
	default:
		fmt.Printf("unknown command %q; type 'help'\n", args[0])
	}
}

func (sh *shell) help() {
	fmt.Println(`commands:
  begin                      start a transaction; subsequent commands use it
  commit / abort             end the current transaction
  flush                      flush committed transactions into the B-tree
  put <key> <value>          insert or overwrite a record
  get <key>                  exact-match find
  delete <key>               erase a record
  scan                       print every visible (key, record) pair
  count                      print the number of visible keys
  integrity                  run the B-tree's integrity check
  cursor open                 open a single reusable cursor for this session
  cursor find <key>          find <key>, coupling the session cursor to it
  cursor close                release the session cursor
  exit / quit`)
}

func (sh *shell) cursor(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: cursor open|find <key>|close")
		return
	}
	switch strings.ToLower(args[0]) {
	case "open":
		if sh.cur != nil {
			fmt.Println("a session cursor is already open")
			return
		}
		sh.cur = sh.db.CreateCursor()
		fmt.Println("ok")
	case "find":
		if sh.cur == nil {
			fmt.Println("no session cursor; run 'cursor open' first")
			return
		}
		if len(args) < 2 {
			fmt.Println("usage: cursor find <key>")
			return
		}
		res, err := sh.db.CursorFind(sh.cur, []byte(args[1]), btreeindex.FindExactMatch)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Printf("%s=%q (coupling=%v)\n", res.Key, res.Record, sh.cur.Coupling())
	case "close":
		if sh.cur == nil {
			fmt.Println("no session cursor")
			return
		}
		sh.db.CloseCursor(sh.cur)
		sh.cur = nil
		fmt.Println("ok")
	default:
		fmt.Println("usage: cursor open|find <key>|close")
	}
}

func (sh *shell) begin() {
	if sh.txn != nil {
		fmt.Println("a transaction is already open; commit or abort it first")
		return
	}
	sh.txn = sh.db.BeginExplicit()
	fmt.Println("ok")
}

func (sh *shell) commit() {
	if sh.txn == nil {
		fmt.Println("no open transaction")
		return
	}
	if err := sh.db.CommitExplicit(sh.txn); err != nil {
		fmt.Println("error:", err)
	}
	sh.txn = nil
}

func (sh *shell) abort() {
	if sh.txn == nil {
		fmt.Println("no open transaction")
		return
	}
	if err := sh.db.AbortExplicit(sh.txn); err != nil {
		fmt.Println("error:", err)
	}
	sh.txn = nil
}

func (sh *shell) flush() {
	if err := sh.db.FlushCommittedTransactions(); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (sh *shell) put(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: put <key> <value>")
		return
	}
	err := sh.db.Insert(sh.txn, nil, []byte(args[0]), []byte(strings.Join(args[1:], " ")), btreeindex.Overwrite)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (sh *shell) get(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: get <key>")
		return
	}
	res, err := sh.db.Find(sh.txn, nil, []byte(args[0]), btreeindex.FindExactMatch)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%s=%q\n", res.Key, res.Record)
}

func (sh *shell) delete(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: delete <key>")
		return
	}
	if err := sh.db.Erase(sh.txn, nil, []byte(args[0]), 0); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (sh *shell) scan() {
	n := 0
	err := sh.db.Scan(sh.txn, func(k, v []byte) bool {
		fmt.Printf("%s=%q\n", k, v)
		n++
		return true
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(strconv.Itoa(n), "record(s)")
}

func (sh *shell) count() {
	n, err := sh.db.Count(sh.txn, true)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(n)
}

func (sh *shell) integrity() {
	if err := sh.db.CheckIntegrity(); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}
