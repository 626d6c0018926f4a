package main

import (
	"errors"
	"io"
	"strings"

	"github.com/ergochat/readline"

	"github.com/drpcorg/docshard"
)

// REPL per se.
type REPL struct {
	store *docshard.Store
	rl    *readline.Instance
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("open"),
	readline.PcItem("close"),

	readline.PcItem("insert"),
	readline.PcItem("get"),
	readline.PcItem("ensureindex"),
	readline.PcItem("orphan"),

	readline.PcItem("repair"),
	readline.PcItem("verify"),

	readline.PcItem("param"),
	readline.PcItem("stats"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open() (err error) {
	repl.rl, err = readline.NewFromConfig(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".docshard_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	if repl.store != nil {
		_ = repl.store.Close()
		repl.store = nil
	}
	return nil
}

func (repl *REPL) REPL() error {
	line, err := repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}

	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	ws := strings.IndexAny(line, " \t\r\n")
	cmd := ""
	if ws > 0 {
		cmd = line[:ws]
		line = strings.TrimSpace(line[ws:])
	} else {
		cmd = line
		line = ""
	}

	switch cmd {
	case "help":
		err = repl.CommandHelp(line)
	// ----- store handling -----
	case "open":
		err = repl.CommandOpen(line)
	case "close":
		err = repl.CommandClose(line)
	case "exit", "quit":
		_ = repl.CommandClose(line)
		err = io.EOF
	// ----- documents and indexes -----
	case "insert":
		err = repl.CommandInsert(line)
	case "get":
		err = repl.CommandGet(line)
	case "ensureindex":
		err = repl.CommandEnsureIndex(line)
	case "orphan":
		err = repl.CommandOrphan(line)
	// ----- repair and integrity -----
	case "repair":
		err = repl.CommandRepair(line)
	case "verify":
		err = repl.CommandVerify(line)
	// ----- tuning and stats -----
	case "param":
		err = repl.CommandParam(line)
	case "stats":
		err = repl.CommandStats(line)
	default:
		err = errors.New("unknown command; try help")
	}
	return err
}
