package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/concourse-db/kernel/pkg/atom"
	"github.com/concourse-db/kernel/pkg/database"
)

// REPL is the interactive, read-only query loop for `browse` (§4.10.5): it
// never calls Acquire, Fsync or Compact, only the query surface (Verify,
// Find, Search, Iterate) and Dump.
type REPL struct {
	db    *database.DB
	liner *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".concourse_admin_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("concourse-admin browse - read-only query REPL")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt("concourse> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			fmt.Println("Bye!")
			r.saveHistory()
			return nil

		case "help", "?":
			r.printHelp()

		case "verify":
			r.cmdVerify(args)

		case "find":
			r.cmdFind(args)

		case "search":
			r.cmdSearch(args)

		case "iterate", "iter":
			r.cmdIterate(args)

		case "dump", "info":
			printDump(r.db.Dump())

		case "clear", "cls":
			fmt.Print("\033[H\033[2J")

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}
	if f, err := os.Create(path); err == nil {
		r.liner.WriteHistory(f)
		f.Close()
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"verify", "find", "search", "iterate", "iter",
		"dump", "info", "clear", "cls", "help", "exit", "quit", "q",
	}
	var out []string
	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

func (r *REPL) printHelp() {
	fmt.Println(`Commands:
  verify <key> <value> <record>   Report presence of (key, value, record)
  find <key> <value>              List records currently holding (key, value)
  search <term>                   List positions of a search term
  iterate [limit]                 Print the newest-first write log
  dump / info                     Print database structure stats
  help                            Show this help
  exit / quit / q                 Exit`)
}

func (r *REPL) cmdVerify(args []string) {
	if len(args) != 3 {
		fmt.Println("usage: verify <key> <value> <record>")
		return
	}
	record, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		fmt.Printf("invalid record: %v\n", err)
		return
	}
	present, err := r.db.Verify(atom.Text(args[0]), parseValue(args[1]), atom.PrimaryKey(record))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println(present)
}

func (r *REPL) cmdFind(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: find <key> <value>")
		return
	}
	records, err := r.db.Find(atom.Text(args[0]), parseValue(args[1]))
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("(no records)")
		return
	}
	for _, rec := range records {
		fmt.Println(rec)
	}
}

func (r *REPL) cmdSearch(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: search <term>")
		return
	}
	hits, err := r.db.Search(args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	if len(hits) == 0 {
		fmt.Println("(no hits)")
		return
	}
	for _, h := range hits {
		fmt.Printf("%s token=%d\n", h.Record, h.Token)
	}
}

func (r *REPL) cmdIterate(args []string) {
	limit := -1
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Printf("invalid limit: %v\n", err)
			return
		}
		limit = n
	}

	n := 0
	for w := range r.db.Iterate() {
		fmt.Printf("%s=%s record=%s action=%s version=%d\n", w.Key, formatValue(w.Value), w.Record, w.Action, w.Version)
		n++
		if limit >= 0 && n >= limit {
			break
		}
	}
}

// parseValue interprets a command token as an atom.Value: an integer token
// becomes a KindInt Value, anything else becomes a KindString Value. There
// is no syntax in this REPL for constructing Tag, Link, Bool or Blob values;
// it is an ad-hoc inspection tool, not a full client.
func parseValue(s string) atom.Value {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return atom.IntValue(n)
	}
	return atom.StringValue(s)
}

func formatValue(v atom.Value) string {
	switch v.Kind {
	case atom.KindNull:
		return "null"
	case atom.KindInt:
		return strconv.FormatInt(v.Int, 10)
	case atom.KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case atom.KindString:
		return v.Str
	case atom.KindTag:
		return "#" + v.Str
	case atom.KindLink:
		return v.Link.String()
	case atom.KindBool:
		return strconv.FormatBool(v.Bool)
	case atom.KindBlob:
		return fmt.Sprintf("blob(%d bytes)", len(v.Blob))
	default:
		return "?"
	}
}
