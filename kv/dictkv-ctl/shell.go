package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/dictkv/kv/dictionary"
	"github.com/pingcap-incubator/dictkv/kv/keystring"
	"github.com/pingcap-incubator/dictkv/kv/kvengine"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell over a storage engine",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			e := openEngine()
			defer e.Close()
			sh := &shell{ctx: globalContext, e: e, out: os.Stdout}
			sh.loop()
		},
	}
}

type shell struct {
	ctx context.Context
	e   *kvengine.KVEngine
	out io.Writer
}

func (sh *shell) loop() {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       "/tmp/dictkv-ctl.history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return
		}
		if line == "" {
			continue
		}
		if err := sh.exec(line); err != nil {
			fmt.Fprintf(sh.out, "ERROR: %v\n", err)
		}
	}
}

// exec runs one shell line.
func (sh *shell) exec(line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return errors.Trace(err)
	}
	cmd := sh.commands()
	cmd.SetArgs(args)
	cmd.SetOutput(sh.out)
	return cmd.Execute()
}

func (sh *shell) commands() *cobra.Command {
	root := &cobra.Command{
		Use:           "shell",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	leaf := func(use, short string, args cobra.PositionalArgs, run func(args []string) error) *cobra.Command {
		return &cobra.Command{
			Use:                   use,
			Short:                 short,
			Args:                  args,
			DisableFlagsInUseLine: true,
			RunE:                  func(cmd *cobra.Command, args []string) error { return run(args) },
		}
	}

	createIndex := leaf("create-index ident ordering", "Create an index, ordering is like +- for two fields",
		cobra.ExactArgs(2), nil)
	unique := createIndex.Flags().Bool("unique", false, "reject equal keys")
	createIndex.RunE = func(cmd *cobra.Command, args []string) error {
		ord, err := parseOrdering(args[1])
		if err != nil {
			return err
		}
		if _, err := sh.e.CreateIndex(args[0], ord, *unique); err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "created index %s\n", args[0])
		return nil
	}

	root.AddCommand(
		leaf("idents", "List record stores and indexes", cobra.NoArgs, sh.idents),
		leaf("create-record-store ident", "Create a record store", cobra.ExactArgs(1), func(args []string) error {
			if _, err := sh.e.CreateRecordStore(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(sh.out, "created record store %s\n", args[0])
			return nil
		}),
		createIndex,
		leaf("drop ident", "Drop a record store or an index", cobra.ExactArgs(1), func(args []string) error {
			if err := sh.e.DropIdent(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(sh.out, "dropped %s\n", args[0])
			return nil
		}),
		leaf("insert ident rid value", "Insert a record", cobra.ExactArgs(3), sh.insert),
		leaf("update ident rid value", "Update a record", cobra.ExactArgs(3), sh.update),
		leaf("get ident rid", "Read a record", cobra.ExactArgs(2), sh.get),
		leaf("delete ident rid", "Delete a record", cobra.ExactArgs(2), sh.delete),
		leaf("index ident rid field...", "Add an index entry", cobra.MinimumNArgs(3), sh.index),
		leaf("unindex ident rid field...", "Remove an index entry", cobra.MinimumNArgs(3), sh.unindex),
		leaf("scan ident [limit]", "Print entries of a record store or an index", cobra.RangeArgs(1, 2), sh.scan),
		leaf("seek ident field...", "Print index entries starting at the given fields", cobra.MinimumNArgs(1), sh.seek),
		leaf("decode-key hex", "Decode a raw physical key", cobra.ExactArgs(1), func(args []string) error {
			raw, err := hex.DecodeString(args[0])
			if err != nil {
				return errors.Trace(err)
			}
			desc, err := describeKey(raw)
			if err != nil {
				return err
			}
			fmt.Fprintln(sh.out, desc)
			return nil
		}),
	)
	return root
}

func (sh *shell) idents(args []string) error {
	for _, ident := range sh.e.AllIdents() {
		info, err := sh.e.IdentInfo(ident)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%s %v\n", ident, info.Encoding)
	}
	return nil
}

func (sh *shell) withRecord(args []string, fn func(rs *dictionary.RecordStore, wu *kvengine.WriteUnit, id keystring.RecordID) error) error {
	rs, err := sh.e.RecordStore(args[0])
	if err != nil {
		return err
	}
	id, err := parseRecordID(args[1])
	if err != nil {
		return err
	}
	return sh.e.RunInTxn(sh.ctx, func(wu *kvengine.WriteUnit) error {
		return fn(rs, wu, id)
	})
}

func (sh *shell) insert(args []string) error {
	return sh.withRecord(args, func(rs *dictionary.RecordStore, wu *kvengine.WriteUnit, id keystring.RecordID) error {
		return rs.Insert(wu, id, []byte(args[2]))
	})
}

func (sh *shell) update(args []string) error {
	return sh.withRecord(args, func(rs *dictionary.RecordStore, wu *kvengine.WriteUnit, id keystring.RecordID) error {
		return rs.Update(wu, id, []byte(args[2]))
	})
}

func (sh *shell) delete(args []string) error {
	return sh.withRecord(args, func(rs *dictionary.RecordStore, wu *kvengine.WriteUnit, id keystring.RecordID) error {
		return rs.Delete(wu, id)
	})
}

func (sh *shell) get(args []string) error {
	return sh.withRecord(args, func(rs *dictionary.RecordStore, wu *kvengine.WriteUnit, id keystring.RecordID) error {
		val, err := rs.Get(wu, id)
		if err != nil {
			return err
		}
		if val == nil {
			fmt.Fprintf(sh.out, "record %d not found\n", id)
		} else {
			fmt.Fprintf(sh.out, "%q\n", val)
		}
		return nil
	})
}

func (sh *shell) withIndex(args []string, fn func(idx *dictionary.Index, wu *kvengine.WriteUnit, id keystring.RecordID, fields []keystring.Value) error) error {
	idx, err := sh.e.Index(args[0])
	if err != nil {
		return err
	}
	id, err := parseRecordID(args[1])
	if err != nil {
		return err
	}
	fields := parseFields(args[2:])
	return sh.e.RunInTxn(sh.ctx, func(wu *kvengine.WriteUnit) error {
		return fn(idx, wu, id, fields)
	})
}

func (sh *shell) index(args []string) error {
	return sh.withIndex(args, func(idx *dictionary.Index, wu *kvengine.WriteUnit, id keystring.RecordID, fields []keystring.Value) error {
		return idx.Insert(wu, fields, id, nil)
	})
}

func (sh *shell) unindex(args []string) error {
	return sh.withIndex(args, func(idx *dictionary.Index, wu *kvengine.WriteUnit, id keystring.RecordID, fields []keystring.Value) error {
		return idx.Unindex(wu, fields, id)
	})
}

func (sh *shell) scan(args []string) error {
	limit := 0
	if len(args) == 2 {
		var err error
		if limit, err = strconv.Atoi(args[1]); err != nil {
			return errors.Errorf("invalid limit %s", args[1])
		}
	}
	info, err := sh.e.IdentInfo(args[0])
	if err != nil {
		return err
	}
	n := 0
	more := func() bool {
		n++
		return limit <= 0 || n < limit
	}
	if info.Encoding.IsRecordStore() {
		rs, err := sh.e.RecordStore(args[0])
		if err != nil {
			return err
		}
		return rs.Scan(func(id keystring.RecordID, value []byte) bool {
			fmt.Fprintf(sh.out, "%d %q\n", id, value)
			return more()
		})
	}
	return sh.seekFrom(args[0], nil, more)
}

func (sh *shell) seek(args []string) error {
	return sh.seekFrom(args[0], parseFields(args[1:]), func() bool { return true })
}

func (sh *shell) seekFrom(ident string, fields []keystring.Value, more func() bool) error {
	idx, err := sh.e.Index(ident)
	if err != nil {
		return err
	}
	return idx.Seek(fields, func(entry dictionary.IndexEntry) bool {
		fmt.Fprintf(sh.out, "%s %d\n", formatFields(entry.Fields), entry.RecordID)
		return more()
	})
}

func parseRecordID(s string) (keystring.RecordID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.Errorf("invalid record id %s", s)
	}
	return keystring.RecordID(v), nil
}

// parseOrdering reads one direction per field: + for ascending, - for descending.
func parseOrdering(s string) (keystring.Ordering, error) {
	if len(s) > keystring.MaxOrderingFields {
		return 0, errors.Errorf("ordering %s has more than %d fields", s, keystring.MaxOrderingFields)
	}
	dirs := make([]int, 0, len(s))
	for _, c := range s {
		switch c {
		case '+':
			dirs = append(dirs, 1)
		case '-':
			dirs = append(dirs, -1)
		default:
			return 0, errors.Errorf("invalid ordering %s", s)
		}
	}
	return keystring.MakeOrdering(dirs...), nil
}

// parseFields reads field literals: null, true, false, integers, floats, 0x-prefixed bytes, and anything else as a
// string.
func parseFields(args []string) []keystring.Value {
	fields := make([]keystring.Value, 0, len(args))
	for _, arg := range args {
		fields = append(fields, parseField(arg))
	}
	return fields
}

func parseField(s string) keystring.Value {
	switch s {
	case "null":
		return keystring.Null()
	case "true":
		return keystring.Bool(true)
	case "false":
		return keystring.Bool(false)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return keystring.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return keystring.Float(f)
	}
	if strings.HasPrefix(s, "0x") {
		if b, err := hex.DecodeString(s[2:]); err == nil {
			return keystring.Bytes(b)
		}
	}
	return keystring.String(s)
}
