// Command appendkv reads and writes a single appendkv data file.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"appendkv"
	"appendkv/internal/log"
	"appendkv/internal/options"
	"appendkv/internal/snapshot"
)

const usage = `Usage:
  appendkv [flags] FILE get KEY
  appendkv [flags] FILE find KEY
  appendkv [flags] FILE insert KEY VALUE
  appendkv [flags] FILE update KEY VALUE
  appendkv [flags] FILE delete KEY
  appendkv [flags] FILE keys

Flags:
`

var (
	errUsage         = errors.New("invalid usage")
	errStaleSnapshot = errors.New("index snapshot does not match the data file")
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "appendkv: %v\n", err)
		}
		os.Exit(1)
	}
}

type cliFlags struct {
	config       string
	persistIndex bool
	mmap         bool
	sync         bool
	lock         bool
	metrics      bool
	logLevel     string
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("appendkv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	var cf cliFlags
	fs.StringVar(&cf.config, "config", "", "YAML options file")
	fs.BoolVar(&cf.persistIndex, "persist-index", false, "store the index under the +index key and read through it")
	fs.BoolVar(&cf.mmap, "mmap", false, "scan the file through a read-only memory map")
	fs.BoolVar(&cf.sync, "sync", false, "fsync after every write")
	fs.BoolVar(&cf.lock, "lock", false, "hold an exclusive lock on the file")
	fs.BoolVar(&cf.metrics, "metrics", false, "print metrics to stderr on exit")
	fs.StringVar(&cf.logLevel, "log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	rest := fs.Args()
	if len(rest) < 2 {
		fs.Usage()
		return errUsage
	}
	file, action, params := rest[0], rest[1], rest[2:]

	opts, err := options.Load(nil)
	if cf.config != "" {
		opts, err = options.LoadFile(cf.config)
	}
	if err != nil {
		return err
	}
	opts.Path = file
	// explicitly set flags override the config file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mmap":
			opts.IOType = options.FileIO
			if cf.mmap {
				opts.IOType = options.MMap
			}
		case "sync":
			opts.Sync = cf.sync
		case "lock":
			opts.FileLock = cf.lock
		case "log-level":
			opts.LogLevel = cf.logLevel
		}
	})
	if err := log.SetLevel(opts.LogLevel); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	db, err := appendkv.OpenWithOptions(opts, appendkv.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf("close db err : %v", err)
		}
		if cf.metrics {
			writeMetrics(stderr, reg)
		}
	}()

	c := &command{db: db, out: stdout, persistIndex: cf.persistIndex}
	if err := c.exec(action, params); err != nil {
		if errors.Is(err, errUsage) {
			fs.Usage()
		}
		return err
	}
	return nil
}

type command struct {
	db           *appendkv.DB
	out          io.Writer
	persistIndex bool
}

func (c *command) exec(action string, params []string) error {
	want := map[string]int{
		"get": 1, "find": 1, "delete": 1,
		"insert": 2, "update": 2,
		"keys": 0,
	}
	n, ok := want[action]
	if !ok || len(params) != n {
		return errUsage
	}

	if action == "get" && c.persistIndex {
		return c.getThroughSnapshot([]byte(params[0]))
	}
	// every other path works from a freshly loaded index
	if err := c.db.Load(); err != nil {
		return err
	}

	switch action {
	case "get":
		value, found, err := c.db.Get([]byte(params[0]))
		return c.printValue(params[0], value, found, err)
	case "find":
		value, found, err := c.db.Find([]byte(params[0]))
		return c.printValue(params[0], value, found, err)
	case "insert":
		return c.write(c.db.Insert([]byte(params[0]), []byte(params[1])))
	case "update":
		return c.write(c.db.Update([]byte(params[0]), []byte(params[1])))
	case "delete":
		return c.write(c.db.Delete([]byte(params[0])))
	case "keys":
		for _, k := range c.db.Keys() {
			fmt.Fprintf(c.out, "%s\n", k)
		}
	}
	return nil
}

func (c *command) write(err error) error {
	if err != nil || !c.persistIndex {
		return err
	}
	return c.storeIndex()
}

// storeIndex appends a snapshot of the index, minus the snapshot key
// itself, as the value of the snapshot key.
func (c *command) storeIndex() error {
	c.db.Forget(snapshot.IndexKey)
	idx := c.db.IndexEntries()
	entries := make([]snapshot.Entry, 0, len(idx))
	for _, e := range idx {
		entries = append(entries, snapshot.Entry{Key: e.Key, Offset: e.Offset})
	}
	if err := c.db.Insert(snapshot.IndexKey, snapshot.Encode(entries)); err != nil {
		return fmt.Errorf("store index: %w", err)
	}
	log.Debugf("stored index snapshot with %d keys", len(entries))
	return nil
}

func (c *command) getThroughSnapshot(key []byte) error {
	data, found, err := c.db.Find(snapshot.IndexKey)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no index snapshot in %s, write with -persist-index first", c.db.Path())
	}
	entries, err := snapshot.Decode(data)
	if err != nil {
		return err
	}
	idx := make([]appendkv.IndexEntry, 0, len(entries))
	offset := int64(-1)
	for _, e := range entries {
		idx = append(idx, appendkv.IndexEntry{Key: e.Key, Offset: e.Offset})
		if bytes.Equal(e.Key, key) {
			offset = e.Offset
		}
	}
	if err := c.db.RestoreIndex(idx); err != nil {
		return err
	}
	if offset < 0 {
		return c.printValue(string(key), nil, false, nil)
	}

	got, value, err := c.db.GetAt(offset)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, key) {
		return fmt.Errorf("%w: offset %d holds key %q, not %q", errStaleSnapshot, offset, got, key)
	}
	return c.printValue(string(key), value, true, nil)
}

func (c *command) printValue(key string, value []byte, found bool, err error) error {
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%q not found", key)
	}
	fmt.Fprintf(c.out, "%s\n", value)
	return nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) {
	mfs, err := g.Gather()
	if err != nil {
		log.Warnf("gather metrics err : %v", err)
		return
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			log.Warnf("write metrics err : %v", err)
			return
		}
	}
}
