package main

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/juju/ratelimit"
	"github.com/montanaflynn/stats"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/dictkv/kv/dictionary"
	"github.com/pingcap-incubator/dictkv/kv/keystring"
	"github.com/pingcap-incubator/dictkv/kv/kvengine"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// describeKey renders a physical key. Keys carry their own encoding, so no catalog is needed.
func describeKey(raw []byte) (string, error) {
	prefix, key, err := kvengine.SplitKey(raw)
	if err != nil {
		return "", err
	}
	if prefix == 0 {
		if len(key) > 0 && key[0] == 0 {
			dropped, _, err := kvengine.SplitKey(key[1:])
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("catalog drop prefix=%d", dropped), nil
		}
		return fmt.Sprintf("catalog ident=%q", key), nil
	}
	enc, body, err := dictionary.DecodeKey(key)
	if err != nil {
		return "", err
	}
	switch {
	case enc.IsRecordStore():
		id, err := enc.ExtractRecordID(body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("prefix=%d %v rid=%d", prefix, enc, id), nil
	case enc.IsIndex():
		fields, err := enc.ExtractKey(body, nil)
		if err != nil {
			return "", err
		}
		id, err := enc.ExtractRecordID(body)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("prefix=%d %v fields=%s rid=%d", prefix, enc, formatFields(fields), id), nil
	}
	return "", errors.Errorf("key %x has no encoding", raw)
}

func formatFields(fields []keystring.Value) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func newDecodeKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode-key <hex>",
		Short: "Decode a raw physical key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(args[0])
			if err != nil {
				return errors.Trace(err)
			}
			desc, err := describeKey(raw)
			if err != nil {
				return err
			}
			fmt.Println(desc)
			return nil
		},
	}
}

func newIdentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "idents",
		Short: "List the record stores and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := openEngine()
			defer e.Close()
			for _, ident := range e.AllIdents() {
				info, err := e.IdentInfo(ident)
				if err != nil {
					return err
				}
				unique := ""
				if info.Unique {
					unique = " unique"
				}
				fmt.Printf("%-24s prefix=%-6d %v%s\n", ident, info.Prefix, info.Encoding, unique)
			}
			return nil
		},
	}
}

func newScanCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "scan <ident>",
		Short: "Print the entries of a record store or an index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e := openEngine()
			defer e.Close()
			info, err := e.IdentInfo(args[0])
			if err != nil {
				return err
			}
			n := 0
			if info.Encoding.IsRecordStore() {
				rs, err := e.RecordStore(info.Ident)
				if err != nil {
					return err
				}
				return rs.Scan(func(id keystring.RecordID, value []byte) bool {
					fmt.Printf("%d\t%q\n", id, value)
					n++
					return limit <= 0 || n < limit
				})
			}
			idx, err := e.Index(info.Ident)
			if err != nil {
				return err
			}
			return idx.Seek(nil, func(entry dictionary.IndexEntry) bool {
				fmt.Printf("%s\t%d\n", formatFields(entry.Fields), entry.RecordID)
				n++
				return limit <= 0 || n < limit
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many entries, 0 for no limit")
	return cmd
}

func newLoadCommand() *cobra.Command {
	var (
		count     int
		workers   int
		batch     int
		rate      int
		valueSize string
	)
	cmd := &cobra.Command{
		Use:   "load <ident>",
		Short: "Insert random records into a record store, creating it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := units.RAMInBytes(valueSize)
			if err != nil {
				return errors.Trace(err)
			}
			if workers <= 0 || batch <= 0 {
				return errors.New("workers and batch must be positive")
			}
			e := openEngine()
			defer e.Close()
			rs, err := e.RecordStore(args[0])
			if errors.Cause(err) == kvengine.ErrIdentNotFound {
				rs, err = e.CreateRecordStore(args[0])
			}
			if err != nil {
				return err
			}
			start, err := nextRecordID(rs)
			if err != nil {
				return err
			}

			var limit *ratelimit.Bucket
			if rate > 0 {
				limit = ratelimit.NewBucketWithRate(float64(rate), int64(rate))
			}
			lat := &latencies{}
			begin := time.Now()
			g, ctx := errgroup.WithContext(globalContext)
			for w := 0; w < workers; w++ {
				w := w
				g.Go(func() error {
					rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)))
					value := make([]byte, size)
					for i := w * batch; i < count; i += workers * batch {
						end := i + batch
						if end > count {
							end = count
						}
						if limit != nil {
							limit.Wait(int64(end - i))
						}
						unitBegin := time.Now()
						err := e.RunInTxn(ctx, func(wu *kvengine.WriteUnit) error {
							for j := i; j < end; j++ {
								rnd.Read(value)
								if err := rs.Insert(wu, start+keystring.RecordID(j), value); err != nil {
									return err
								}
							}
							return nil
						})
						if err != nil {
							return err
						}
						lat.record(time.Since(unitBegin))
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			elapsed := time.Since(begin)
			log.Infof("loaded %d records of %s into %s in %v, latest seq %d",
				count, units.HumanSize(float64(size)), rs.Ident(), elapsed, e.LatestSeq())
			if summary, err := lat.summary(); err == nil {
				log.Infof("write unit latency %s", summary)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1000, "number of records to insert")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of concurrent writers")
	cmd.Flags().IntVar(&batch, "batch", 16, "records per write unit")
	cmd.Flags().IntVar(&rate, "rate", 0, "records per second across all writers, 0 for no limit")
	cmd.Flags().StringVar(&valueSize, "value-size", "128B", "size of each value, such as 1KB")
	return cmd
}

// latencies collects write unit latencies in milliseconds from concurrent writers.
type latencies struct {
	mu      sync.Mutex
	records []float64
}

func (l *latencies) record(d time.Duration) {
	l.mu.Lock()
	l.records = append(l.records, float64(d)/float64(time.Millisecond))
	l.mu.Unlock()
}

func (l *latencies) summary() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mean, err := stats.Mean(l.records)
	if err != nil {
		return "", errors.Trace(err)
	}
	median, err := stats.Median(l.records)
	if err != nil {
		return "", errors.Trace(err)
	}
	p99, err := stats.Percentile(l.records, 99)
	if err != nil {
		return "", errors.Trace(err)
	}
	max, err := stats.Max(l.records)
	if err != nil {
		return "", errors.Trace(err)
	}
	return fmt.Sprintf("count=%d mean=%.3fms median=%.3fms p99=%.3fms max=%.3fms",
		len(l.records), mean, median, p99, max), nil
}

// nextRecordID returns the id after the largest one in rs, or 1 for an empty store.
func nextRecordID(rs *dictionary.RecordStore) (keystring.RecordID, error) {
	last := keystring.RecordID(0)
	err := rs.Scan(func(id keystring.RecordID, _ []byte) bool {
		last = id
		return true
	})
	return last + 1, err
}
