// Package config loads the runtime option table: a flat key/value
// property set with typed accessors and defaults, in place of
// hardcoded constants.
package config

import (
	"strconv"
	"strings"
	"time"

	"ledgerkv/pkg/journal"
	"ledgerkv/pkg/page"
)

// Config holds every engine tunable, each with the default a fresh
// engine uses when the option table omits it.
type Config struct {
	DataPath    string
	JournalPath string

	PageSize int

	// BufferCount maps a page size to how many buffers of that size
	// the pool should hold; "buffer.count.<size>" in the option table.
	BufferCount map[int]int

	AppendOnly bool

	CommitPolicy journal.CommitPolicy

	TransactionCommitLeadNs  int64
	TransactionCommitStallNs int64

	CheckpointIntervalS int

	MaxFreeListSize      int
	MaxFreeDeltaListSize int

	LongRunningThreshold int

	InitialPages   uint64
	MaximumPages   uint64
	ExtensionPages uint64
}

// Default returns the option table's built-in defaults.
func Default() Config {
	return Config{
		DataPath:                 "./data",
		JournalPath:              "./journal",
		PageSize:                 page.DefaultSize,
		BufferCount:              map[int]int{page.DefaultSize: 256},
		AppendOnly:               false,
		CommitPolicy:             journal.PolicyGroup,
		TransactionCommitLeadNs:  0,
		TransactionCommitStallNs: int64(10 * time.Millisecond),
		CheckpointIntervalS:      30,
		MaxFreeListSize:          10000,
		MaxFreeDeltaListSize:     10000,
		LongRunningThreshold:     1000,
		InitialPages:             16,
		MaximumPages:             0,
		ExtensionPages:           256,
	}
}

// FromProperties overlays string-valued options (as loaded from a
// .properties-style file or CLI flags) onto the defaults.
func FromProperties(props map[string]string) (Config, error) {
	c := Default()
	for k, v := range props {
		switch k {
		case "datapath":
			c.DataPath = v
		case "journalpath":
			c.JournalPath = v
		case "append_only":
			c.AppendOnly = v == "true"
		case "commit_policy":
			switch v {
			case "soft":
				c.CommitPolicy = journal.PolicySoft
			case "hard":
				c.CommitPolicy = journal.PolicyHard
			default:
				c.CommitPolicy = journal.PolicyGroup
			}
		case "checkpoint_interval_s":
			n, err := strconv.Atoi(v)
			if err != nil {
				return c, err
			}
			c.CheckpointIntervalS = n
		case "max_free_list_size":
			n, err := strconv.Atoi(v)
			if err != nil {
				return c, err
			}
			c.MaxFreeListSize = n
		case "max_free_delta_list_size":
			n, err := strconv.Atoi(v)
			if err != nil {
				return c, err
			}
			c.MaxFreeDeltaListSize = n
		case "long_running_threshold":
			n, err := strconv.Atoi(v)
			if err != nil {
				return c, err
			}
			c.LongRunningThreshold = n
		case "transaction_commit_lead_ns":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return c, err
			}
			c.TransactionCommitLeadNs = n
		case "transaction_commit_stall_ns":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return c, err
			}
			c.TransactionCommitStallNs = n
		default:
			if strings.HasPrefix(k, "buffer.count.") {
				size, err := strconv.Atoi(strings.TrimPrefix(k, "buffer.count."))
				if err != nil {
					return c, err
				}
				n, err := strconv.Atoi(v)
				if err != nil {
					return c, err
				}
				c.BufferCount[size] = n
			}
		}
	}
	return c, nil
}

func (c Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalS) * time.Second
}
