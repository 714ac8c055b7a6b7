package coordinator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blocksql/blocksql/internal/errs"
)

// EventKind identifies the kind of coordination event published to the
// notifier log (spec §4.6 Notifier).
type EventKind int

const (
	DataChanged EventKind = iota
	SchemaChanged
	LeaderChanged
)

func (k EventKind) String() string {
	switch k {
	case SchemaChanged:
		return "SchemaChanged"
	case LeaderChanged:
		return "LeaderChanged"
	default:
		return "DataChanged"
	}
}

// Event is one published coordination event.
type Event struct {
	Seq         uint64
	Kind        EventKind
	DB          string
	TimestampMs int64
}

type eventDoc struct {
	Kind        string `json:"kind"`
	DB          string `json:"db"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// Notifier is an append-only, polled event log under
// <scope>/events/<seq>.json, used to propagate DataChanged, SchemaChanged,
// and LeaderChanged events across instances sharing a database (spec §4.6).
type Notifier struct {
	scope *Scope
	seq   atomic.Uint64
}

// NewNotifier returns a Notifier bound to scope, having scanned it for the
// highest existing sequence number so Publish never reuses one.
func NewNotifier(scope *Scope) (*Notifier, error) {
	n := &Notifier{scope: scope}
	if err := os.MkdirAll(n.eventsDir(), 0o755); err != nil {
		return nil, &errs.StoreError{Cause: err}
	}
	seqs, err := n.listSeqs()
	if err != nil {
		return nil, err
	}
	if len(seqs) > 0 {
		n.seq.Store(seqs[len(seqs)-1])
	}
	return n, nil
}

func (n *Notifier) eventsDir() string { return n.scope.path("events") }

func (n *Notifier) eventFile(seq uint64) string {
	return filepath.Join(n.eventsDir(), strconv.FormatUint(seq, 10)+".json")
}

func (n *Notifier) listSeqs() ([]uint64, error) {
	entries, err := os.ReadDir(n.eventsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errs.StoreError{Cause: err}
	}
	var seqs []uint64
	for _, ent := range entries {
		name := ent.Name()
		const suffix = ".json"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		v, err := strconv.ParseUint(name[:len(name)-len(suffix)], 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, v)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Publish durably appends a new event, advancing the sequence counter.
func (n *Notifier) Publish(kind EventKind, db string) error {
	seq := n.seq.Add(1)
	doc := eventDoc{Kind: kind.String(), DB: db, TimestampMs: time.Now().UnixMilli()}
	raw, err := json.Marshal(doc)
	if err != nil {
		return &errs.BroadcastError{DB: db, Cause: err}
	}
	if err := os.WriteFile(n.eventFile(seq), raw, 0o644); err != nil {
		return &errs.BroadcastError{DB: db, Cause: err}
	}
	return nil
}

// Subscribe starts a polling goroutine that invokes handler for every event
// published after lastSeen (0 to receive every event already on disk). It
// returns a stop function; calling it blocks until the goroutine exits.
func (n *Notifier) Subscribe(ctx context.Context, lastSeen uint64, handler func(Event)) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		seen := lastSeen
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				seqs, err := n.listSeqs()
				if err != nil {
					continue
				}
				for _, seq := range seqs {
					if seq <= seen {
						continue
					}
					raw, err := os.ReadFile(n.eventFile(seq))
					if err != nil {
						continue
					}
					var doc eventDoc
					if json.Unmarshal(raw, &doc) != nil {
						continue
					}
					kind := DataChanged
					switch doc.Kind {
					case "SchemaChanged":
						kind = SchemaChanged
					case "LeaderChanged":
						kind = LeaderChanged
					}
					handler(Event{Seq: seq, Kind: kind, DB: doc.DB, TimestampMs: doc.TimestampMs})
					seen = seq
				}
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}
