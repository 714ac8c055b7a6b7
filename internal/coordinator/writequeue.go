package coordinator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/blocksql/blocksql/internal/errs"
)

type requestDoc struct {
	SQL    string   `json:"sql"`
	Params []string `json:"params,omitempty"`
}

type responseDoc struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	// Result carries a JSON-encoded query result produced by the leader;
	// the shape is opaque to the coordinator (pkg/blocksql owns decoding).
	Result json.RawMessage `json:"result,omitempty"`
}

// WriteQueue implements spec §4.6's follower-to-leader write forwarding: a
// follower writes a request file, the leader (polling separately, owned by
// the caller) picks it up and writes the matching response file, and the
// follower returns once it sees that file or the bounded wait expires.
type WriteQueue struct {
	scope *Scope
}

// NewWriteQueue returns a WriteQueue bound to scope.
func NewWriteQueue(scope *Scope) (*WriteQueue, error) {
	q := &WriteQueue{scope: scope}
	if err := os.MkdirAll(q.requestsDir(), 0o755); err != nil {
		return nil, &errs.StoreError{Cause: err}
	}
	if err := os.MkdirAll(q.responsesDir(), 0o755); err != nil {
		return nil, &errs.StoreError{Cause: err}
	}
	return q, nil
}

func (q *WriteQueue) requestsDir() string  { return q.scope.path("requests") }
func (q *WriteQueue) responsesDir() string { return q.scope.path("responses") }

func (q *WriteQueue) requestFile(id string) string {
	return filepath.Join(q.requestsDir(), id+".json")
}
func (q *WriteQueue) responseFile(id string) string {
	return filepath.Join(q.responsesDir(), id+".json")
}

// Forward writes sql as a pending request and waits up to WriteQueueTimeout
// for a leader to answer it, returning the leader's raw JSON result or
// errs.LeaderUnavailableError on timeout.
func (q *WriteQueue) Forward(ctx context.Context, sqlText string, params []string) (json.RawMessage, error) {
	id := uuid.NewString()
	doc := requestDoc{SQL: sqlText, Params: params}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, &errs.StoreError{Cause: err}
	}
	if err := os.WriteFile(q.requestFile(id), raw, 0o644); err != nil {
		return nil, &errs.StoreError{Cause: err}
	}
	defer func() { _ = os.Remove(q.requestFile(id)) }()

	deadline := time.Now().Add(WriteQueueTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, &errs.LeaderUnavailableError{DB: q.scope.db, RequestID: id}
		case <-ticker.C:
			raw, err := os.ReadFile(q.responseFile(id))
			if err != nil {
				if time.Now().After(deadline) {
					return nil, &errs.LeaderUnavailableError{DB: q.scope.db, RequestID: id}
				}
				continue
			}
			defer func() { _ = os.Remove(q.responseFile(id)) }()
			var resp responseDoc
			if err := json.Unmarshal(raw, &resp); err != nil {
				return nil, &errs.StoreError{Cause: err}
			}
			if !resp.OK {
				return nil, &errs.SQLError{Message: resp.Error, SQL: sqlText}
			}
			return resp.Result, nil
		}
	}
}

// PendingRequests lists request ids currently queued, for the leader-side
// poller to drain.
func (q *WriteQueue) PendingRequests() ([]string, error) {
	entries, err := os.ReadDir(q.requestsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errs.StoreError{Cause: err}
	}
	var ids []string
	for _, ent := range entries {
		name := ent.Name()
		const suffix = ".json"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			ids = append(ids, name[:len(name)-len(suffix)])
		}
	}
	return ids, nil
}

// ReadRequest reads one queued request's SQL and params.
func (q *WriteQueue) ReadRequest(id string) (string, []string, error) {
	raw, err := os.ReadFile(q.requestFile(id))
	if err != nil {
		return "", nil, &errs.StoreError{Cause: err}
	}
	var doc requestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", nil, &errs.StoreError{Cause: err}
	}
	return doc.SQL, doc.Params, nil
}

// Respond writes the leader's answer for a pending request id.
func (q *WriteQueue) Respond(id string, result json.RawMessage, respErr error) error {
	doc := responseDoc{OK: respErr == nil}
	if respErr != nil {
		doc.Error = respErr.Error()
	} else {
		doc.Result = result
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return &errs.StoreError{Cause: err}
	}
	return os.WriteFile(q.responseFile(id), raw, 0o644)
}
