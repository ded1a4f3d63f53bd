// Package idem makes externally-triggered mutations safe to retry verbatim:
// the same token yields the same observable result, applied at most once.
// Records persist in SQLite so the guarantee survives process restart;
// coalescing of concurrent duplicates is in-memory.
package idem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rogersnm/griddle/internal/fault"
)

const DefaultRetention = 24 * time.Hour

// Result is the durable outcome of a token's first successful execution.
type Result struct {
	EntryID  string
	Revision string
}

// call tracks one in-flight execution so duplicate callers can wait on it
// instead of running the operation a second time.
type call struct {
	payloadHash string
	done        chan struct{}
	result      Result
	err         error
}

type Coordinator struct {
	records   *RecordStore
	retention time.Duration
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]*call
}

func NewCoordinator(records *RecordStore, retention time.Duration, log *slog.Logger) *Coordinator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		records:   records,
		retention: retention,
		log:       log,
		now:       time.Now,
		inflight:  make(map[string]*call),
	}
}

// Execute runs op at most once for token. A duplicate that arrives while
// the first invocation is still in flight waits for it and receives the
// same result; a duplicate after completion replays the recorded result
// without running op. A token reused with a different payload hash fails
// with ConflictOnRetry. Only terminal outcomes are recorded: transient
// failures leave the token free for a genuine retry.
//
// A pending record (token and hash, no outcome) is written before op runs,
// so the mutation becoming durable and the token being recognized are never
// separated by a crash. A retry that finds a pending record calls resolve,
// which reports whether the interrupted attempt already applied and with
// what result; only when it did not is op run again.
func (c *Coordinator) Execute(ctx context.Context, token, payloadHash string, op func() (Result, error), resolve func() (Result, bool, error)) (Result, error) {
	if token == "" {
		return Result{}, fault.New(fault.SchemaError, "idempotency token is required")
	}

	c.mu.Lock()
	if cl, ok := c.inflight[token]; ok {
		c.mu.Unlock()
		if cl.payloadHash != payloadHash {
			return Result{}, fault.New(fault.ConflictOnRetry, "token %q reused with a different payload", token)
		}
		select {
		case <-cl.done:
			return cl.result, cl.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	rec, err := c.records.Get(token, c.now())
	if err != nil {
		c.mu.Unlock()
		return Result{}, err
	}
	if rec != nil {
		if rec.PayloadHash != payloadHash {
			c.mu.Unlock()
			return Result{}, fault.New(fault.ConflictOnRetry, "token %q reused with a different payload", token)
		}
		if rec.ErrCode != "" {
			c.mu.Unlock()
			return Result{}, fault.New(fault.Code(rec.ErrCode), "%s", rec.ErrMsg)
		}
		if rec.Revision != "" {
			c.mu.Unlock()
			return Result{EntryID: rec.EntryID, Revision: rec.Revision}, nil
		}
		// Pending: the previous attempt died somewhere between writing the
		// record and finalizing it. Resolved below, as the call owner.
	}

	cl := &call{payloadHash: payloadHash, done: make(chan struct{})}
	c.inflight[token] = cl
	c.mu.Unlock()

	finished := false
	defer func() {
		if !finished {
			// op panicked; unblock waiters and free the token.
			cl.err = fault.New(fault.StorageIO, "operation aborted before completion")
			c.finish(token, cl)
		}
	}()

	cl.result, cl.err = c.run(token, payloadHash, rec != nil, op, resolve)

	finished = true
	c.finish(token, cl)
	return cl.result, cl.err
}

// run executes or resolves the operation for an already-registered call,
// maintaining the durable record around it.
func (c *Coordinator) run(token, payloadHash string, pending bool, op func() (Result, error), resolve func() (Result, bool, error)) (Result, error) {
	if pending && resolve != nil {
		res, applied, err := resolve()
		if err != nil {
			return Result{}, err
		}
		if applied {
			if err := c.record(token, payloadHash, res, nil); err != nil {
				c.log.Error("recording idempotency result failed",
					"token", token, "error", err)
			}
			return res, nil
		}
		// The interrupted attempt never committed; re-execute under the
		// existing pending record.
	}
	if !pending {
		now := c.now()
		err := c.records.Put(Record{
			Token:       token,
			PayloadHash: payloadHash,
			CreatedAt:   now,
			ExpiresAt:   now.Add(c.retention),
		})
		if err != nil {
			return Result{}, err
		}
	}

	res, opErr := op()

	if opErr == nil || fault.Terminal(opErr) {
		if err := c.record(token, payloadHash, res, opErr); err != nil {
			// The mutation is already durable. Returning an error here would
			// invite a retry and a double-apply, so surface the result and
			// log the failure; the record stays pending and a later retry
			// resolves it from history.
			c.log.Error("recording idempotency result failed",
				"token", token, "error", err)
		}
	} else if err := c.records.Delete(token); err != nil {
		// A stale pending record is harmless: the retry resolves it,
		// finds no commit, and re-executes.
		c.log.Error("clearing pending idempotency record failed",
			"token", token, "error", err)
	}
	return res, opErr
}

// HashPayload produces the canonical payload fingerprint compared on token
// reuse. JSON marshaling sorts map keys, so equal payloads hash equally.
func HashPayload(op string, v any) string {
	b, err := json.Marshal(struct {
		Op      string `json:"op"`
		Payload any    `json:"payload"`
	}{op, v})
	if err != nil {
		// Params are plain structs; a marshal failure is a programming error.
		panic("idem: unhashable payload: " + err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *Coordinator) record(token, payloadHash string, res Result, opErr error) error {
	now := c.now()
	rec := Record{
		Token:       token,
		PayloadHash: payloadHash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.retention),
	}
	if opErr != nil {
		rec.ErrCode = string(fault.CodeOf(opErr))
		rec.ErrMsg = opErr.Error()
	} else {
		rec.EntryID = res.EntryID
		rec.Revision = res.Revision
	}
	return c.records.Put(rec)
}

func (c *Coordinator) finish(token string, cl *call) {
	c.mu.Lock()
	delete(c.inflight, token)
	c.mu.Unlock()
	close(cl.done)
}
