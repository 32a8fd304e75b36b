// Package audit is the append-only audit trail for record lifecycles.
//
// Each entry records who did what to which record, from where. Details
// snapshots are sealed with AES-256-GCM before they reach storage, bound to
// the entry's event id, model and record id. Entries form a SHA-256 hash
// chain so an exported trail can be checked for tampering offline.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	icrypto "github.com/jmcleod/donorhub/internal/crypto"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/internal/uuid"
	"github.com/jmcleod/donorhub/storage"
)

// Action is the kind of change an entry records.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

const (
	entriesCollection = "audit_log"
	chainCollection   = "audit_chain"
	chainHeadID       = 1
	detailsAADVer     = 1
	maxChainRetries   = 5
)

// Event is the input to Record.
type Event struct {
	UserID   int64 // 0 when there is no authenticated actor
	Action   Action
	Model    string
	RecordID int64 // 0 when the entry is not about a single record
	Details  any
	IP       string
}

// Entry is a stored audit entry.
type Entry struct {
	ID            int64           `json:"id"`
	Seq           int64           `json:"seq"`
	EventID       string          `json:"eventId"`
	UserID        *int64          `json:"userId"`
	Action        Action          `json:"action"`
	Model         string          `json:"model"`
	RecordID      *int64          `json:"recordId"`
	SealedDetails []byte          `json:"sealedDetails,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	IP            string          `json:"ipAddress,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	PrevHash      string          `json:"prevHash"`
	Hash          string          `json:"hash"`
}

type chainHead struct {
	Seq  int64  `json:"seq"`
	Hash string `json:"hash"`
}

// Sink accepts audit events.
type Sink interface {
	Record(ctx context.Context, ev Event) (Entry, error)
}

// Sealer seals and opens details blobs.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// Publisher mirrors committed entries to a downstream system. Publish must
// not block the caller for long and must not fail the write.
type Publisher interface {
	Publish(ctx context.Context, e Entry)
}

// Log is the storage-backed Sink.
type Log struct {
	repo      storage.Repository
	entries   *storage.Collection[Entry]
	head      *storage.Collection[chainHead]
	sealer    Sealer
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu sync.Mutex
}

var _ Sink = (*Log)(nil)

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Log) { lg.logger = l }
}

// WithPublisher mirrors committed entries to p.
func WithPublisher(p Publisher) Option {
	return func(lg *Log) { lg.publisher = p }
}

// WithMetrics records write outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lg *Log) { lg.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(lg *Log) { lg.now = now }
}

// NewLog returns a Log persisting into repo and sealing details with s.
func NewLog(repo storage.Repository, s Sealer, opts ...Option) *Log {
	l := &Log{
		repo:    repo,
		entries: storage.NewCollection[Entry](repo, entriesCollection),
		head:    storage.NewCollection[chainHead](repo, chainCollection),
		sealer:  s,
		logger:  slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends ev to the trail and returns the stored entry with its
// details in the clear.
func (l *Log) Record(ctx context.Context, ev Event) (Entry, error) {
	e, err := l.record(ctx, ev)
	l.metrics.ObserveAudit(err == nil)
	if err != nil {
		return Entry{}, err
	}
	if l.publisher != nil {
		l.publisher.Publish(ctx, e)
	}
	return e, nil
}

func (l *Log) record(ctx context.Context, ev Event) (Entry, error) {
	if ev.Action == "" || ev.Model == "" {
		return Entry{}, errors.New("audit: action and model are required")
	}
	e := Entry{
		EventID:   uuid.New(),
		Action:    ev.Action,
		Model:     ev.Model,
		IP:        ev.IP,
		CreatedAt: l.now().UTC(),
	}
	if ev.UserID != 0 {
		e.UserID = &ev.UserID
	}
	if ev.RecordID != 0 {
		e.RecordID = &ev.RecordID
	}
	if ev.Details != nil {
		raw, err := json.Marshal(ev.Details)
		if err != nil {
			return Entry{}, fmt.Errorf("audit: encoding details: %w", err)
		}
		sealed, err := l.sealer.Seal(raw, detailsAAD(e))
		if err != nil {
			return Entry{}, fmt.Errorf("audit: sealing details: %w", err)
		}
		e.SealedDetails = sealed
		e.Details = raw
	}

	id, err := l.repo.NextID(ctx, entriesCollection)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: allocating id: %w", err)
	}
	e.ID = id

	l.mu.Lock()
	defer l.mu.Unlock()
	for attempt := 0; ; attempt++ {
		err = l.repo.Batch(ctx, func(tx storage.BatchTx) error {
			return l.appendTx(tx, &e)
		})
		if !errors.Is(err, storage.ErrCASFailed) || attempt >= maxChainRetries {
			break
		}
	}
	if err != nil {
		return Entry{}, fmt.Errorf("audit: appending entry: %w", err)
	}
	return e, nil
}

// appendTx links e to the current chain head and advances the head. The
// head is replaced by CAS so writers in other processes cannot fork it.
func (l *Log) appendTx(tx storage.BatchTx, e *Entry) error {
	head, err := l.head.LoadTx(tx, chainHeadID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		head = storage.Doc[chainHead]{Value: chainHead{Hash: GenesisHash}}
	case err != nil:
		return err
	}
	e.Seq = head.Value.Seq + 1
	e.PrevHash = head.Value.Hash
	e.Hash = ChainHash(*e)

	stored := *e
	stored.Details = nil
	if err := l.entries.PutTx(tx, e.ID, stored); err != nil {
		return err
	}
	return l.head.ReplaceTx(tx, chainHeadID, head.Version, chainHead{Seq: e.Seq, Hash: e.Hash})
}

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	Model    string
	RecordID int64
	UserID   int64
	Action   Action
	Offset   int
	Limit    int
}

// List returns matching entries newest first, with details opened, and the
// total match count.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	var where []storage.Filter[Entry]
	if f.Model != "" {
		where = append(where, storage.Eq(func(e Entry) string { return e.Model }, f.Model))
	}
	if f.Action != "" {
		where = append(where, storage.Eq(func(e Entry) Action { return e.Action }, f.Action))
	}
	if f.RecordID != 0 {
		where = append(where, storage.Eq(func(e Entry) int64 { return deref(e.RecordID) }, f.RecordID))
	}
	if f.UserID != 0 {
		where = append(where, storage.Eq(func(e Entry) int64 { return deref(e.UserID) }, f.UserID))
	}
	entries, total, err := l.entries.Find(ctx, storage.Query[Entry]{
		Where:  where,
		Order:  storage.By(func(e Entry) int64 { return e.Seq }, true),
		Offset: f.Offset,
		Limit:  f.Limit,
	})
	if err != nil {
		return nil, 0, err
	}
	for i := range entries {
		if err := l.open(&entries[i]); err != nil {
			return nil, 0, err
		}
	}
	return entries, total, nil
}

// Export returns every entry in chain order with details left sealed.
func (l *Log) Export(ctx context.Context) ([]Entry, error) {
	entries, _, err := l.entries.Find(ctx, storage.Query[Entry]{
		Order: storage.By(func(e Entry) int64 { return e.Seq }, false),
	})
	return entries, err
}

func (l *Log) open(e *Entry) error {
	if len(e.SealedDetails) == 0 {
		return nil
	}
	raw, err := l.sealer.Open(e.SealedDetails, detailsAAD(*e))
	if err != nil {
		return fmt.Errorf("audit: opening details of entry %d: %w", e.ID, err)
	}
	e.Details = raw
	return nil
}

func detailsAAD(e Entry) []byte {
	return icrypto.AADAuditDetails(e.EventID, e.Model, deref(e.RecordID), detailsAADVer)
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// RecordQuietly records ev on sink and logs, rather than returns, any
// failure. Lifecycle operations use it after their write has committed.
func RecordQuietly(ctx context.Context, sink Sink, logger *slog.Logger, ev Event) {
	if sink == nil {
		return
	}
	if _, err := sink.Record(ctx, ev); err != nil {
		logger.WarnContext(ctx, "audit write failed",
			slog.String("model", ev.Model),
			slog.Int64("record_id", ev.RecordID),
			slog.String("action", string(ev.Action)),
			slog.String("error", err.Error()),
		)
	}
}
