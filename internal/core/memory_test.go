package core

// In-memory store fakes backing the engine tests. They honor the same
// contracts as the Postgres implementations, mutexed so the concurrency
// tests can hammer them from multiple goroutines.

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type memCatalog struct {
	mu   sync.Mutex
	keys []EquipmentKey
	err  error
}

func (c *memCatalog) EquipmentFor(_ context.Context, location, division string) ([]EquipmentKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var out []EquipmentKey
	for _, k := range c.keys {
		if k.Location == location && k.Division == division {
			out = append(out, k)
		}
	}
	return out, nil
}

type memReportStore struct {
	mu       sync.Mutex
	records  []FinalReportRecord
	failWith error
}

func (s *memReportStore) Upsert(_ context.Context, rec FinalReportRecord, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	prev := -1
	for i, r := range s.records {
		if r.Key.InvNumber == rec.Key.InvNumber && r.Key.MeterType == rec.Key.MeterType {
			if prev < 0 || r.EffectiveDate.After(s.records[prev].EffectiveDate) {
				prev = i
			}
		}
	}
	if prev >= 0 && rec.EffectiveDate.Sub(s.records[prev].EffectiveDate) < DedupWindowDays*24*time.Hour {
		if !replace {
			return &DuplicateError{Key: rec.Key, ExistingDate: s.records[prev].EffectiveDate}
		}
		s.records[prev] = rec
		return nil
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memReportStore) LastReading(_ context.Context, key EquipmentKey) (*LastReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *FinalReportRecord
	for i, r := range s.records {
		if r.Key.InvNumber == key.InvNumber && r.Key.MeterType == key.MeterType {
			if last == nil || r.EffectiveDate.After(last.EffectiveDate) {
				last = &s.records[i]
			}
		}
	}
	if last == nil {
		return nil, nil
	}
	return &LastReading{Value: last.Reading, Timestamp: last.EffectiveDate}, nil
}

func (s *memReportStore) Records(_ context.Context, from, to time.Time) ([]FinalReportRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FinalReportRecord
	for _, r := range s.records {
		if !r.EffectiveDate.Before(from) && !r.EffectiveDate.After(to) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out, nil
}

type memHistoryStore struct {
	mu      sync.Mutex
	records []FinalReportRecord
}

func (s *memHistoryStore) Append(_ context.Context, rec FinalReportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memHistoryStore) LastReading(_ context.Context, key EquipmentKey) (*LastReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *FinalReportRecord
	for i, r := range s.records {
		if r.Key.InvNumber == key.InvNumber && r.Key.MeterType == key.MeterType {
			if last == nil || r.EffectiveDate.After(last.EffectiveDate) {
				last = &s.records[i]
			}
		}
	}
	if last == nil {
		return nil, nil
	}
	return &LastReading{Value: last.Reading, Timestamp: last.EffectiveDate}, nil
}

type memRequestStore struct {
	mu       sync.Mutex
	requests map[string]PendingRequest
}

func newMemRequestStore() *memRequestStore {
	return &memRequestStore{requests: make(map[string]PendingRequest)}
}

func (s *memRequestStore) CreateIfAbsent(_ context.Context, req PendingRequest, since time.Time) (*PendingRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *PendingRequest
	for id := range s.requests {
		existing := s.requests[id]
		if existing.Status != StatusPending || existing.Key.InvNumber != req.Key.InvNumber ||
			existing.Key.MeterType != req.Key.MeterType || existing.CreatedAt.Before(since) {
			continue
		}
		if found == nil || existing.CreatedAt.After(found.CreatedAt) {
			found = &existing
		}
	}
	if found != nil {
		return found, true, nil
	}
	s.requests[req.ID] = req
	return &req, false, nil
}

func (s *memRequestStore) Resolve(_ context.Context, id string, to RequestStatus, actor Actor, at time.Time, finalize func(req *PendingRequest) error) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != StatusPending {
		return nil, ErrRequestNotFound
	}
	req.Status = to
	req.ResolvedBy = &actor
	req.ResolvedAt = &at
	if finalize != nil {
		// Mirror the transactional store: a finalize failure leaves the
		// stored request pending.
		if err := finalize(&req); err != nil {
			return nil, err
		}
	}
	s.requests[id] = req
	return &req, nil
}

func (s *memRequestStore) ListPending(_ context.Context, division string) ([]PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingRequest
	for _, req := range s.requests {
		if req.Status != StatusPending {
			continue
		}
		if division != "" && req.Key.Division != division {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memRequestStore) ExpireOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, req := range s.requests {
		if req.Status == StatusPending && req.CreatedAt.Before(cutoff) {
			req.Status = StatusExpired
			s.requests[id] = req
			n++
		}
	}
	return n, nil
}

type memSubmission struct {
	batchID string
	sub     Submitter
	at      time.Time
	row     SubmissionRow
}

type memSubmissionStore struct {
	mu   sync.Mutex
	rows []memSubmission
}

func (s *memSubmissionStore) Record(_ context.Context, batchID string, sub Submitter, at time.Time, rows []SubmissionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.rows = append(s.rows, memSubmission{batchID: batchID, sub: sub, at: at, row: row})
	}
	return nil
}

func (s *memSubmissionStore) AmendLatestDeparted(_ context.Context, key EquipmentKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := -1
	for i, r := range s.rows {
		if r.row.Key.InvNumber == key.InvNumber && r.row.Key.MeterType == key.MeterType {
			if latest < 0 || r.at.After(s.rows[latest].at) {
				latest = i
			}
		}
	}
	if latest < 0 || s.rows[latest].row.Comment != string(CommentDeparted) {
		return false, nil
	}
	s.rows[latest].row.Reading = nil
	s.rows[latest].row.Comment = ConfirmedDepartedComment
	return true, nil
}

type memDirectory struct {
	byDivision map[string][]Actor
	all        []Actor
}

func (d *memDirectory) AdminsFor(_ context.Context, division string) ([]Actor, error) {
	if admins := d.byDivision[division]; len(admins) > 0 {
		return admins, nil
	}
	return d.all, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) byEvent(event string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, note := range n.sent {
		if note.Event == event {
			out = append(out, note)
		}
	}
	return out
}

// testEnv bundles a service over in-memory fakes with a controllable
// clock.
type testEnv struct {
	svc      *Service
	catalog  *memCatalog
	report   *memReportStore
	history  *memHistoryStore
	requests *memRequestStore
	subs     *memSubmissionStore
	notifier *recordingNotifier
	clock    time.Time
}

func newTestEnv(keys ...EquipmentKey) *testEnv {
	env := &testEnv{
		catalog:  &memCatalog{keys: keys},
		report:   &memReportStore{},
		history:  &memHistoryStore{},
		requests: newMemRequestStore(),
		subs:     &memSubmissionStore{},
		notifier: &recordingNotifier{},
		clock:    time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	directory := &memDirectory{
		byDivision: map[string][]Actor{"north": {{TabNumber: 900, Name: "Lead North"}}},
		all:        []Actor{{TabNumber: 901, Name: "Duty Admin"}},
	}
	env.svc = newService(
		NewCachedCatalog(env.catalog, time.Minute),
		env.report, env.history, env.subs, env.requests,
		directory, env.notifier, logger, 0,
	)
	env.setClock(env.clock)
	return env
}

func (env *testEnv) setClock(t time.Time) {
	env.clock = t
	now := func() time.Time { return env.clock }
	env.svc.now = now
	env.svc.validator.now = now
	env.svc.workflow.now = now
}

func (env *testEnv) advance(d time.Duration) {
	env.setClock(env.clock.Add(d))
}
