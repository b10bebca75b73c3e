package fakes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/dsstore/pkg/provider"
)

// Backend operation names, used for fault injection and call counting.
const (
	OpCreateEntity       = "CreateEntity"
	OpGetEntity          = "GetEntity"
	OpListEntities       = "ListEntities"
	OpDeleteEntity       = "DeleteEntity"
	OpAddVersion         = "AddVersion"
	OpGetVersion         = "GetVersion"
	OpUpdateVersionState = "UpdateVersionState"
	OpDestroyVersion     = "DestroyVersion"
	OpListVersions       = "ListVersions"
	OpPing               = "Ping"
)

var mutatingOps = []string{OpCreateEntity, OpDeleteEntity, OpAddVersion, OpUpdateVersionState, OpDestroyVersion}

// FakeStore is an in-memory remote store shared by any number of FakeConn
// connections.
//
// It keeps entities and versions with the same semantics as the real store:
// sequential version numbers, custom version names that are never reused,
// ENABLED/DISABLED/DESTROYED states, and token-based pagination ordered by
// entity ID. Errors are returned as gRPC status errors.
//
// Example usage:
//
//	store := fakes.NewFakeStore().
//	    WithEntity(path, []byte("v1"), []byte("v2")).
//	    FailOn(fakes.OpAddVersion, status.Error(codes.Unavailable, "blip"), 1)
//
//	p, _ := pool.New(cfg, store.Dialer())
type FakeStore struct {
	mu       sync.Mutex
	entities map[string]*fakeEntity

	// Behavior control
	failures  map[string][]error // op -> queued errors, consumed in order
	idErrors  map[string]error   // entity ID -> error for every op
	pingFails int
	latency   time.Duration
	dialErr   error

	calls   map[string]int
	dials   atomic.Int64
	closes  atomic.Int64
	conns   []*FakeConn
	connSeq atomic.Int64
}

type fakeEntity struct {
	entity   provider.Entity
	versions []*provider.Version
	names    map[string]int64 // custom name -> sequence, kept after destroy
	nextSeq  int64
}

// NewFakeStore creates an empty store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		entities: make(map[string]*fakeEntity),
		failures: make(map[string][]error),
		idErrors: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// WithEntity seeds an entity with one ENABLED version per payload.
func (s *FakeStore) WithEntity(path provider.ResourcePath, payloads ...[]byte) *FakeStore {
	s.mu.Lock()
	defer s.mu.Unlock()

	fe := &fakeEntity{
		entity: provider.Entity{Path: path, Format: provider.FormatUnformatted, CreateTime: time.Now()},
		names:  make(map[string]int64),
	}
	s.entities[key(path)] = fe
	for _, p := range payloads {
		fe.add("", p)
	}
	return s
}

// FailOn queues err to be returned by the next n calls of op.
func (s *FakeStore) FailOn(op string, err error, n int) *FakeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures[op] = append(s.failures[op], err)
	}
	return s
}

// WithError makes every call touching the entity ID fail with err.
func (s *FakeStore) WithError(id string, err error) *FakeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idErrors[id] = err
	return s
}

// WithLatency delays every call, honoring context cancellation.
func (s *FakeStore) WithLatency(d time.Duration) *FakeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
	return s
}

// FailPings makes the next n Ping calls fail.
func (s *FakeStore) FailPings(n int) *FakeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingFails = n
	return s
}

// FailDials makes Dialer return err until cleared with nil.
func (s *FakeStore) FailDials(err error) *FakeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialErr = err
	return s
}

// Dialer returns a provider.Dialer producing connections to this store.
func (s *FakeStore) Dialer() provider.Dialer {
	return func(ctx context.Context) (provider.Backend, error) {
		s.mu.Lock()
		err := s.dialErr
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := &FakeConn{store: s, id: s.connSeq.Add(1)}
		s.dials.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		return c, nil
	}
}

// Calls returns how many times op reached the store.
func (s *FakeStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// MutatingCalls returns the number of calls that could change store state.
func (s *FakeStore) MutatingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, op := range mutatingOps {
		n += s.calls[op]
	}
	return n
}

// Dials returns the number of connections opened.
func (s *FakeStore) Dials() int { return int(s.dials.Load()) }

// Closes returns the number of connections closed.
func (s *FakeStore) Closes() int { return int(s.closes.Load()) }

// KillConnections breaks every connection opened so far.
func (s *FakeStore) KillConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.dead.Store(true)
	}
}

// Versions returns a copy of every version of the entity, in creation order.
func (s *FakeStore) Versions(path provider.ResourcePath) []provider.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	fe, ok := s.entities[key(path)]
	if !ok {
		return nil
	}
	out := make([]provider.Version, 0, len(fe.versions))
	for _, v := range fe.versions {
		out = append(out, *v)
	}
	return out
}

// Exists reports whether the entity is present.
func (s *FakeStore) Exists(path provider.ResourcePath) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entities[key(path)]
	return ok
}

// Len returns the number of entities in the store.
func (s *FakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

func key(p provider.ResourcePath) string {
	loc := p.Location
	if loc == "" {
		loc = "global"
	}
	return strings.Join([]string{p.Project, loc, string(p.Kind), p.ID}, "|")
}

func (fe *fakeEntity) add(name string, payload []byte) *provider.Version {
	fe.nextSeq++
	id := strconv.FormatInt(fe.nextSeq, 10)
	if name != "" {
		id = name
		fe.names[name] = fe.nextSeq
	}
	v := &provider.Version{
		Entity:     fe.entity.Path,
		ID:         id,
		Sequence:   fe.nextSeq,
		State:      provider.StateEnabled,
		Payload:    append([]byte(nil), payload...),
		CreateTime: time.Now(),
	}
	fe.versions = append(fe.versions, v)
	return v
}

func (fe *fakeEntity) find(id string) *provider.Version {
	seq, ok := fe.names[id]
	if !ok {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil
		}
		seq = n
	}
	for _, v := range fe.versions {
		if v.Sequence == seq {
			return v
		}
	}
	return nil
}

func meta(v *provider.Version) provider.Version {
	out := *v
	out.Payload = nil
	return out
}

// FakeConn is one connection to a FakeStore. It implements provider.Backend.
type FakeConn struct {
	store  *FakeStore
	id     int64
	closed atomic.Bool
	dead   atomic.Bool
}

var _ provider.Backend = (*FakeConn)(nil)

// ID returns the connection's sequence number.
func (c *FakeConn) ID() int64 { return c.id }

// begin records the call, applies latency and injected faults. It returns
// with the store locked on success.
func (c *FakeConn) begin(ctx context.Context, op, id string) error {
	s := c.store

	s.mu.Lock()
	s.calls[op]++
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() || c.dead.Load() {
		return status.Error(codes.Unavailable, "connection closed")
	}

	s.mu.Lock()
	if q := s.failures[op]; len(q) > 0 {
		err := q[0]
		s.failures[op] = q[1:]
		s.mu.Unlock()
		return err
	}
	if err, ok := s.idErrors[id]; ok && id != "" {
		s.mu.Unlock()
		return err
	}
	return nil
}

func notFound(what string) error {
	return status.Errorf(codes.NotFound, "%s not found", what)
}

func (c *FakeConn) CreateEntity(ctx context.Context, e provider.Entity) (provider.Entity, error) {
	if err := c.begin(ctx, OpCreateEntity, e.Path.ID); err != nil {
		return provider.Entity{}, err
	}
	s := c.store
	defer s.mu.Unlock()

	if err := provider.ValidateLabels(e.Labels); err != nil {
		return provider.Entity{}, status.Error(codes.InvalidArgument, err.Error())
	}
	k := key(e.Path)
	if _, ok := s.entities[k]; ok {
		return provider.Entity{}, status.Errorf(codes.AlreadyExists, "Secret [%s] already exists", e.Path)
	}
	if e.Format == "" {
		e.Format = provider.FormatUnformatted
	}
	e.CreateTime = time.Now()
	e.Labels = copyLabels(e.Labels)
	s.entities[k] = &fakeEntity{entity: e, names: make(map[string]int64)}
	return e, nil
}

func (c *FakeConn) GetEntity(ctx context.Context, path provider.ResourcePath) (provider.Entity, error) {
	if err := c.begin(ctx, OpGetEntity, path.ID); err != nil {
		return provider.Entity{}, err
	}
	s := c.store
	defer s.mu.Unlock()

	fe, ok := s.entities[key(path)]
	if !ok {
		return provider.Entity{}, notFound("Secret [" + path.String() + "]")
	}
	e := fe.entity
	e.Labels = copyLabels(e.Labels)
	return e, nil
}

func (c *FakeConn) ListEntities(ctx context.Context, req provider.ListRequest) (provider.EntityPage, error) {
	if err := c.begin(ctx, OpListEntities, ""); err != nil {
		return provider.EntityPage{}, err
	}
	s := c.store
	defer s.mu.Unlock()

	if req.PageSize <= 0 {
		req.PageSize = 100
	}
	loc := req.Location
	if loc == "" {
		loc = "global"
	}

	var ids []string
	byID := map[string]*fakeEntity{}
	for _, fe := range s.entities {
		p := fe.entity.Path
		ploc := p.Location
		if ploc == "" {
			ploc = "global"
		}
		if p.Project != req.Project || ploc != loc || p.Kind != req.Kind {
			continue
		}
		if !matchFilter(fe.entity, req.Filter) {
			continue
		}
		ids = append(ids, p.ID)
		byID[p.ID] = fe
	}
	sort.Strings(ids)

	// The token is the last ID of the previous page.
	start := sort.SearchStrings(ids, req.PageToken)
	if req.PageToken != "" && start < len(ids) && ids[start] == req.PageToken {
		start++
	}

	var page provider.EntityPage
	end := start + req.PageSize
	if end > len(ids) {
		end = len(ids)
	}
	for _, id := range ids[start:end] {
		e := byID[id].entity
		e.Labels = copyLabels(e.Labels)
		page.Entities = append(page.Entities, e)
	}
	if end < len(ids) {
		page.NextPageToken = ids[end-1]
	}
	return page, nil
}

func (c *FakeConn) DeleteEntity(ctx context.Context, path provider.ResourcePath) error {
	if err := c.begin(ctx, OpDeleteEntity, path.ID); err != nil {
		return err
	}
	s := c.store
	defer s.mu.Unlock()

	k := key(path)
	if _, ok := s.entities[k]; !ok {
		return notFound("Secret [" + path.String() + "]")
	}
	delete(s.entities, k)
	return nil
}

func (c *FakeConn) AddVersion(ctx context.Context, path provider.ResourcePath, spec provider.VersionSpec) (provider.Version, error) {
	if err := c.begin(ctx, OpAddVersion, path.ID); err != nil {
		return provider.Version{}, err
	}
	s := c.store
	defer s.mu.Unlock()

	fe, ok := s.entities[key(path)]
	if !ok {
		return provider.Version{}, notFound("Secret [" + path.String() + "]")
	}
	if spec.CustomName != "" {
		if _, taken := fe.names[spec.CustomName]; taken {
			return provider.Version{}, status.Errorf(codes.AlreadyExists, "version name %q already in use", spec.CustomName)
		}
	}
	return meta(fe.add(spec.CustomName, spec.Payload)), nil
}

func (c *FakeConn) GetVersion(ctx context.Context, path provider.ResourcePath, id string) (provider.Version, error) {
	if err := c.begin(ctx, OpGetVersion, path.ID); err != nil {
		return provider.Version{}, err
	}
	s := c.store
	defer s.mu.Unlock()

	fe, ok := s.entities[key(path)]
	if !ok {
		return provider.Version{}, notFound("Secret [" + path.String() + "]")
	}
	v := fe.find(id)
	if v == nil {
		return provider.Version{}, notFound("SecretVersion [" + path.VersionName(id) + "]")
	}
	out := *v
	if v.State == provider.StateEnabled {
		out.Payload = append([]byte(nil), v.Payload...)
	} else {
		out.Payload = nil
	}
	return out, nil
}

func (c *FakeConn) UpdateVersionState(ctx context.Context, path provider.ResourcePath, id string, state provider.State) (provider.Version, error) {
	if err := c.begin(ctx, OpUpdateVersionState, path.ID); err != nil {
		return provider.Version{}, err
	}
	s := c.store
	defer s.mu.Unlock()

	fe, ok := s.entities[key(path)]
	if !ok {
		return provider.Version{}, notFound("Secret [" + path.String() + "]")
	}
	v := fe.find(id)
	if v == nil {
		return provider.Version{}, notFound("SecretVersion [" + path.VersionName(id) + "]")
	}
	if v.State == provider.StateDestroyed {
		return provider.Version{}, status.Errorf(codes.FailedPrecondition, "SecretVersion [%s] is in DESTROYED state", path.VersionName(id))
	}
	if state != provider.StateEnabled && state != provider.StateDisabled {
		return provider.Version{}, status.Errorf(codes.InvalidArgument, "invalid state %q", state)
	}
	v.State = state
	return meta(v), nil
}

func (c *FakeConn) DestroyVersion(ctx context.Context, path provider.ResourcePath, id string) (provider.Version, error) {
	if err := c.begin(ctx, OpDestroyVersion, path.ID); err != nil {
		return provider.Version{}, err
	}
	s := c.store
	defer s.mu.Unlock()

	fe, ok := s.entities[key(path)]
	if !ok {
		return provider.Version{}, notFound("Secret [" + path.String() + "]")
	}
	v := fe.find(id)
	if v == nil {
		return provider.Version{}, notFound("SecretVersion [" + path.VersionName(id) + "]")
	}
	if v.State == provider.StateDestroyed {
		return provider.Version{}, status.Errorf(codes.FailedPrecondition, "SecretVersion [%s] is already destroyed", path.VersionName(id))
	}
	v.State = provider.StateDestroyed
	v.Payload = nil
	v.DestroyTime = time.Now()
	return meta(v), nil
}

func (c *FakeConn) ListVersions(ctx context.Context, path provider.ResourcePath, pageToken string, pageSize int) (provider.VersionPage, error) {
	if err := c.begin(ctx, OpListVersions, path.ID); err != nil {
		return provider.VersionPage{}, err
	}
	s := c.store
	defer s.mu.Unlock()

	fe, ok := s.entities[key(path)]
	if !ok {
		return provider.VersionPage{}, notFound("Secret [" + path.String() + "]")
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 || n > len(fe.versions) {
			return provider.VersionPage{}, status.Errorf(codes.InvalidArgument, "invalid page token %q", pageToken)
		}
		start = n
	}
	end := start + pageSize
	if end > len(fe.versions) {
		end = len(fe.versions)
	}

	// Newest first, as the real store lists them.
	var page provider.VersionPage
	for i := start; i < end; i++ {
		page.Versions = append(page.Versions, meta(fe.versions[len(fe.versions)-1-i]))
	}
	if end < len(fe.versions) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (c *FakeConn) Ping(ctx context.Context) error {
	s := c.store
	s.mu.Lock()
	s.calls[OpPing]++
	fail := s.pingFails > 0
	if fail {
		s.pingFails--
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fail || c.dead.Load() || c.closed.Load() {
		return status.Error(codes.Unavailable, "connection is not alive")
	}
	return nil
}

func (c *FakeConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.store.closes.Add(1)
	}
	return nil
}

// matchFilter supports the two filter forms dsstore issues:
// "labels.KEY=VALUE" and "name:SUBSTRING", joined with AND.
func matchFilter(e provider.Entity, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	for _, term := range strings.Split(filter, " AND ") {
		term = strings.TrimSpace(term)
		switch {
		case strings.HasPrefix(term, "labels."):
			kv := strings.SplitN(strings.TrimPrefix(term, "labels."), "=", 2)
			if len(kv) != 2 || e.Labels[kv[0]] != kv[1] {
				return false
			}
		case strings.HasPrefix(term, "name:"):
			if !strings.Contains(e.Path.ID, strings.TrimPrefix(term, "name:")) {
				return false
			}
		default:
			if !strings.Contains(e.Path.ID, term) {
				return false
			}
		}
	}
	return true
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// String describes the store for test failure messages.
func (s *FakeStore) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("FakeStore{entities: %d, calls: %v}", len(s.entities), s.calls)
}
