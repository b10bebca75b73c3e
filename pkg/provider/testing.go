package provider

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/systmms/dsstore/pkg/errkind"
)

// ContractTest defines the standard suite every Backend must pass.
type ContractTest struct {
	// Dial returns a fresh connection to the backend under test.
	Dial func(t *testing.T) Backend

	// Project and Location used for every resource the suite creates.
	Project  string
	Location string

	// Kind of entity to exercise. Defaults to KindSecret.
	Kind Kind

	// SkipCancellation skips the cancelled-context check for backends
	// whose calls never block.
	SkipCancellation bool
}

// RunContractTests runs the standard backend contract test suite.
func RunContractTests(t *testing.T, contract ContractTest) {
	if contract.Kind == "" {
		contract.Kind = KindSecret
	}

	t.Run("Contract", func(t *testing.T) {
		t.Run("Ping", func(t *testing.T) {
			testBackendPing(t, contract)
		})
		t.Run("CreateAndGet", func(t *testing.T) {
			testBackendCreateAndGet(t, contract)
		})
		t.Run("ReservedLabels", func(t *testing.T) {
			testBackendReservedLabels(t, contract)
		})
		t.Run("GetMissing", func(t *testing.T) {
			testBackendGetMissing(t, contract)
		})
		t.Run("Versions", func(t *testing.T) {
			testBackendVersions(t, contract)
		})
		t.Run("CustomName", func(t *testing.T) {
			testBackendCustomName(t, contract)
		})
		t.Run("StateTransitions", func(t *testing.T) {
			testBackendStateTransitions(t, contract)
		})
		t.Run("ListEntitiesPaging", func(t *testing.T) {
			testBackendListEntities(t, contract)
		})
		t.Run("ListVersionsPaging", func(t *testing.T) {
			testBackendListVersions(t, contract)
		})
		t.Run("Delete", func(t *testing.T) {
			testBackendDelete(t, contract)
		})
		if !contract.SkipCancellation {
			t.Run("ContextCancellation", func(t *testing.T) {
				testBackendContextCancellation(t, contract)
			})
		}
	})
}

func (c ContractTest) path(id string) ResourcePath {
	return ResourcePath{Project: c.Project, Location: c.Location, Kind: c.Kind, ID: id}
}

func uniqueID(prefix string) string {
	return prefix + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func mustCreate(t *testing.T, b Backend, p ResourcePath) {
	t.Helper()
	if _, err := b.CreateEntity(context.Background(), Entity{Path: p, Format: FormatUnformatted}); err != nil {
		t.Fatalf("CreateEntity(%s) failed: %v", p, err)
	}
	t.Cleanup(func() { _ = b.DeleteEntity(context.Background(), p) })
}

func wantKind(t *testing.T, err error, want errkind.Kind, what string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected %s error, got nil", what, want)
	}
	if got := errkind.Map(err); got != want {
		t.Errorf("%s: expected %s, got %s (%v)", what, want, got, err)
	}
}

func testBackendPing(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	done := make(chan error, 1)
	go func() { done <- b.Ping(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Backend.Ping() failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Backend.Ping() timed out after 5 seconds")
	}
}

func testBackendCreateAndGet(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	ctx := context.Background()
	p := contract.path(uniqueID("contract-create"))

	created, err := b.CreateEntity(ctx, Entity{Path: p, Labels: map[string]string{"team": "platform"}, Format: FormatUnformatted})
	if err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	t.Cleanup(func() { _ = b.DeleteEntity(context.Background(), p) })

	if created.Path.ID != p.ID {
		t.Errorf("CreateEntity() returned ID %q, want %q", created.Path.ID, p.ID)
	}

	got, err := b.GetEntity(ctx, p)
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.Path.ID != p.ID {
		t.Errorf("GetEntity() returned ID %q, want %q", got.Path.ID, p.ID)
	}
	if got.Labels["team"] != "platform" {
		t.Errorf("GetEntity() lost labels: %v", got.Labels)
	}

	_, err = b.CreateEntity(ctx, Entity{Path: p})
	wantKind(t, err, errkind.AlreadyExists, "duplicate CreateEntity()")
}

func testBackendReservedLabels(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	ctx := context.Background()
	p := contract.path(uniqueID("contract-reserved"))

	_, err := b.CreateEntity(ctx, Entity{Path: p, Labels: map[string]string{"dsstore-kind": "parameter"}})
	if err == nil {
		t.Cleanup(func() { _ = b.DeleteEntity(context.Background(), p) })
	}
	wantKind(t, err, errkind.InvalidArgument, "CreateEntity() with reserved label")

	_, err = b.GetEntity(ctx, p)
	wantKind(t, err, errkind.NotFound, "GetEntity() after rejected create")
}

func testBackendGetMissing(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	ctx := context.Background()
	p := contract.path(uniqueID("contract-missing"))

	_, err := b.GetEntity(ctx, p)
	wantKind(t, err, errkind.NotFound, "GetEntity() on missing entity")

	_, err = b.GetVersion(ctx, p, "1")
	wantKind(t, err, errkind.NotFound, "GetVersion() on missing entity")
}

func testBackendVersions(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	ctx := context.Background()
	p := contract.path(uniqueID("contract-versions"))
	mustCreate(t, b, p)

	first, err := b.AddVersion(ctx, p, VersionSpec{Payload: []byte("one")})
	if err != nil {
		t.Fatalf("AddVersion() failed: %v", err)
	}
	second, err := b.AddVersion(ctx, p, VersionSpec{Payload: []byte("two")})
	if err != nil {
		t.Fatalf("AddVersion() failed: %v", err)
	}

	if first.State != StateEnabled || second.State != StateEnabled {
		t.Errorf("new versions must start ENABLED, got %s and %s", first.State, second.State)
	}
	if second.Sequence <= first.Sequence {
		t.Errorf("sequence must increase: %d then %d", first.Sequence, second.Sequence)
	}
	if first.ID == second.ID {
		t.Errorf("version IDs must be unique, both are %q", first.ID)
	}

	got, err := b.GetVersion(ctx, p, first.ID)
	if err != nil {
		t.Fatalf("GetVersion() failed: %v", err)
	}
	if !bytes.Equal(got.Payload, []byte("one")) {
		t.Errorf("GetVersion() payload mismatch")
	}

	_, err = b.GetVersion(ctx, p, "999999")
	wantKind(t, err, errkind.NotFound, "GetVersion() on missing version")
}

func testBackendCustomName(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	ctx := context.Background()
	p := contract.path(uniqueID("contract-named"))
	mustCreate(t, b, p)

	v, err := b.AddVersion(ctx, p, VersionSpec{CustomName: "v-initial", Payload: []byte("payload")})
	if err != nil {
		t.Fatalf("AddVersion() with custom name failed: %v", err)
	}
	if v.ID != "v-initial" {
		t.Errorf("AddVersion() ID = %q, want %q", v.ID, "v-initial")
	}
	if v.Sequence <= 0 {
		t.Errorf("custom-named version must still carry a sequence, got %d", v.Sequence)
	}

	got, err := b.GetVersion(ctx, p, "v-initial")
	if err != nil {
		t.Fatalf("GetVersion(custom name) failed: %v", err)
	}
	if !bytes.Equal(got.Payload, []byte("payload")) {
		t.Errorf("GetVersion(custom name) payload mismatch")
	}
}

func testBackendStateTransitions(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	ctx := context.Background()
	p := contract.path(uniqueID("contract-state"))
	mustCreate(t, b, p)

	v, err := b.AddVersion(ctx, p, VersionSpec{Payload: []byte("x")})
	if err != nil {
		t.Fatalf("AddVersion() failed: %v", err)
	}

	disabled, err := b.UpdateVersionState(ctx, p, v.ID, StateDisabled)
	if err != nil {
		t.Fatalf("UpdateVersionState(DISABLED) failed: %v", err)
	}
	if disabled.State != StateDisabled {
		t.Errorf("state = %s, want DISABLED", disabled.State)
	}

	got, err := b.GetVersion(ctx, p, v.ID)
	if err != nil {
		t.Fatalf("GetVersion() on disabled version failed: %v", err)
	}
	if got.State != StateDisabled || len(got.Payload) != 0 {
		t.Errorf("disabled version must report DISABLED without payload, got %s with %d bytes", got.State, len(got.Payload))
	}

	if _, err := b.UpdateVersionState(ctx, p, v.ID, StateEnabled); err != nil {
		t.Fatalf("UpdateVersionState(ENABLED) failed: %v", err)
	}

	destroyed, err := b.DestroyVersion(ctx, p, v.ID)
	if err != nil {
		t.Fatalf("DestroyVersion() failed: %v", err)
	}
	if destroyed.State != StateDestroyed {
		t.Errorf("state = %s, want DESTROYED", destroyed.State)
	}
}

func testBackendListEntities(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	ctx := context.Background()
	prefix := uniqueID("contract-list")

	want := map[string]bool{}
	for i := 0; i < 7; i++ {
		p := contract.path(fmt.Sprintf("%s-%d", prefix, i))
		mustCreate(t, b, p)
		want[p.ID] = true
	}

	seen := map[string]int{}
	token := ""
	for pages := 0; ; pages++ {
		if pages > 100 {
			t.Fatal("ListEntities() did not terminate")
		}
		page, err := b.ListEntities(ctx, ListRequest{
			Project: contract.Project, Location: contract.Location, Kind: contract.Kind,
			PageSize: 3, PageToken: token,
		})
		if err != nil {
			t.Fatalf("ListEntities() failed: %v", err)
		}
		if len(page.Entities) > 3 {
			t.Errorf("page holds %d entities, page size is 3", len(page.Entities))
		}
		for _, e := range page.Entities {
			seen[e.Path.ID]++
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	for id := range want {
		if seen[id] != 1 {
			t.Errorf("entity %s seen %d times, want exactly once", id, seen[id])
		}
	}
}

func testBackendListVersions(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	ctx := context.Background()
	p := contract.path(uniqueID("contract-lsv"))
	mustCreate(t, b, p)

	for i := 0; i < 5; i++ {
		if _, err := b.AddVersion(ctx, p, VersionSpec{Payload: []byte{byte(i + 1)}}); err != nil {
			t.Fatalf("AddVersion() failed: %v", err)
		}
	}

	seen := map[string]int{}
	token := ""
	for {
		page, err := b.ListVersions(ctx, p, token, 2)
		if err != nil {
			t.Fatalf("ListVersions() failed: %v", err)
		}
		for _, v := range page.Versions {
			seen[v.ID]++
			if len(v.Payload) != 0 {
				t.Errorf("ListVersions() must not return payloads")
			}
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	if len(seen) != 5 {
		t.Errorf("ListVersions() returned %d distinct versions, want 5", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("version %s seen %d times", id, n)
		}
	}
}

func testBackendDelete(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)
	ctx := context.Background()
	p := contract.path(uniqueID("contract-delete"))

	if _, err := b.CreateEntity(ctx, Entity{Path: p}); err != nil {
		t.Fatalf("CreateEntity() failed: %v", err)
	}
	if _, err := b.AddVersion(ctx, p, VersionSpec{Payload: []byte("gone")}); err != nil {
		t.Fatalf("AddVersion() failed: %v", err)
	}
	if err := b.DeleteEntity(ctx, p); err != nil {
		t.Fatalf("DeleteEntity() failed: %v", err)
	}

	_, err := b.GetEntity(ctx, p)
	wantKind(t, err, errkind.NotFound, "GetEntity() after delete")

	err = b.DeleteEntity(ctx, p)
	wantKind(t, err, errkind.NotFound, "second DeleteEntity()")
}

func testBackendContextCancellation(t *testing.T, contract ContractTest) {
	b := contract.Dial(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.GetEntity(ctx, contract.path("any-id")); err == nil {
		t.Error("Backend.GetEntity() should fail with cancelled context")
	}
}
