package provider

import (
	"context"
	"strings"
	"time"
)

// Backend is the RPC boundary to a remote secret or parameter store.
//
// A Backend is one connection to the store. The connection pool owns a fixed
// number of Backends and lends each one to exactly one operation at a time,
// so implementations do not need to be safe for concurrent use by multiple
// goroutines. They must, however, honor context cancellation on every call.
//
// Backends return raw vendor errors (gRPC status errors, googleapi errors,
// network errors). Translation into domain kinds happens above this layer in
// pkg/errkind, never inside a Backend.
//
// Example:
//
//	b, err := dial(ctx)
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	path := ResourcePath{Project: "my-project", Kind: KindSecret, ID: "db-pass"}
//	if _, err := b.CreateEntity(ctx, Entity{Path: path}); err != nil {
//	    return err
//	}
//	v, err := b.AddVersion(ctx, path, VersionSpec{Payload: []byte("s3cret")})
type Backend interface {
	// CreateEntity creates a new secret or parameter with no versions.
	// Fails with an already-exists error if the path is taken.
	CreateEntity(ctx context.Context, e Entity) (Entity, error)

	// GetEntity returns entity metadata.
	GetEntity(ctx context.Context, path ResourcePath) (Entity, error)

	// ListEntities returns one page of entities of req.Kind. An empty
	// NextPageToken marks the last page.
	ListEntities(ctx context.Context, req ListRequest) (EntityPage, error)

	// DeleteEntity removes the entity and every one of its versions.
	DeleteEntity(ctx context.Context, path ResourcePath) error

	// AddVersion appends a new ENABLED version. When spec.CustomName is set
	// the version is addressable by that name as well as by its sequence.
	AddVersion(ctx context.Context, path ResourcePath, spec VersionSpec) (Version, error)

	// GetVersion returns version metadata by ID (sequence or custom name).
	// Payload is populated only for ENABLED versions.
	GetVersion(ctx context.Context, path ResourcePath, id string) (Version, error)

	// UpdateVersionState moves a version between ENABLED and DISABLED.
	UpdateVersionState(ctx context.Context, path ResourcePath, id string, state State) (Version, error)

	// DestroyVersion irreversibly destroys the version payload.
	DestroyVersion(ctx context.Context, path ResourcePath, id string) (Version, error)

	// ListVersions returns one page of version metadata without payloads.
	ListVersions(ctx context.Context, path ResourcePath, pageToken string, pageSize int) (VersionPage, error)

	// Ping performs a cheap liveness round-trip.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Dialer opens a new Backend connection. The pool calls it lazily, and again
// whenever a connection fails its liveness check.
type Dialer func(ctx context.Context) (Backend, error)

// Kind distinguishes the two entity families served by dsstore.
type Kind string

const (
	KindSecret    Kind = "secret"
	KindParameter Kind = "parameter"
)

// Collection returns the path segment used in resource names.
func (k Kind) Collection() string {
	if k == KindParameter {
		return "parameters"
	}
	return "secrets"
}

// Format declares how a parameter payload is encoded. Secrets are always
// FormatUnformatted.
type Format string

const (
	FormatUnformatted Format = "UNFORMATTED"
	FormatJSON        Format = "JSON"
	FormatYAML        Format = "YAML"
)

// ParseFormat accepts the canonical names case-insensitively. An empty
// string means FormatUnformatted.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToUpper(strings.TrimSpace(s))) {
	case "", FormatUnformatted:
		return FormatUnformatted, true
	case FormatJSON:
		return FormatJSON, true
	case FormatYAML, "YML":
		return FormatYAML, true
	default:
		return "", false
	}
}

// Entity is a named secret or parameter. It owns zero or more versions.
type Entity struct {
	Path       ResourcePath
	Labels     map[string]string
	Format     Format
	CreateTime time.Time
}

// Version is an immutable payload snapshot under an entity with a mutable
// lifecycle state.
type Version struct {
	// Entity is the owning entity's path.
	Entity ResourcePath

	// ID is the store-assigned sequence rendered as a decimal string, or the
	// caller-supplied custom name. Never reused within an entity.
	ID string

	// Sequence is the store-assigned creation ordinal. It orders versions
	// for "latest" resolution regardless of custom naming.
	Sequence int64

	State State

	// Payload holds the raw bytes. Empty unless the version is ENABLED and
	// was fetched individually.
	Payload []byte

	CreateTime  time.Time
	DestroyTime time.Time
}

// VersionSpec describes a version to add.
type VersionSpec struct {
	CustomName string
	Payload    []byte
}

// ListRequest selects one page of entities.
type ListRequest struct {
	Project   string
	Location  string
	Kind      Kind
	Filter    string
	PageSize  int
	PageToken string
}

// EntityPage is one page of a ListEntities call.
type EntityPage struct {
	Entities      []Entity
	NextPageToken string
}

// VersionPage is one page of a ListVersions call.
type VersionPage struct {
	Versions      []Version
	NextPageToken string
}
