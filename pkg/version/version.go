// Package version implements version lifecycle operations for one entity
// kind on top of a connection pool.
//
// Every version moves through the state machine
//
//	ENABLED ⇄ DISABLED → DESTROYED
//
// and DESTROYED is terminal. Transitions are validated against the current
// remote state before any mutating call, under a lock scoped to the single
// version, so concurrent state changes of the same version never race while
// unrelated versions proceed in parallel.
//
// Version IDs are either store-assigned sequence numbers or caller-chosen
// custom names. A custom name is never reused within an entity, even after
// the version carrying it was destroyed.
package version

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/provider"
)

// Latest is the version alias resolving to the newest ENABLED version.
const Latest = "latest"

// DefaultPageSize is used for internal version scans.
const DefaultPageSize = 100

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,62}$`)

// Runner executes fn with a borrowed backend connection. *pool.Pool
// implements it.
type Runner interface {
	Run(ctx context.Context, op, resource string, fn func(ctx context.Context, b provider.Backend) error) error
}

// Config scopes a Manager to one project, location and kind.
type Config struct {
	Project  string
	Location string
	Kind     provider.Kind

	// PageSize bounds version scans used for "latest" and name checks.
	PageSize int
}

// Manager runs version operations for one entity kind.
type Manager struct {
	runner Runner
	cfg    Config
	locks  *keyedMutex
}

// New returns a Manager. The runner is shared, not owned.
func New(runner Runner, cfg Config) (*Manager, error) {
	if runner == nil {
		return nil, errkind.New(errkind.InvalidArgument, "version.new", string(cfg.Kind), "runner is required")
	}
	if cfg.Project == "" {
		return nil, errkind.New(errkind.InvalidArgument, "version.new", string(cfg.Kind), "project is required")
	}
	switch cfg.Kind {
	case provider.KindSecret, provider.KindParameter:
	default:
		return nil, errkind.Newf(errkind.InvalidArgument, "version.new", string(cfg.Kind), "unknown kind %q", cfg.Kind)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Manager{runner: runner, cfg: cfg, locks: newKeyedMutex()}, nil
}

// Kind returns the entity kind this manager serves.
func (m *Manager) Kind() provider.Kind { return m.cfg.Kind }

// Path builds the resource path of an entity ID.
func (m *Manager) Path(id string) provider.ResourcePath {
	return provider.ResourcePath{Project: m.cfg.Project, Location: m.cfg.Location, Kind: m.cfg.Kind, ID: id}
}

// Collection returns the resource name of the entity collection, used to
// label listing operations.
func (m *Manager) Collection() string {
	return m.Path("").Parent() + "/" + m.cfg.Kind.Collection()
}

func (m *Manager) path(op, id string) (provider.ResourcePath, error) {
	p := m.Path(id)
	if err := p.Validate(); err != nil {
		return p, errkind.New(errkind.InvalidArgument, op, p.String(), err.Error())
	}
	return p, nil
}

// ValidateName checks a custom version name locally. Names start with a
// letter, so they never collide with store-assigned sequence numbers.
func ValidateName(name string) error {
	if strings.EqualFold(name, Latest) {
		return errkind.Newf(errkind.InvalidArgument, "", "", "version name %q is reserved", name)
	}
	if !namePattern.MatchString(name) {
		return errkind.Newf(errkind.InvalidArgument, "", "",
			"version name %q must start with a letter and contain at most 63 letters, digits, '-' or '_'", name)
	}
	return nil
}

// CreateVersion adds a new ENABLED version with the given payload. When
// customName is set it must not be carried by any existing version of the
// entity, destroyed ones included; otherwise the store assigns the next
// sequence number.
func (m *Manager) CreateVersion(ctx context.Context, entityID string, payload []byte, customName string) (provider.Version, error) {
	const op = "create_version"
	path, err := m.path(op, entityID)
	if err != nil {
		return provider.Version{}, err
	}

	spec := provider.VersionSpec{CustomName: customName, Payload: payload}
	if customName == "" {
		var v provider.Version
		err := m.runner.Run(ctx, op, path.String(), func(ctx context.Context, b provider.Backend) error {
			var err error
			v, err = b.AddVersion(ctx, path, spec)
			return err
		})
		return v, err
	}

	if err := ValidateName(customName); err != nil {
		return provider.Version{}, errkind.Wrap(err, op, path.VersionName(customName))
	}

	unlock, err := m.locks.lock(ctx, "name:"+path.String()+"@"+customName)
	if err != nil {
		return provider.Version{}, errkind.Wrap(err, op, path.String())
	}
	defer unlock()

	var v provider.Version
	err = m.runner.Run(ctx, op, path.String(), func(ctx context.Context, b provider.Backend) error {
		taken := false
		err := scanVersions(ctx, b, path, m.cfg.PageSize, func(existing provider.Version) bool {
			taken = existing.ID == customName
			return !taken
		})
		if err != nil {
			return err
		}
		if taken {
			return errkind.Newf(errkind.AlreadyExists, op, path.VersionName(customName),
				"version name %q is already used by this %s", customName, m.cfg.Kind)
		}
		v, err = b.AddVersion(ctx, path, spec)
		return err
	})
	return v, err
}

// GetVersion returns a version with its payload. id may be Latest, which
// resolves to the ENABLED version with the highest sequence. DISABLED and
// DESTROYED versions have no accessible payload and report NOT_FOUND.
func (m *Manager) GetVersion(ctx context.Context, entityID, id string) (provider.Version, error) {
	const op = "get_version"
	path, err := m.path(op, entityID)
	if err != nil {
		return provider.Version{}, err
	}
	if id == "" {
		id = Latest
	}

	var v provider.Version
	err = m.runner.Run(ctx, op, path.VersionName(id), func(ctx context.Context, b provider.Backend) error {
		target := id
		if id == Latest {
			latest, ok, err := latestEnabled(ctx, b, path, m.cfg.PageSize)
			if err != nil {
				return err
			}
			if !ok {
				return errkind.Newf(errkind.NotFound, op, path.VersionName(id), "%s has no enabled version", path.ID)
			}
			target = latest.ID
		}

		got, err := b.GetVersion(ctx, path, target)
		if err != nil {
			return err
		}
		if got.State != provider.StateEnabled {
			return errkind.Newf(errkind.NotFound, op, path.VersionName(id), "version %s is %s", got.ID, got.State)
		}
		v = got
		return nil
	})
	return v, err
}

// DescribeVersion returns version metadata in any state, without payload.
func (m *Manager) DescribeVersion(ctx context.Context, entityID, id string) (provider.Version, error) {
	const op = "describe_version"
	path, err := m.path(op, entityID)
	if err != nil {
		return provider.Version{}, err
	}
	if id == "" || id == Latest {
		return provider.Version{}, errkind.New(errkind.InvalidArgument, op, path.String(), "an explicit version id is required")
	}

	var v provider.Version
	err = m.runner.Run(ctx, op, path.VersionName(id), func(ctx context.Context, b provider.Backend) error {
		var err error
		v, err = b.GetVersion(ctx, path, id)
		return err
	})
	v.Payload = nil
	return v, err
}

// SetState moves a version to target. The current state is read under the
// version's lock and the transition is checked before any mutating call:
// an illegal transition fails INVALID_ARGUMENT and leaves the version
// untouched. A move to the current state is a no-op for ENABLED and
// DISABLED.
func (m *Manager) SetState(ctx context.Context, entityID, id string, target provider.State) (provider.Version, error) {
	return m.transition(ctx, "set_state", entityID, id, target)
}

// Destroy moves a version to DESTROYED. Its payload is unrecoverable
// afterwards.
func (m *Manager) Destroy(ctx context.Context, entityID, id string) (provider.Version, error) {
	return m.transition(ctx, "destroy_version", entityID, id, provider.StateDestroyed)
}

func (m *Manager) transition(ctx context.Context, op, entityID, id string, target provider.State) (provider.Version, error) {
	path, err := m.path(op, entityID)
	if err != nil {
		return provider.Version{}, err
	}
	resource := path.VersionName(id)
	if id == "" || id == Latest {
		return provider.Version{}, errkind.New(errkind.InvalidArgument, op, resource, "an explicit version id is required")
	}
	if !target.Valid() {
		return provider.Version{}, errkind.Newf(errkind.InvalidArgument, op, resource, "unknown state %q", target)
	}

	// A version is addressable by sequence and by custom name; lock on the
	// sequence so both spellings serialize together.
	current, err := m.DescribeVersion(ctx, entityID, id)
	if err != nil {
		return provider.Version{}, errkind.Wrap(err, op, resource)
	}
	unlock, err := m.locks.lock(ctx, "seq:"+path.String()+"#"+strconv.FormatInt(current.Sequence, 10))
	if err != nil {
		return provider.Version{}, errkind.Wrap(err, op, resource)
	}
	defer unlock()

	var v provider.Version
	err = m.runner.Run(ctx, op, resource, func(ctx context.Context, b provider.Backend) error {
		cur, err := b.GetVersion(ctx, path, id)
		if err != nil {
			return err
		}
		if !provider.CanTransition(cur.State, target) {
			return errkind.Newf(errkind.InvalidArgument, op, resource, "cannot move version from %s to %s", cur.State, target)
		}
		if cur.State == target {
			v = cur
			return nil
		}
		if target == provider.StateDestroyed {
			v, err = b.DestroyVersion(ctx, path, id)
		} else {
			v, err = b.UpdateVersionState(ctx, path, id, target)
		}
		return err
	})
	v.Payload = nil
	return v, err
}

// VersionPage returns one page of version metadata, newest first.
func (m *Manager) VersionPage(ctx context.Context, entityID, pageToken string, pageSize int) (provider.VersionPage, error) {
	const op = "list_versions"
	path, err := m.path(op, entityID)
	if err != nil {
		return provider.VersionPage{}, err
	}
	var page provider.VersionPage
	err = m.runner.Run(ctx, op, path.String(), func(ctx context.Context, b provider.Backend) error {
		var err error
		page, err = b.ListVersions(ctx, path, pageToken, pageSize)
		return err
	})
	return page, err
}

// EntityPage returns one page of entities of this manager's kind.
func (m *Manager) EntityPage(ctx context.Context, filter, pageToken string, pageSize int) (provider.EntityPage, error) {
	const op = "list"
	req := provider.ListRequest{
		Project:   m.cfg.Project,
		Location:  m.cfg.Location,
		Kind:      m.cfg.Kind,
		Filter:    filter,
		PageSize:  pageSize,
		PageToken: pageToken,
	}
	var page provider.EntityPage
	err := m.runner.Run(ctx, op, m.Collection(), func(ctx context.Context, b provider.Backend) error {
		var err error
		page, err = b.ListEntities(ctx, req)
		return err
	})
	return page, err
}

// CreateEntity creates an entity with no versions. e.Path is derived from
// entityID.
func (m *Manager) CreateEntity(ctx context.Context, entityID string, e provider.Entity) (provider.Entity, error) {
	const op = "create"
	path, err := m.path(op, entityID)
	if err != nil {
		return provider.Entity{}, err
	}
	e.Path = path
	var out provider.Entity
	err = m.runner.Run(ctx, op, path.String(), func(ctx context.Context, b provider.Backend) error {
		var err error
		out, err = b.CreateEntity(ctx, e)
		return err
	})
	return out, err
}

// GetEntity returns entity metadata.
func (m *Manager) GetEntity(ctx context.Context, entityID string) (provider.Entity, error) {
	const op = "get"
	path, err := m.path(op, entityID)
	if err != nil {
		return provider.Entity{}, err
	}
	var out provider.Entity
	err = m.runner.Run(ctx, op, path.String(), func(ctx context.Context, b provider.Backend) error {
		var err error
		out, err = b.GetEntity(ctx, path)
		return err
	})
	return out, err
}

// DeleteEntity deletes the entity and all of its versions.
func (m *Manager) DeleteEntity(ctx context.Context, entityID string) error {
	const op = "delete"
	path, err := m.path(op, entityID)
	if err != nil {
		return err
	}
	return m.runner.Run(ctx, op, path.String(), func(ctx context.Context, b provider.Backend) error {
		return b.DeleteEntity(ctx, path)
	})
}

// scanVersions walks every version page on one connection. fn returns false
// to stop early.
func scanVersions(ctx context.Context, b provider.Backend, path provider.ResourcePath, pageSize int, fn func(provider.Version) bool) error {
	token := ""
	for {
		page, err := b.ListVersions(ctx, path, token, pageSize)
		if err != nil {
			return err
		}
		for _, v := range page.Versions {
			if !fn(v) {
				return nil
			}
		}
		if page.NextPageToken == "" || page.NextPageToken == token {
			return nil
		}
		token = page.NextPageToken
	}
}

// latestEnabled finds the ENABLED version with the highest sequence.
// Custom-named versions take part by creation order, not by name.
func latestEnabled(ctx context.Context, b provider.Backend, path provider.ResourcePath, pageSize int) (provider.Version, bool, error) {
	var best provider.Version
	found := false
	err := scanVersions(ctx, b, path, pageSize, func(v provider.Version) bool {
		if v.State == provider.StateEnabled && (!found || v.Sequence > best.Sequence) {
			best, found = v, true
		}
		return true
	})
	return best, found, err
}
