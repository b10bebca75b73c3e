package providers

import (
	"context"
	"hash/crc32"
	"strconv"
	"strings"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/systmms/dsstore/pkg/provider"
)

// Labels that carry dsstore metadata on Secret Manager secrets. They are
// hidden from Entity.Labels.
const (
	LabelKind   = "dsstore-kind"
	LabelFormat = "dsstore-format"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// GCPBackend serves both entity kinds from Google Cloud Secret Manager.
// Parameters are secrets labelled dsstore-kind=parameter; custom version
// names are version aliases.
//
// A GCPBackend wraps one client and is not safe for concurrent use; the
// pool lends it to one operation at a time.
type GCPBackend struct {
	api SecretManagerAPI
	cfg GCPConfig
}

var _ provider.Backend = (*GCPBackend)(nil)

// NewGCPBackend wraps an API client. Most callers use GCPDialer instead.
func NewGCPBackend(api SecretManagerAPI, cfg GCPConfig) *GCPBackend {
	return &GCPBackend{api: api, cfg: cfg}
}

func (b *GCPBackend) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, b.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (b *GCPBackend) secretID(p provider.ResourcePath) string {
	return b.cfg.NamePrefix + p.ID
}

func (b *GCPBackend) secretName(p provider.ResourcePath) string {
	return p.Parent() + "/secrets/" + b.secretID(p)
}

func (b *GCPBackend) versionName(p provider.ResourcePath, seq int64) string {
	return b.secretName(p) + "/versions/" + strconv.FormatInt(seq, 10)
}

func lastSegment(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}

func sequenceOf(versionName string) int64 {
	n, _ := strconv.ParseInt(lastSegment(versionName), 10, 64)
	return n
}

func isParameter(s *secretmanagerpb.Secret) bool {
	return s.GetLabels()[LabelKind] == string(provider.KindParameter)
}

// entity converts a secret to an entity of kind. It reports false for
// secrets that belong to the other kind or lack the name prefix.
func (b *GCPBackend) entity(kind provider.Kind, project, location string, s *secretmanagerpb.Secret) (provider.Entity, bool) {
	if isParameter(s) != (kind == provider.KindParameter) {
		return provider.Entity{}, false
	}
	id := lastSegment(s.GetName())
	if !strings.HasPrefix(id, b.cfg.NamePrefix) {
		return provider.Entity{}, false
	}

	e := provider.Entity{
		Path:   provider.ResourcePath{Project: project, Location: location, Kind: kind, ID: strings.TrimPrefix(id, b.cfg.NamePrefix)},
		Format: provider.FormatUnformatted,
	}
	if f, ok := provider.ParseFormat(s.GetLabels()[LabelFormat]); ok {
		e.Format = f
	}
	for k, v := range s.GetLabels() {
		if strings.HasPrefix(k, provider.ReservedLabelPrefix) {
			continue
		}
		if e.Labels == nil {
			e.Labels = make(map[string]string)
		}
		e.Labels[k] = v
	}
	if s.GetCreateTime() != nil {
		e.CreateTime = s.GetCreateTime().AsTime()
	}
	return e, true
}

func (b *GCPBackend) version(p provider.ResourcePath, sv *secretmanagerpb.SecretVersion, aliases map[string]int64) provider.Version {
	seq := sequenceOf(sv.GetName())
	v := provider.Version{
		Entity:   p,
		ID:       strconv.FormatInt(seq, 10),
		Sequence: seq,
		State:    stateOf(sv.GetState()),
	}
	for name, n := range aliases {
		if n == seq {
			v.ID = name
			break
		}
	}
	if sv.GetCreateTime() != nil {
		v.CreateTime = sv.GetCreateTime().AsTime()
	}
	if sv.GetDestroyTime() != nil {
		v.DestroyTime = sv.GetDestroyTime().AsTime()
	}
	return v
}

func stateOf(s secretmanagerpb.SecretVersion_State) provider.State {
	switch s {
	case secretmanagerpb.SecretVersion_ENABLED:
		return provider.StateEnabled
	case secretmanagerpb.SecretVersion_DISABLED:
		return provider.StateDisabled
	default:
		return provider.StateDestroyed
	}
}

// getSecret fetches the secret behind p and checks it belongs to p's kind.
func (b *GCPBackend) getSecret(ctx context.Context, p provider.ResourcePath) (*secretmanagerpb.Secret, error) {
	s, err := b.api.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: b.secretName(p)})
	if err != nil {
		return nil, err
	}
	if isParameter(s) != (p.Kind == provider.KindParameter) {
		return nil, status.Errorf(codes.NotFound, "%s [%s] not found", p.Kind, p)
	}
	return s, nil
}

// resolve maps a version ID, a sequence number or an alias, to its
// sequence.
func resolve(s *secretmanagerpb.Secret, p provider.ResourcePath, id string) (int64, error) {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > 0 {
		return n, nil
	}
	if n, ok := s.GetVersionAliases()[id]; ok {
		return n, nil
	}
	return 0, status.Errorf(codes.NotFound, "version [%s] not found", p.VersionName(id))
}

func (b *GCPBackend) CreateEntity(ctx context.Context, e provider.Entity) (provider.Entity, error) {
	if err := provider.ValidateLabels(e.Labels); err != nil {
		return provider.Entity{}, status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := b.call(ctx)
	defer cancel()

	labels := make(map[string]string, len(e.Labels)+2)
	for k, v := range e.Labels {
		labels[k] = v
	}
	if e.Path.Kind == provider.KindParameter {
		format := e.Format
		if format == "" {
			format = provider.FormatUnformatted
		}
		labels[LabelKind] = string(provider.KindParameter)
		labels[LabelFormat] = strings.ToLower(string(format))
	}

	secret := &secretmanagerpb.Secret{Labels: labels}
	if !e.Path.Regional() {
		secret.Replication = &secretmanagerpb.Replication{
			Replication: &secretmanagerpb.Replication_Automatic_{Automatic: &secretmanagerpb.Replication_Automatic{}},
		}
	}
	created, err := b.api.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
		Parent:   e.Path.Parent(),
		SecretId: b.secretID(e.Path),
		Secret:   secret,
	})
	if err != nil {
		return provider.Entity{}, err
	}
	out, _ := b.entity(e.Path.Kind, e.Path.Project, e.Path.Location, created)
	return out, nil
}

func (b *GCPBackend) GetEntity(ctx context.Context, p provider.ResourcePath) (provider.Entity, error) {
	ctx, cancel := b.call(ctx)
	defer cancel()

	s, err := b.getSecret(ctx, p)
	if err != nil {
		return provider.Entity{}, err
	}
	e, _ := b.entity(p.Kind, p.Project, p.Location, s)
	return e, nil
}

func (b *GCPBackend) ListEntities(ctx context.Context, req provider.ListRequest) (provider.EntityPage, error) {
	ctx, cancel := b.call(ctx)
	defer cancel()

	parent := provider.ResourcePath{Project: req.Project, Location: req.Location}.Parent()
	var terms []string
	if req.Kind == provider.KindParameter {
		terms = append(terms, "labels."+LabelKind+"="+string(provider.KindParameter))
	}
	if b.cfg.NamePrefix != "" {
		terms = append(terms, "name:"+b.cfg.NamePrefix)
	}
	if f := strings.TrimSpace(req.Filter); f != "" {
		terms = append(terms, f)
	}

	secrets, next, err := b.api.ListSecretsPage(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent:    parent,
		PageSize:  int32(req.PageSize),
		PageToken: req.PageToken,
		Filter:    strings.Join(terms, " AND "),
	})
	if err != nil {
		return provider.EntityPage{}, err
	}

	// Secrets of the other kind may fill a page; the caller skips pages
	// that end up empty.
	page := provider.EntityPage{NextPageToken: next}
	for _, s := range secrets {
		if e, ok := b.entity(req.Kind, req.Project, req.Location, s); ok {
			page.Entities = append(page.Entities, e)
		}
	}
	return page, nil
}

func (b *GCPBackend) DeleteEntity(ctx context.Context, p provider.ResourcePath) error {
	ctx, cancel := b.call(ctx)
	defer cancel()

	s, err := b.getSecret(ctx, p)
	if err != nil {
		return err
	}
	return b.api.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: s.GetName(), Etag: s.GetEtag()})
}

func (b *GCPBackend) AddVersion(ctx context.Context, p provider.ResourcePath, spec provider.VersionSpec) (provider.Version, error) {
	ctx, cancel := b.call(ctx)
	defer cancel()

	s, err := b.getSecret(ctx, p)
	if err != nil {
		return provider.Version{}, err
	}
	if spec.CustomName != "" {
		if _, taken := s.GetVersionAliases()[spec.CustomName]; taken {
			return provider.Version{}, status.Errorf(codes.AlreadyExists, "version alias %q already exists on %s", spec.CustomName, p)
		}
	}

	crc := int64(crc32.Checksum(spec.Payload, castagnoli))
	sv, err := b.api.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: spec.Payload, DataCrc32C: &crc},
	})
	if err != nil {
		return provider.Version{}, err
	}
	v := b.version(p, sv, nil)
	if spec.CustomName == "" {
		return v, nil
	}

	aliases := make(map[string]int64, len(s.GetVersionAliases())+1)
	for k, n := range s.GetVersionAliases() {
		aliases[k] = n
	}
	aliases[spec.CustomName] = v.Sequence
	_, err = b.api.UpdateSecret(ctx, &secretmanagerpb.UpdateSecretRequest{
		Secret:     &secretmanagerpb.Secret{Name: s.GetName(), VersionAliases: aliases, Etag: s.GetEtag()},
		UpdateMask: &fieldmaskpb.FieldMask{Paths: []string{"version_aliases"}},
	})
	if err != nil {
		// An unnamed version must not survive a failed naming.
		_, _ = b.api.DestroySecretVersion(context.WithoutCancel(ctx), &secretmanagerpb.DestroySecretVersionRequest{Name: sv.GetName()})
		return provider.Version{}, err
	}
	v.ID = spec.CustomName
	return v, nil
}

func (b *GCPBackend) GetVersion(ctx context.Context, p provider.ResourcePath, id string) (provider.Version, error) {
	ctx, cancel := b.call(ctx)
	defer cancel()

	s, err := b.getSecret(ctx, p)
	if err != nil {
		return provider.Version{}, err
	}
	seq, err := resolve(s, p, id)
	if err != nil {
		return provider.Version{}, err
	}
	sv, err := b.api.GetSecretVersion(ctx, &secretmanagerpb.GetSecretVersionRequest{Name: b.versionName(p, seq)})
	if err != nil {
		return provider.Version{}, err
	}
	v := b.version(p, sv, s.GetVersionAliases())
	if v.State != provider.StateEnabled {
		return v, nil
	}

	resp, err := b.api.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: sv.GetName()})
	if err != nil {
		return provider.Version{}, err
	}
	data := resp.GetPayload().GetData()
	if want := resp.GetPayload().DataCrc32C; want != nil && int64(crc32.Checksum(data, castagnoli)) != *want {
		return provider.Version{}, status.Errorf(codes.DataLoss, "checksum mismatch on %s", sv.GetName())
	}
	v.Payload = data
	return v, nil
}

func (b *GCPBackend) UpdateVersionState(ctx context.Context, p provider.ResourcePath, id string, state provider.State) (provider.Version, error) {
	ctx, cancel := b.call(ctx)
	defer cancel()

	s, err := b.getSecret(ctx, p)
	if err != nil {
		return provider.Version{}, err
	}
	seq, err := resolve(s, p, id)
	if err != nil {
		return provider.Version{}, err
	}

	name := b.versionName(p, seq)
	var sv *secretmanagerpb.SecretVersion
	switch state {
	case provider.StateEnabled:
		sv, err = b.api.EnableSecretVersion(ctx, &secretmanagerpb.EnableSecretVersionRequest{Name: name})
	case provider.StateDisabled:
		sv, err = b.api.DisableSecretVersion(ctx, &secretmanagerpb.DisableSecretVersionRequest{Name: name})
	default:
		return provider.Version{}, status.Errorf(codes.InvalidArgument, "cannot set state %s", state)
	}
	if err != nil {
		return provider.Version{}, err
	}
	return b.version(p, sv, s.GetVersionAliases()), nil
}

func (b *GCPBackend) DestroyVersion(ctx context.Context, p provider.ResourcePath, id string) (provider.Version, error) {
	ctx, cancel := b.call(ctx)
	defer cancel()

	s, err := b.getSecret(ctx, p)
	if err != nil {
		return provider.Version{}, err
	}
	seq, err := resolve(s, p, id)
	if err != nil {
		return provider.Version{}, err
	}
	sv, err := b.api.DestroySecretVersion(ctx, &secretmanagerpb.DestroySecretVersionRequest{Name: b.versionName(p, seq)})
	if err != nil {
		return provider.Version{}, err
	}
	return b.version(p, sv, s.GetVersionAliases()), nil
}

func (b *GCPBackend) ListVersions(ctx context.Context, p provider.ResourcePath, pageToken string, pageSize int) (provider.VersionPage, error) {
	ctx, cancel := b.call(ctx)
	defer cancel()

	s, err := b.getSecret(ctx, p)
	if err != nil {
		return provider.VersionPage{}, err
	}
	versions, next, err := b.api.ListSecretVersionsPage(ctx, &secretmanagerpb.ListSecretVersionsRequest{
		Parent:    s.GetName(),
		PageSize:  int32(pageSize),
		PageToken: pageToken,
	})
	if err != nil {
		return provider.VersionPage{}, err
	}
	page := provider.VersionPage{NextPageToken: next, Versions: make([]provider.Version, 0, len(versions))}
	for _, sv := range versions {
		page.Versions = append(page.Versions, b.version(p, sv, s.GetVersionAliases()))
	}
	return page, nil
}

// Ping lists at most one secret of the configured project.
func (b *GCPBackend) Ping(ctx context.Context) error {
	ctx, cancel := b.call(ctx)
	defer cancel()

	parent := provider.ResourcePath{Project: b.cfg.Project, Location: b.cfg.Location}.Parent()
	_, _, err := b.api.ListSecretsPage(ctx, &secretmanagerpb.ListSecretsRequest{Parent: parent, PageSize: 1})
	return err
}

func (b *GCPBackend) Close() error {
	return b.api.Close()
}
