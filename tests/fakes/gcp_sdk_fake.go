package fakes

import (
	"context"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeGCPSecretManagerClient is an in-memory Secret Manager with the
// page-at-a-time surface of providers.SecretManagerAPI. It models etags,
// version aliases, label and name filters, payload checksums and the
// version state machine closely enough to run the backend contract suite.
type FakeGCPSecretManagerClient struct {
	mu      sync.Mutex
	secrets map[string]*gcpSecret
	now     func() time.Time

	// Errors maps a method name ("GetSecret", "AddSecretVersion", ...) to an
	// error returned by every call of that method.
	Errors map[string]error

	// Calls counts invocations per method name.
	Calls map[string]int

	// AccessSecretVersionFunc, when set, replaces AccessSecretVersion.
	AccessSecretVersionFunc func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)

	// UpdateSecretFunc, when set, replaces UpdateSecret.
	UpdateSecretFunc func(ctx context.Context, req *secretmanagerpb.UpdateSecretRequest) (*secretmanagerpb.Secret, error)
}

type gcpSecret struct {
	secret   *secretmanagerpb.Secret
	etag     int
	versions []*secretmanagerpb.SecretVersion
	payloads map[int64][]byte
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// NewFakeGCPSecretManagerClient creates an empty fake.
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		secrets: make(map[string]*gcpSecret),
		now:     time.Now,
		Errors:  make(map[string]error),
		Calls:   make(map[string]int),
	}
}

// SetError makes every call of method fail with err. A nil err clears it.
func (f *FakeGCPSecretManagerClient) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, method)
		return
	}
	f.Errors[method] = err
}

// CallCount returns how often method was invoked.
func (f *FakeGCPSecretManagerClient) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

// Secret returns a copy of the stored secret, or nil.
func (f *FakeGCPSecretManagerClient) Secret(name string) *secretmanagerpb.Secret {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[name]
	if !ok {
		return nil
	}
	return f.snapshot(s)
}

// PutSecret stores a secret directly, bypassing CreateSecret. Used to seed
// secrets that dsstore did not create.
func (f *FakeGCPSecretManagerClient) PutSecret(name string, labels map[string]string, payloads ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &gcpSecret{
		secret:   &secretmanagerpb.Secret{Name: name, Labels: labels, CreateTime: timestamppb.New(f.now())},
		etag:     1,
		payloads: make(map[int64][]byte),
	}
	f.secrets[name] = s
	for _, p := range payloads {
		f.addVersion(s, []byte(p))
	}
}

// VersionCount returns the number of versions of a secret, destroyed
// versions included.
func (f *FakeGCPSecretManagerClient) VersionCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.secrets[name]; ok {
		return len(s.versions)
	}
	return 0
}

// VersionState returns the state of one version.
func (f *FakeGCPSecretManagerClient) VersionState(name string, seq int64) secretmanagerpb.SecretVersion_State {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[name]
	if !ok || seq < 1 || int(seq) > len(s.versions) {
		return secretmanagerpb.SecretVersion_STATE_UNSPECIFIED
	}
	return s.versions[seq-1].GetState()
}

func (f *FakeGCPSecretManagerClient) enter(ctx context.Context, method string) error {
	f.Calls[method]++
	if err := ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	if err, ok := f.Errors[method]; ok {
		return err
	}
	return nil
}

func (f *FakeGCPSecretManagerClient) snapshot(s *gcpSecret) *secretmanagerpb.Secret {
	out := proto.Clone(s.secret).(*secretmanagerpb.Secret)
	out.Etag = strconv.Quote(strconv.Itoa(s.etag))
	return out
}

func (f *FakeGCPSecretManagerClient) lookup(name string) (*gcpSecret, error) {
	s, ok := f.secrets[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions.", name)
	}
	return s, nil
}

func (f *FakeGCPSecretManagerClient) lookupVersion(name string) (*gcpSecret, *secretmanagerpb.SecretVersion, error) {
	i := strings.LastIndex(name, "/versions/")
	if i < 0 {
		return nil, nil, status.Errorf(codes.InvalidArgument, "invalid version name %q", name)
	}
	s, err := f.lookup(name[:i])
	if err != nil {
		return nil, nil, err
	}
	seq, err := strconv.ParseInt(name[i+len("/versions/"):], 10, 64)
	if err != nil || seq < 1 || int(seq) > len(s.versions) {
		return nil, nil, status.Errorf(codes.NotFound, "Secret Version [%s] not found.", name)
	}
	return s, s.versions[seq-1], nil
}

func (f *FakeGCPSecretManagerClient) checkEtag(s *gcpSecret, etag string) error {
	if etag != "" && etag != strconv.Quote(strconv.Itoa(s.etag)) {
		return status.Errorf(codes.Aborted, "etag mismatch for %s", s.secret.GetName())
	}
	return nil
}

func (f *FakeGCPSecretManagerClient) addVersion(s *gcpSecret, data []byte) *secretmanagerpb.SecretVersion {
	seq := int64(len(s.versions) + 1)
	v := &secretmanagerpb.SecretVersion{
		Name:       s.secret.GetName() + "/versions/" + strconv.FormatInt(seq, 10),
		State:      secretmanagerpb.SecretVersion_ENABLED,
		CreateTime: timestamppb.New(f.now()),
	}
	s.versions = append(s.versions, v)
	s.payloads[seq] = append([]byte(nil), data...)
	return v
}

func (f *FakeGCPSecretManagerClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "CreateSecret"); err != nil {
		return nil, err
	}
	if req.GetParent() == "" || req.GetSecretId() == "" {
		return nil, status.Error(codes.InvalidArgument, "parent and secret_id are required")
	}
	name := req.GetParent() + "/secrets/" + req.GetSecretId()
	if _, ok := f.secrets[name]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "Secret [%s] already exists.", name)
	}
	secret := &secretmanagerpb.Secret{}
	if req.GetSecret() != nil {
		secret = proto.Clone(req.GetSecret()).(*secretmanagerpb.Secret)
	}
	secret.Name = name
	secret.CreateTime = timestamppb.New(f.now())
	s := &gcpSecret{secret: secret, etag: 1, payloads: make(map[int64][]byte)}
	f.secrets[name] = s
	return f.snapshot(s), nil
}

func (f *FakeGCPSecretManagerClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "GetSecret"); err != nil {
		return nil, err
	}
	s, err := f.lookup(req.GetName())
	if err != nil {
		return nil, err
	}
	return f.snapshot(s), nil
}

func (f *FakeGCPSecretManagerClient) UpdateSecret(ctx context.Context, req *secretmanagerpb.UpdateSecretRequest) (*secretmanagerpb.Secret, error) {
	if f.UpdateSecretFunc != nil {
		f.mu.Lock()
		f.Calls["UpdateSecret"]++
		f.mu.Unlock()
		return f.UpdateSecretFunc(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "UpdateSecret"); err != nil {
		return nil, err
	}
	s, err := f.lookup(req.GetSecret().GetName())
	if err != nil {
		return nil, err
	}
	if err := f.checkEtag(s, req.GetSecret().GetEtag()); err != nil {
		return nil, err
	}
	for _, path := range req.GetUpdateMask().GetPaths() {
		switch path {
		case "version_aliases":
			aliases := make(map[string]int64, len(req.GetSecret().GetVersionAliases()))
			for k, v := range req.GetSecret().GetVersionAliases() {
				if v < 1 || int(v) > len(s.versions) {
					return nil, status.Errorf(codes.InvalidArgument, "alias %q points at missing version %d", k, v)
				}
				aliases[k] = v
			}
			s.secret.VersionAliases = aliases
		case "labels":
			s.secret.Labels = req.GetSecret().GetLabels()
		default:
			return nil, status.Errorf(codes.InvalidArgument, "unsupported update mask path %q", path)
		}
	}
	s.etag++
	return f.snapshot(s), nil
}

func (f *FakeGCPSecretManagerClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "DeleteSecret"); err != nil {
		return err
	}
	s, err := f.lookup(req.GetName())
	if err != nil {
		return err
	}
	if err := f.checkEtag(s, req.GetEtag()); err != nil {
		return err
	}
	delete(f.secrets, req.GetName())
	return nil
}

// ListSecretsPage supports filters made of terms joined by " AND ":
// labels.KEY=VALUE and name:SUBSTRING. The page token is an offset.
func (f *FakeGCPSecretManagerClient) ListSecretsPage(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) ([]*secretmanagerpb.Secret, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "ListSecrets"); err != nil {
		return nil, "", err
	}
	match, err := parseFilter(req.GetFilter())
	if err != nil {
		return nil, "", err
	}

	prefix := req.GetParent() + "/secrets/"
	var names []string
	for name, s := range f.secrets {
		if strings.HasPrefix(name, prefix) && match(s.secret) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []*secretmanagerpb.Secret
	next, err := paginate(len(names), req.GetPageSize(), req.GetPageToken(), func(i int) {
		out = append(out, f.snapshot(f.secrets[names[i]]))
	})
	return out, next, err
}

func (f *FakeGCPSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "AddSecretVersion"); err != nil {
		return nil, err
	}
	s, err := f.lookup(req.GetParent())
	if err != nil {
		return nil, err
	}
	data := req.GetPayload().GetData()
	if want := req.GetPayload().DataCrc32C; want != nil && int64(crc32.Checksum(data, castagnoli)) != *want {
		return nil, status.Error(codes.InvalidArgument, "data_crc32c does not match the payload")
	}
	return proto.Clone(f.addVersion(s, data)).(*secretmanagerpb.SecretVersion), nil
}

func (f *FakeGCPSecretManagerClient) GetSecretVersion(ctx context.Context, req *secretmanagerpb.GetSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "GetSecretVersion"); err != nil {
		return nil, err
	}
	_, v, err := f.lookupVersion(req.GetName())
	if err != nil {
		return nil, err
	}
	return proto.Clone(v).(*secretmanagerpb.SecretVersion), nil
}

func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	if f.AccessSecretVersionFunc != nil {
		f.mu.Lock()
		f.Calls["AccessSecretVersion"]++
		f.mu.Unlock()
		return f.AccessSecretVersionFunc(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "AccessSecretVersion"); err != nil {
		return nil, err
	}
	s, v, err := f.lookupVersion(req.GetName())
	if err != nil {
		return nil, err
	}
	if v.GetState() != secretmanagerpb.SecretVersion_ENABLED {
		return nil, status.Errorf(codes.FailedPrecondition, "Secret Version [%s] is in %s state.", v.GetName(), v.GetState())
	}
	data := append([]byte(nil), s.payloads[sequence(v)]...)
	crc := int64(crc32.Checksum(data, castagnoli))
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    v.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: data, DataCrc32C: &crc},
	}, nil
}

func (f *FakeGCPSecretManagerClient) setState(ctx context.Context, method, name string, state secretmanagerpb.SecretVersion_State) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, method); err != nil {
		return nil, err
	}
	s, v, err := f.lookupVersion(name)
	if err != nil {
		return nil, err
	}
	if v.GetState() == secretmanagerpb.SecretVersion_DESTROYED {
		return nil, status.Errorf(codes.FailedPrecondition, "Secret Version [%s] is in DESTROYED state.", name)
	}
	v.State = state
	if state == secretmanagerpb.SecretVersion_DESTROYED {
		v.DestroyTime = timestamppb.New(f.now())
		delete(s.payloads, sequence(v))
	}
	return proto.Clone(v).(*secretmanagerpb.SecretVersion), nil
}

func (f *FakeGCPSecretManagerClient) EnableSecretVersion(ctx context.Context, req *secretmanagerpb.EnableSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return f.setState(ctx, "EnableSecretVersion", req.GetName(), secretmanagerpb.SecretVersion_ENABLED)
}

func (f *FakeGCPSecretManagerClient) DisableSecretVersion(ctx context.Context, req *secretmanagerpb.DisableSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return f.setState(ctx, "DisableSecretVersion", req.GetName(), secretmanagerpb.SecretVersion_DISABLED)
}

func (f *FakeGCPSecretManagerClient) DestroySecretVersion(ctx context.Context, req *secretmanagerpb.DestroySecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	return f.setState(ctx, "DestroySecretVersion", req.GetName(), secretmanagerpb.SecretVersion_DESTROYED)
}

// ListSecretVersionsPage returns versions newest first, like the service.
func (f *FakeGCPSecretManagerClient) ListSecretVersionsPage(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest) ([]*secretmanagerpb.SecretVersion, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "ListSecretVersions"); err != nil {
		return nil, "", err
	}
	s, err := f.lookup(req.GetParent())
	if err != nil {
		return nil, "", err
	}

	n := len(s.versions)
	var out []*secretmanagerpb.SecretVersion
	next, err := paginate(n, req.GetPageSize(), req.GetPageToken(), func(i int) {
		out = append(out, proto.Clone(s.versions[n-1-i]).(*secretmanagerpb.SecretVersion))
	})
	return out, next, err
}

// Close only counts calls; one fake may back many pooled connections.
func (f *FakeGCPSecretManagerClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls["Close"]++
	return nil
}

func sequence(v *secretmanagerpb.SecretVersion) int64 {
	n, _ := strconv.ParseInt(v.GetName()[strings.LastIndex(v.GetName(), "/")+1:], 10, 64)
	return n
}

func paginate(total int, pageSize int32, token string, emit func(i int)) (string, error) {
	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > total {
			return "", status.Errorf(codes.InvalidArgument, "invalid page token %q", token)
		}
		start = n
	}
	size := int(pageSize)
	if size <= 0 {
		size = 25
	}
	end := start + size
	if end > total {
		end = total
	}
	for i := start; i < end; i++ {
		emit(i)
	}
	if end == total {
		return "", nil
	}
	return strconv.Itoa(end), nil
}

func parseFilter(filter string) (func(*secretmanagerpb.Secret) bool, error) {
	var preds []func(*secretmanagerpb.Secret) bool
	for _, term := range strings.Split(filter, " AND ") {
		term = strings.TrimSpace(term)
		switch {
		case term == "":
		case strings.HasPrefix(term, "labels.") && strings.Contains(term, "="):
			kv := strings.SplitN(strings.TrimPrefix(term, "labels."), "=", 2)
			k, v := kv[0], kv[1]
			preds = append(preds, func(s *secretmanagerpb.Secret) bool { return s.GetLabels()[k] == v })
		case strings.HasPrefix(term, "name:"):
			sub := strings.TrimPrefix(term, "name:")
			preds = append(preds, func(s *secretmanagerpb.Secret) bool {
				return strings.Contains(s.GetName()[strings.LastIndex(s.GetName(), "/")+1:], sub)
			})
		default:
			return nil, status.Errorf(codes.InvalidArgument, "unsupported filter term %q", term)
		}
	}
	return func(s *secretmanagerpb.Secret) bool {
		for _, p := range preds {
			if !p(s) {
				return false
			}
		}
		return true
	}, nil
}
