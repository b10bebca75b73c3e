package provider

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// MaxIDLength is the longest entity ID accepted by the store.
const MaxIDLength = 255

// ReservedLabelPrefix marks labels that hold dsstore metadata, such as the
// entity kind. Callers may not set them.
const ReservedLabelPrefix = "dsstore-"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ResourcePath identifies an entity. It is unique and immutable after
// creation. Location is empty or "global" for global resources.
type ResourcePath struct {
	Project  string
	Location string
	Kind     Kind
	ID       string
}

// Regional reports whether the path addresses a regional resource.
func (p ResourcePath) Regional() bool {
	return p.Location != "" && p.Location != "global"
}

// Parent returns the project (or project/location) part of the path.
func (p ResourcePath) Parent() string {
	if p.Regional() {
		return fmt.Sprintf("projects/%s/locations/%s", p.Project, p.Location)
	}
	return "projects/" + p.Project
}

// String renders projects/{p}[/locations/{l}]/{collection}/{id}.
func (p ResourcePath) String() string {
	return fmt.Sprintf("%s/%s/%s", p.Parent(), p.Kind.Collection(), p.ID)
}

// VersionName renders the resource name of one version of the entity.
func (p ResourcePath) VersionName(id string) string {
	return p.String() + "/versions/" + id
}

// Validate checks the parts of the path locally, before any remote call.
func (p ResourcePath) Validate() error {
	if p.Project == "" {
		return fmt.Errorf("project is required")
	}
	if strings.ContainsAny(p.Project, "/ \t\n") {
		return fmt.Errorf("invalid project %q", p.Project)
	}
	if strings.ContainsAny(p.Location, "/ \t\n") {
		return fmt.Errorf("invalid location %q", p.Location)
	}
	return ValidateID(p.ID)
}

// ValidateID checks an entity ID: 1-255 characters of letters, digits,
// hyphens and underscores.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("id %q exceeds %d characters", id[:32]+"...", MaxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("id %q may only contain letters, digits, '-' and '_'", id)
	}
	return nil
}

// ValidateLabels rejects empty keys and keys in the reserved namespace.
func ValidateLabels(labels map[string]string) error {
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		if k == "" {
			return fmt.Errorf("label key must not be empty")
		}
		if strings.HasPrefix(k, ReservedLabelPrefix) {
			return fmt.Errorf("label %q uses the reserved prefix %q", k, ReservedLabelPrefix)
		}
	}
	return nil
}

// ParseResourcePath parses a full resource name. The collection segment
// determines the kind.
func ParseResourcePath(name string) (ResourcePath, error) {
	parts := strings.Split(strings.Trim(name, "/"), "/")

	var p ResourcePath
	switch {
	case len(parts) == 4 && parts[0] == "projects":
		p.Project, p.Location = parts[1], "global"
		parts = parts[2:]
	case len(parts) == 6 && parts[0] == "projects" && parts[2] == "locations":
		p.Project, p.Location = parts[1], parts[3]
		parts = parts[4:]
	default:
		return ResourcePath{}, fmt.Errorf("malformed resource name %q", name)
	}

	switch parts[0] {
	case "secrets":
		p.Kind = KindSecret
	case "parameters":
		p.Kind = KindParameter
	default:
		return ResourcePath{}, fmt.Errorf("unknown collection %q in %q", parts[0], name)
	}
	p.ID = parts[1]

	if err := p.Validate(); err != nil {
		return ResourcePath{}, err
	}
	return p, nil
}

// ParseVersionName splits projects/.../{collection}/{id}/versions/{v}.
func ParseVersionName(name string) (ResourcePath, string, error) {
	i := strings.LastIndex(name, "/versions/")
	if i < 0 {
		return ResourcePath{}, "", fmt.Errorf("malformed version name %q", name)
	}
	p, err := ParseResourcePath(name[:i])
	if err != nil {
		return ResourcePath{}, "", err
	}
	v := name[i+len("/versions/"):]
	if v == "" || strings.Contains(v, "/") {
		return ResourcePath{}, "", fmt.Errorf("malformed version name %q", name)
	}
	return p, v, nil
}
