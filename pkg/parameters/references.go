package parameters

import (
	"regexp"
	"sort"

	"github.com/systmms/dsstore/pkg/provider"
)

var referencePattern = regexp.MustCompile(`\$\{secret\.([^}\s]+)\}`)

// Reference is one ${secret.NAME} placeholder in a parameter value.
type Reference struct {
	// Placeholder is the literal text, e.g.
	// ${secret.projects/p/secrets/db-pass/versions/latest}.
	Placeholder string
	// Name is the secret version resource name inside the braces.
	Name string

	Path    provider.ResourcePath
	Version string
	// Err is set when Name is not a well-formed secret version name.
	Err error
}

// ParseSecretReferences returns every distinct secret reference in text,
// sorted by placeholder.
func ParseSecretReferences(text string) []Reference {
	seen := map[string]bool{}
	var refs []Reference
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		if seen[m[0]] {
			continue
		}
		seen[m[0]] = true

		ref := Reference{Placeholder: m[0], Name: m[1]}
		ref.Path, ref.Version, ref.Err = provider.ParseVersionName(m[1])
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Placeholder < refs[j].Placeholder })
	return refs
}
