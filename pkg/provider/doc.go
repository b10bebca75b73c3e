// Package provider defines the boundary between dsstore and a remote secret
// or parameter store, together with the data model shared by every layer.
//
// # Architecture Overview
//
// The provider package sits at the bottom of dsstore's layered architecture:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                    CLI Commands                             │
//	│              (cmd/dsstore/commands/)                        │
//	└─────────────────────────┬───────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼───────────────────────────────────┐
//	│          Service facades (pkg/secrets, pkg/parameters)      │
//	└──────────────┬──────────────────────────────┬───────────────┘
//	               │                              │
//	┌──────────────▼───────────────┐ ┌────────────▼───────────────┐
//	│  Version Manager             │ │  Listing/Batch Coordinator │
//	│  (pkg/version)               │◄┤  (pkg/listing)             │
//	└──────────────┬───────────────┘ └────────────────────────────┘
//	               │
//	┌──────────────▼──────────────────────────────────────────────┐
//	│  Connection Pool (pkg/pool) + Exception Mapper (pkg/errkind)│
//	└──────────────┬──────────────────────────────────────────────┘
//	               │
//	┌──────────────▼──────────────────────────────────────────────┐
//	│  Backend interface (pkg/provider)                ◄──────────┤
//	│  GCP Secret Manager implementation (internal/providers)     │
//	└─────────────────────────────────────────────────────────────┘
//
// # Data Model
//
// An Entity is a secret or a parameter, addressed by a ResourcePath. It owns
// zero or more Versions. Each Version has an ID that is never reused within
// its entity, a creation Sequence and a State:
//
//	ENABLED ⇄ DISABLED → DESTROYED
//
// Parameters additionally declare a Format (UNFORMATTED, JSON or YAML).
//
// # Implementing a Backend
//
// A Backend is a single connection. It need not be safe for concurrent use
// because the pool never lends one connection to two operations. It should:
//
//   - return vendor errors untouched, so pkg/errkind can classify them
//   - honor context cancellation on every call
//   - page ListEntities and ListVersions with opaque tokens, returning an
//     empty token on the last page
//   - populate Version.Payload only for ENABLED versions
//   - never log payload bytes
//
// RunContractTests exercises any Backend against these rules:
//
//	func TestMyBackend(t *testing.T) {
//	    provider.RunContractTests(t, provider.ContractTest{
//	        Dial: func(t *testing.T) provider.Backend { return newMyBackend(t) },
//	        Project: "test-project",
//	    })
//	}
package provider
