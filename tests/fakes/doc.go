// Package fakes provides test doubles for dsstore's store boundary.
//
// This package contains fake implementations of the remote store and of the
// Google Cloud Secret Manager SDK surface, so the pool, version manager,
// listing coordinator, facades and the GCP backend can all be unit tested
// without real cloud services. Fakes are manually implemented (not
// generated) to provide precise control over test behavior.
//
// Usage:
//
//	store := fakes.NewFakeStore().
//	    FailOn(fakes.OpGetVersion, status.Error(codes.Unavailable, "blip"), 1)
//	p, err := pool.New(pool.Config{Name: "secrets", Size: 2}, store.Dialer())
//	// Test pool, manager and service behavior...
package fakes
