//go:build integration

// Package containers starts throwaway backends for integration tests. Every
// container is terminated by t.Cleanup, so callers never stop them by hand.
package containers

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// started registers termination for c and aborts the test when err is set.
func started[C testcontainers.Container](t *testing.T, what string, c C, err error) C {
	t.Helper()
	if err != nil {
		t.Fatalf("start %s container: %v", what, err)
	}
	t.Cleanup(func() {
		if termErr := testcontainers.TerminateContainer(c); termErr != nil {
			t.Logf("terminate %s container: %v", what, termErr)
		}
	})
	return c
}

// check aborts the test when err is set.
func check(t *testing.T, what string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}
