// Package testutil provides shared testing utilities for the zonda project.
//
// This package contains reusable test infrastructure that can be used across
// multiple packages, following the pattern of Go standard library packages
// like net/http/httptest and testing/iotest.
package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/genkit"
)

// NewGenkit returns a Genkit instance with no provider plugins, suitable for
// registering mock models. Each call builds a fresh registry, so mock model
// names never collide across tests.
func NewGenkit(t *testing.T) *genkit.Genkit {
	t.Helper()
	return genkit.Init(context.Background())
}
