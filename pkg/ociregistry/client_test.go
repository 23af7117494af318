package ociregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministicRefName(t *testing.T) {
	cases := []struct {
		ref  string
		want string
	}{
		{"alpine", "alpine__latest"},
		{"alpine:3.19", "alpine__3.19"},
		{"library/alpine:latest", "library_alpine__latest"},
		{"ghcr.io/org/app:v1.2.3", "ghcr.io_org_app__v1.2.3"},
		{"registry-1.docker.io/library/nginx", "registry-1.docker.io_library_nginx__latest"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DeterministicRefName(tc.ref), tc.ref)
	}
}
