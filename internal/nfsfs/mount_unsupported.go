//go:build !linux
// +build !linux

package nfsfs

import (
	"context"
	"fmt"

	"github.com/snapetech/prolink/internal/nfs"
)

// Mount is unavailable off Linux; the FUSE bridge depends on go-fuse.
func Mount(_ context.Context, _ string, _ *nfs.Client) (func(), error) {
	return nil, fmt.Errorf("nfsfs: mounting is only supported on linux builds")
}
