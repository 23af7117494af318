package storage

import (
	"github.com/monocore/monocore/pkg/types"
)

// Store persists the sandboxes and filesystems tables from the data
// model. Implementations must make CreateSandbox/DeleteSandbox and
// their filesystem equivalents atomic: a reader must never observe a
// row in a half-written state.
type Store interface {
	// Sandboxes: keyed by supervisor_pid, one row per live microVM.
	CreateSandbox(row *types.SandboxRow) error
	GetSandbox(supervisorPID int) (*types.SandboxRow, error)
	GetSandboxByName(name string) (*types.SandboxRow, error)
	ListSandboxes() ([]*types.SandboxRow, error)
	UpdateSandbox(row *types.SandboxRow) error
	DeleteSandbox(supervisorPID int) error

	// Filesystems: keyed by supervisor_pid, one row per live NFS server.
	CreateFilesystem(row *types.FilesystemRow) error
	GetFilesystem(supervisorPID int) (*types.FilesystemRow, error)
	GetFilesystemByName(name string) (*types.FilesystemRow, error)
	ListFilesystems() ([]*types.FilesystemRow, error)
	DeleteFilesystem(supervisorPID int) error

	Close() error
}
