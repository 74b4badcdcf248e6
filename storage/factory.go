package storage

import (
	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/config"
)

// FromLocations picks the backend named by the locations file.
func FromLocations(l *config.Locations, runner exec.Runner) Storage {
	if l.Storage == config.StorageLocal {
		return NewLocal(l.LocalStorageRoot)
	}
	return NewGsutil(GsutilConfig{PrivateKey: l.PrivateKeyLocation, Region: l.SignURLRegion}, runner)
}
