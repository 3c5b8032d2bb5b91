// Package fat implements read-only parsing and navigation of FAT12, FAT16,
// FAT32, and exFAT filesystems.
package fat

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dsoprea/go-logging"
)

// FilesystemError is implemented by every error kind this package raises
// deliberately. Anything else bubbling out of an operation is an I/O or
// decode failure from a lower layer.
type FilesystemError interface {
	error
	filesystemError()
}

// InvalidBPBError indicates that the boot parameter block failed one of the
// structural sanity checks.
type InvalidBPBError struct {
	Reason string
}

func (e InvalidBPBError) Error() string {
	return fmt.Sprintf("invalid boot parameter block: %s", e.Reason)
}

func (InvalidBPBError) filesystemError() {}

// InvalidHeaderSignatureError indicates that the volume boot record does not
// carry the expected filesystem signature.
type InvalidHeaderSignatureError struct {
	Signature string
}

func (e InvalidHeaderSignatureError) Error() string {
	return fmt.Sprintf("invalid header signature: [%s]", e.Signature)
}

func (InvalidHeaderSignatureError) filesystemError() {}

// BadClusterError indicates that a cluster chain ran into the bad-cluster
// marker.
type BadClusterError struct {
	Cluster uint32
}

func (e BadClusterError) Error() string {
	return fmt.Sprintf("cluster (%d) is marked bad", e.Cluster)
}

func (BadClusterError) filesystemError() {}

// FreeClusterError indicates that a cluster chain ran into a cluster marked
// free, which a consistent chain never does.
type FreeClusterError struct {
	Cluster uint32
}

func (e FreeClusterError) Error() string {
	return fmt.Sprintf("cluster (%d) is marked free", e.Cluster)
}

func (FreeClusterError) filesystemError() {}

// CorruptChainError indicates that a cluster chain visited more clusters than
// the allocation table has entries. A well-formed chain never revisits a
// cluster, so this means the chain is cyclic.
type CorruptChainError struct {
	StartingCluster uint32
}

func (e CorruptChainError) Error() string {
	return fmt.Sprintf("cluster chain starting at (%d) does not terminate", e.StartingCluster)
}

func (CorruptChainError) filesystemError() {}

// ClusterOutOfRangeError indicates a lookup of a cluster index past the end
// of the allocation table.
type ClusterOutOfRangeError struct {
	Cluster    uint32
	EntryCount uint32
}

func (e ClusterOutOfRangeError) Error() string {
	return fmt.Sprintf("cluster (%d) exceeds table entry-count (%d)", e.Cluster, e.EntryCount)
}

func (ClusterOutOfRangeError) filesystemError() {}

// InvalidDirectoryError indicates structurally inconsistent directory data.
type InvalidDirectoryError struct {
	Reason string
}

func (e InvalidDirectoryError) Error() string {
	return fmt.Sprintf("invalid directory: %s", e.Reason)
}

func (InvalidDirectoryError) filesystemError() {}

// NotFoundError indicates that a path lookup did not resolve.
type NotFoundError struct {
	Path string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("path not found: [%s]", e.Path)
}

func (NotFoundError) filesystemError() {}

// NotADirectoryError indicates a directory operation against a file entry.
type NotADirectoryError struct {
	Name string
}

func (e NotADirectoryError) Error() string {
	return fmt.Sprintf("entry is not a directory: [%s]", e.Name)
}

func (NotADirectoryError) filesystemError() {}

var (
	// Flow-control sentinels used by the directory-entry decoder. These never
	// escape the iteration loop.
	errDirentEmpty = errors.New("directory entry is unused")
	errDirentLast  = errors.New("directory entry is the end-of-directory marker")
)

// errorFromRecovery normalizes a recovered panic value into an error result.
// Filesystem error types pass through unchanged so that callers can match
// them with errors.As; foreign errors are wrapped with a stacktrace.
func errorFromRecovery(errRaw interface{}) error {
	err, ok := errRaw.(error)
	if ok == false {
		return log.Errorf("recovered value is not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
	}

	var fsErr FilesystemError
	if errors.As(err, &fsErr) == true {
		return err
	}

	return log.Wrap(err)
}
