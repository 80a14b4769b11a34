package blob

import (
	"context"
	"fmt"
	"os"
)

// Options selects and configures a blob store backend. Unset fields fall back
// to environment variables.
type Options struct {
	Driver Driver
	FSRoot string
}

// Open selects a Store implementation from opts, falling back to environment
// variables, then to the filesystem driver.
//
//	ANNOTCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	ANNOTCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented on OpenS3FromEnv)
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = Driver(os.Getenv("ANNOTCORE_BLOB_DRIVER"))
	}
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		root := opts.FSRoot
		if root == "" {
			root = os.Getenv("ANNOTCORE_BLOB_FS_ROOT")
		}
		return NewFilesystem(root)
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
