package domain

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Destination is a resolved (bucket, object key) pair identifying one stored
// artifact. Destinations are derived, never persisted; resolving the same
// inputs always yields the same key, which is what makes re-uploads idempotent
// and lets downloads and deletes address objects later from build identity
// alone.
type Destination struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (d Destination) String() string {
	return fmt.Sprintf("s3://%s/%s", d.Bucket, d.Key)
}

// BaseName returns the final path segment of the object key.
func (d Destination) BaseName() string {
	return path.Base(strings.ReplaceAll(d.Key, "\\", "/"))
}

// DestinationForPath resolves an unmanaged destination: the object key is the
// artifact's path with the first searchPathLength bytes stripped, i.e. the path
// relative to the search root. With flatten set the directory structure is
// discarded and only the base name is kept.
func DestinationForPath(bucket, filePath string, searchPathLength int, flatten bool) Destination {
	if flatten {
		return Destination{Bucket: bucket, Key: filepath.Base(filePath)}
	}
	key := filePath
	if searchPathLength > 0 && searchPathLength <= len(filePath) {
		key = filePath[searchPathLength:]
	}
	return Destination{Bucket: bucket, Key: key}
}

// DestinationForBuild resolves a managed destination, namespaced by build
// identity so the object can be found later without knowing the original path
// layout: jobs/<job>/<build number>/<profile>/<artifact base name>.
func DestinationForBuild(bucket string, build Build, profileName, artifactName string) Destination {
	key := fmt.Sprintf("jobs/%s/%d/%s/%s", build.JobName, build.Number, profileName, filepath.Base(artifactName))
	return Destination{Bucket: bucket, Key: key}
}

// ManagedPrefix returns the key prefix under which every managed artifact of
// the given build and profile lives. Used to scope listing requests.
func ManagedPrefix(build Build, profileName string) string {
	return fmt.Sprintf("jobs/%s/%d/%s", build.JobName, build.Number, profileName)
}
