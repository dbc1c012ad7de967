package domain

import (
	"errors"
	"time"
)

// ErrIsDirectory is returned when an upload is given a directory instead of a file.
// Directory inputs are rejected up front and never retried.
var ErrIsDirectory = errors.New("path is a directory")

// Build identifies the build whose artifacts are being published.
type Build struct {
	JobName   string    `json:"job_name"`
	Number    int       `json:"number"`
	StartTime time.Time `json:"start_time"`
}

// Artifact is a logical build artifact supplied by the build system.
type Artifact struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	LastModified time.Time `json:"last_modified"`
}

// FingerprintRecord binds an artifact to the checksum of the content that was
// transferred, and records whether the uploading build produced the artifact or
// merely re-published a pre-existing file. It is created once per successful
// transfer and never mutated afterwards.
type FingerprintRecord struct {
	Artifact Artifact `json:"artifact"`
	MD5      string   `json:"md5"`
	Produced bool     `json:"produced"`
}

// ProducedTolerance absorbs clock skew between the build host and the machine
// holding the artifact when deciding whether the build produced the file.
const ProducedTolerance = 2 * time.Second

// ProducedByBuild reports whether a build that started at buildStart is the
// origin of a file last modified at lastModified. The file counts as produced
// when the build started at or before lastModified plus the skew tolerance.
func ProducedByBuild(buildStart, lastModified time.Time) bool {
	return !buildStart.After(lastModified.Add(ProducedTolerance))
}
