package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/martazobro/s3-plugin/internal/domain"
	"github.com/martazobro/s3-plugin/internal/profile"
)

func newCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Verify storage connectivity and credentials",
		Action: func(c *cli.Context) error {
			if err := profileFrom(c).Check(c.Context); err != nil {
				return err
			}
			fmt.Println("connection ok")
			return nil
		},
	}
}

func newUploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload one or more artifact files",
		ArgsUsage: "FILE [FILE...]",
		Flags: []cli.Flag{
			newJobFlag(),
			newBuildNumberFlag(),
			newBucketFlag(),
			&cli.StringFlag{
				Name:  "build-start",
				Usage: "Build start time (RFC3339); used for the produced flag",
			},
			&cli.IntFlag{
				Name:  "search-path-length",
				Usage: "Number of leading path bytes stripped from unmanaged keys",
			},
			&cli.StringSliceFlag{
				Name:  "metadata",
				Usage: "User metadata as key=value (repeatable)",
			},
			&cli.StringFlag{
				Name:  "storage-class",
				Usage: "Storage class for uploaded objects",
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "Region override for this upload",
			},
			&cli.BoolFlag{Name: "managed", Usage: "Namespace keys by build identity"},
			&cli.BoolFlag{Name: "flatten", Usage: "Discard directory structure, keep base names"},
			&cli.BoolFlag{Name: "gzip", Usage: "Gzip file content before upload"},
			&cli.BoolFlag{Name: "sse", Usage: "Use server-side encryption"},
			&cli.BoolFlag{Name: "from-agent", Usage: "Dispatch the transfer to the remote agent holding the files"},
			&cli.IntFlag{
				Name:  "parallel",
				Usage: "Number of files uploaded concurrently",
				Value: 1,
			},
		},
		Action: runUpload,
	}
}

func runUpload(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	p := profileFrom(c)
	build := domain.Build{
		JobName:   c.String("job"),
		Number:    c.Int("build-number"),
		StartTime: buildStart(c),
	}
	opts := profile.UploadOptions{
		SearchPathLength:     c.Int("search-path-length"),
		Metadata:             parseMetadata(c.StringSlice("metadata")),
		StorageClass:         c.String("storage-class"),
		Region:               c.String("region"),
		FromRemoteAgent:      c.Bool("from-agent"),
		ManagedArtifacts:     c.Bool("managed"),
		ServerSideEncryption: c.Bool("sse"),
		Flatten:              c.Bool("flatten"),
		Gzip:                 c.Bool("gzip"),
	}

	// The publisher itself is strictly sequential; parallelism across
	// separate artifacts is this caller's choice.
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(max(1, c.Int("parallel")))

	records := make([]domain.FingerprintRecord, 0, c.NArg())
	for _, file := range c.Args().Slice() {
		g.Go(func() error {
			record, err := p.Upload(c.Context, build, c.String("bucket"), file, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			records = append(records, *record)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, record := range records {
		fmt.Printf("%s\t%s\n", record.MD5, record.Artifact.Name)
	}
	return nil
}

func newDownloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download a build's artifacts by name",
		ArgsUsage: "NAME [NAME...]",
		Flags: []cli.Flag{
			newJobFlag(),
			newBuildNumberFlag(),
			newBucketFlag(),
			&cli.StringFlag{
				Name:  "filter",
				Usage: "Filename glob applied to artifact names",
				Value: "*",
			},
			&cli.StringFlag{
				Name:  "target-dir",
				Usage: "Directory downloads are written to",
				Value: ".",
			},
			&cli.BoolFlag{Name: "flatten", Usage: "Discard directory structure, keep base names"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one artifact name is required")
			}

			candidates := make([]domain.FingerprintRecord, 0, c.NArg())
			for _, name := range c.Args().Slice() {
				candidates = append(candidates, domain.FingerprintRecord{
					Artifact: domain.Artifact{Name: name},
				})
			}

			build := domain.Build{JobName: c.String("job"), Number: c.Int("build-number")}
			result := profileFrom(c).DownloadAll(
				c.Context, build, c.String("bucket"),
				candidates, c.String("filter"), c.String("target-dir"), c.Bool("flatten"),
				os.Stderr,
			)

			for _, record := range result.Downloaded {
				fmt.Printf("%s\t%s\n", record.MD5, record.Artifact.Name)
			}
			if len(result.Failures) > 0 {
				return fmt.Errorf("%d of %d artifacts failed to download", len(result.Failures), len(candidates))
			}
			return nil
		},
	}
}

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List a build's stored artifact keys",
		Flags: []cli.Flag{
			newJobFlag(),
			newBuildNumberFlag(),
			newBucketFlag(),
			&cli.StringFlag{
				Name:  "filter",
				Usage: "Filename glob applied to the listed keys",
			},
		},
		Action: func(c *cli.Context) error {
			build := domain.Build{JobName: c.String("job"), Number: c.Int("build-number")}
			keys, err := profileFrom(c).List(c.Context, build, c.String("bucket"), c.String("filter"))
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Println(key)
			}
			return nil
		},
	}
}

func newDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete one of a build's stored artifacts",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			newJobFlag(),
			newBuildNumberFlag(),
			newBucketFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("exactly one artifact name is required")
			}
			build := domain.Build{JobName: c.String("job"), Number: c.Int("build-number")}
			record := domain.FingerprintRecord{Artifact: domain.Artifact{Name: c.Args().First()}}
			if err := profileFrom(c).Delete(c.Context, build, c.String("bucket"), record); err != nil {
				return err
			}
			log.Info().Str("artifact", c.Args().First()).Msg("artifact deleted")
			return nil
		},
	}
}

func newURLCommand() *cli.Command {
	return &cli.Command{
		Name:      "url",
		Usage:     "Print a time-limited signed download URL for an artifact",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			newJobFlag(),
			newBuildNumberFlag(),
			newBucketFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("exactly one artifact name is required")
			}
			build := domain.Build{JobName: c.String("job"), Number: c.Int("build-number")}
			record := domain.FingerprintRecord{Artifact: domain.Artifact{Name: c.Args().First()}}
			url, err := profileFrom(c).DownloadURL(c.Context, build, c.String("bucket"), record)
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}
}

func newInvalidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "invalidate",
		Usage:     "Invalidate cached CDN copies of the given paths",
		ArgsUsage: "PATH [PATH...]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "search-path-length",
				Usage: "Number of leading path bytes stripped before invalidation",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("at least one path is required")
			}
			return profileFrom(c).Invalidate(c.Context, c.Int("search-path-length"), c.Args().Slice()...)
		},
	}
}

func parseMetadata(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	meta := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			log.Warn().Str("metadata", pair).Msg("ignoring metadata without '='")
			continue
		}
		meta[key] = value
	}
	return meta
}
