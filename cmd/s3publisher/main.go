package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/martazobro/s3-plugin/internal/cdn"
	"github.com/martazobro/s3-plugin/internal/config"
	"github.com/martazobro/s3-plugin/internal/profile"
	"github.com/martazobro/s3-plugin/internal/storage"
	"github.com/martazobro/s3-plugin/pkg/logger"
)

type ctxKey string

const profileKey ctxKey = "profile"

func newJobFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "job",
		Usage:   "Build job display name",
		EnvVars: []string{"BUILD_JOB_NAME"},
	}
}

func newBuildNumberFlag() *cli.IntFlag {
	return &cli.IntFlag{
		Name:    "build-number",
		Usage:   "Numeric build id",
		EnvVars: []string{"BUILD_NUMBER"},
	}
}

func newBucketFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "bucket",
		Usage:   "Destination bucket (defaults to STORAGE_BUCKET)",
		EnvVars: []string{"STORAGE_BUCKET"},
	}
}

// initProfile builds the storage profile once and stores it on the CLI
// context for the command actions.
func initProfile(c *cli.Context) error {
	cfg := config.Load()
	logger.Init(c.String("log-level"))

	var opts []profile.Option
	if cfg.CDN.Enabled {
		creds := storage.ExplicitCredentials(cfg.Profile.AccessKey, cfg.Profile.SecretKey)
		if cfg.Profile.UseRole {
			creds = storage.AmbientRole()
		}
		invalidator, err := cdn.NewCloudFront(c.Context, creds, cfg.Storage.Region, cfg.CDN.DistributionID)
		if err != nil {
			return err
		}
		opts = append(opts, profile.WithInvalidator(invalidator))
	}

	p := profile.New(cfg.Profile, cfg.Storage, opts...)
	c.Context = context.WithValue(c.Context, profileKey, p)
	return nil
}

func profileFrom(c *cli.Context) *profile.Profile {
	p, _ := c.Context.Value(profileKey).(*profile.Profile)
	return p
}

func main() {
	app := &cli.App{
		Name:  "s3publisher",
		Usage: "Publish, fetch and manage build artifacts in object storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (trace, debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: initProfile,
		Commands: []*cli.Command{
			newCheckCommand(),
			newUploadCommand(),
			newDownloadCommand(),
			newListCommand(),
			newDeleteCommand(),
			newURLCommand(),
			newInvalidateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func buildStart(c *cli.Context) time.Time {
	if s := c.String("build-start"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
		log.Warn().Str("build-start", s).Msg("unparseable build start time, using now")
	}
	return time.Now()
}
