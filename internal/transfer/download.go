package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/martazobro/s3-plugin/internal/domain"
)

// DownloadTask fetches one object and writes it to a local target path. It is
// dispatched to run where the target directory resides.
type DownloadTask struct {
	Client      ClientOptions      `json:"client"`
	Destination domain.Destination `json:"destination"`
	Artifact    domain.Artifact    `json:"artifact"`
	TargetPath  string             `json:"target_path"`
}

func (t *DownloadTask) Run(ctx context.Context) (any, error) {
	client, err := newClient(ctx, t.Client.storageOptions())
	if err != nil {
		return nil, err
	}

	data, err := client.Get(ctx, t.Destination.Bucket, t.Destination.Key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", t.Destination, err)
	}

	if err := os.MkdirAll(filepath.Dir(t.TargetPath), 0o755); err != nil {
		return nil, fmt.Errorf("create target dir for %s: %w", t.TargetPath, err)
	}
	if err := os.WriteFile(t.TargetPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", t.TargetPath, err)
	}

	sum := md5.Sum(data)
	return domain.FingerprintRecord{
		Artifact: t.Artifact,
		MD5:      hex.EncodeToString(sum[:]),
	}, nil
}
