package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/martazobro/s3-plugin/internal/domain"
	"github.com/martazobro/s3-plugin/internal/profile"
)

type ArtifactHandler struct {
	profile *profile.Profile
	bucket  string
}

func NewArtifactHandler(p *profile.Profile, bucket string) *ArtifactHandler {
	return &ArtifactHandler{profile: p, bucket: bucket}
}

// ListArtifacts returns every object key stored under a build's namespace.
func (h *ArtifactHandler) ListArtifacts(c *gin.Context) {
	build, ok := buildFromParams(c)
	if !ok {
		return
	}

	keys, err := h.profile.List(c.Request.Context(), build, h.bucket, c.Query("filter"))
	if err != nil {
		log.Error().Err(err).Str("job", build.JobName).Int("build", build.Number).Msg("failed to list artifacts")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to list artifacts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job":       build.JobName,
		"build":     build.Number,
		"artifacts": keys,
	})
}

// DownloadRedirect signs a short-lived URL for one artifact and redirects the
// caller to it, so artifact bytes never flow through this server.
func (h *ArtifactHandler) DownloadRedirect(c *gin.Context) {
	build, ok := buildFromParams(c)
	if !ok {
		return
	}

	record := domain.FingerprintRecord{
		Artifact: domain.Artifact{Name: c.Param("name")},
	}
	url, err := h.profile.DownloadURL(c.Request.Context(), build, h.bucket, record)
	if err != nil {
		log.Error().Err(err).Str("artifact", record.Artifact.Name).Msg("failed to sign download url")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to sign download url"})
		return
	}

	c.Redirect(http.StatusFound, url)
}

func buildFromParams(c *gin.Context) (domain.Build, bool) {
	number, err := strconv.Atoi(c.Param("build"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "build number must be an integer"})
		return domain.Build{}, false
	}
	return domain.Build{JobName: c.Param("job"), Number: number}, true
}
