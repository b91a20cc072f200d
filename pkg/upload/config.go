package upload

import (
	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/media"
	"github.com/factline/cli/pkg/poller"
)

const megabyte = 1024 * 1024

// Config holds limits and collaborators' settings for one orchestrator.
type Config struct {
	MaxImageBytes   int64
	MaxVideoBytes   int64
	ImageExtensions []string
	VideoExtensions []string

	CompressImages bool
	Compression    media.Options

	ImagePoll poller.Config
	VideoPoll poller.Config

	// WebBaseURL prefixes navigation targets, e.g. https://factline.app/posts/<id>.
	WebBaseURL string
	// Credential authenticates live status streams.
	Credential string
}

// DefaultConfig mirrors the service's published limits.
func DefaultConfig() Config {
	return Config{
		MaxImageBytes:   20 * megabyte,
		MaxVideoBytes:   100 * megabyte,
		ImageExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".webp"},
		VideoExtensions: []string{".mp4", ".mov", ".webm", ".m4v"},
		CompressImages:  true,
		Compression: media.Options{
			MaxDimension: media.DefaultMaxDimension,
			Quality:      media.DefaultQuality,
		},
		ImagePoll:  poller.DefaultConfig(api.MediaImage),
		VideoPoll:  poller.DefaultConfig(api.MediaVideo),
		WebBaseURL: "http://localhost:3000",
	}
}

func (c Config) limits(m api.MediaKind) ([]string, int64) {
	if m == api.MediaVideo {
		return c.VideoExtensions, c.MaxVideoBytes
	}
	return c.ImageExtensions, c.MaxImageBytes
}

func (c Config) pollConfig(m api.MediaKind) poller.Config {
	if m == api.MediaVideo {
		return c.VideoPoll
	}
	return c.ImagePoll
}
