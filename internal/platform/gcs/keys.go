package gcs

import (
	"fmt"
	"strings"
)

// Object key conventions. Thumbnail keys are deterministic so reprocessing a
// video rewrites the same objects instead of accumulating new ones.

func VideoKey(tenantID, videoID, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(ext)), ".")
	if ext == "" {
		ext = "mp4"
	}
	return fmt.Sprintf("%s/%s.%s", tenantID, videoID, ext)
}

func VideoPrefix(tenantID, videoID string) string {
	return fmt.Sprintf("%s/%s", tenantID, videoID)
}

func SceneThumbnailKey(tenantID, videoID string, sceneIndex int) string {
	return fmt.Sprintf("%s/%s/thumbnails/scene_%d.jpg", tenantID, videoID, sceneIndex)
}

func PosterKey(tenantID, videoID string) string {
	return fmt.Sprintf("%s/%s/thumbnail.jpg", tenantID, videoID)
}

func PersonPhotoKey(tenantID, personID, photoID string) string {
	return fmt.Sprintf("%s/persons/%s/%s.jpg", tenantID, personID, photoID)
}
