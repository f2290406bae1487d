package storage

import (
	"fmt"
	"path"
)

const (
	prefixTemp      = "temp"
	prefixOriginal  = "original"
	prefixThumbnail = "thumbnail"
)

// TempKey is the staging location of an upload task's bytes.
func TempKey(taskID string) string {
	return path.Join(prefixTemp, taskID)
}

// SearchQueryKey stages an image uploaded only to be embedded for a similarity search.
func SearchQueryKey(id string) string {
	return path.Join(prefixTemp, "search", id)
}

// OriginalKey addresses archived originals by content hash, not by task.
func OriginalKey(hash string) string {
	return path.Join(prefixOriginal, hash)
}

// ThumbnailPrefix is the parent of every per-size thumbnail directory.
const ThumbnailPrefix = prefixThumbnail + "/"

func ThumbnailKey(size int, hash string) string {
	return path.Join(prefixThumbnail, fmt.Sprintf("%d", size), hash)
}
