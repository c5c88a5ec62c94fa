package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/littlehero/api/internal/model"
)

// Root is the prefix under which every book asset is stored.
const Root = "books/"

// CategoryTag is the object tag carrying an asset's category. Lifecycle rules
// filter on it because S3 prefixes cannot express books/*/photos/.
const CategoryTag = "asset-category"

// category directory names under books/{id}/
const (
	dirPhotos  = "photos"
	dirWorking = "working"
	dirFinal   = "final"
)

// BookPrefix returns the prefix holding every asset of a book.
func BookPrefix(bookID string) string {
	return Root + bookID + "/"
}

// UploadKey returns a fresh key for a user photo.
func UploadKey(bookID, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s%s/%s.%s", BookPrefix(bookID), dirPhotos, uuid.New().String(), ext)
}

// IllustrationKey is deterministic per page so a rewrite overwrites.
func IllustrationKey(bookID string, page int) string {
	return fmt.Sprintf("%s%s/page-%03d.png", BookPrefix(bookID), dirWorking, page)
}

func PDFKey(bookID string) string {
	return BookPrefix(bookID) + dirFinal + "/book.pdf"
}

func ThumbnailKey(bookID string) string {
	return BookPrefix(bookID) + dirFinal + "/thumbnail.jpg"
}

// Classify derives an asset category from its key.
func Classify(key string) model.AssetCategory {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) < 4 || parts[0]+"/" != Root || parts[1] == "" || parts[3] == "" {
		return model.CategoryUnknown
	}
	switch parts[2] {
	case dirPhotos:
		return model.CategoryUpload
	case dirWorking:
		return model.CategoryProcessing
	case dirFinal:
		return model.CategoryFinal
	default:
		return model.CategoryUnknown
	}
}

// PatternFor returns the wildcard pattern documenting a category's keys.
func PatternFor(category model.AssetCategory) string {
	switch category {
	case model.CategoryUpload:
		return Root + "*/" + dirPhotos + "/"
	case model.CategoryProcessing:
		return Root + "*/" + dirWorking + "/"
	case model.CategoryFinal:
		return Root + "*/" + dirFinal + "/"
	default:
		return ""
	}
}
