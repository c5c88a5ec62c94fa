package model

import (
	"fmt"
	"maps"
	"time"
)

// Asset roles used as keys of BookJob.AssetRefs
const (
	RoleUpload    = "upload"
	RolePDF       = "pdf"
	RoleThumbnail = "thumbnail"
)

// IllustrationRole returns the asset role for a 1-based page number.
func IllustrationRole(page int) string {
	return fmt.Sprintf("illustration[%d]", page)
}

// ParseIllustrationRole extracts the page number from an illustration role.
func ParseIllustrationRole(role string) (int, bool) {
	var page int
	if _, err := fmt.Sscanf(role, "illustration[%d]", &page); err != nil || page < 1 {
		return 0, false
	}
	if IllustrationRole(page) != role {
		return 0, false
	}
	return page, true
}

// BookJob tracks one book-generation request from submission to a terminal state.
type BookJob struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"ownerId"`
	ChildName     string            `json:"childName"`
	AdventureType AdventureType     `json:"adventureType"`
	PageCount     int               `json:"pageCount"`
	Status        BookStatus        `json:"status"`
	StatusDetail  string            `json:"statusDetail,omitempty"`
	AssetRefs     map[string]string `json:"assetRefs"`
	ResumedFrom   string            `json:"resumedFrom,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	CompletedAt   *time.Time        `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers can mutate without sharing the refs map.
func (j *BookJob) Clone() *BookJob {
	c := *j
	c.AssetRefs = maps.Clone(j.AssetRefs)
	if c.AssetRefs == nil {
		c.AssetRefs = map[string]string{}
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Ref returns the storage key for a role, if populated.
func (j *BookJob) Ref(role string) (string, bool) {
	key, ok := j.AssetRefs[role]
	return key, ok && key != ""
}

// MissingPages lists the pages without an illustration ref, in order.
func (j *BookJob) MissingPages() []int {
	var missing []int
	for page := 1; page <= j.PageCount; page++ {
		if _, ok := j.Ref(IllustrationRole(page)); !ok {
			missing = append(missing, page)
		}
	}
	return missing
}

// IllustrationCount counts populated illustration refs.
func (j *BookJob) IllustrationCount() int {
	return j.PageCount - len(j.MissingPages())
}

// Job types
const (
	TaskTypeBookGenerate = "book:generate"
	TaskTypeStorageAudit = "storage:audit"
	TaskTypeBookSweep    = "book:sweep"
)

// BookTaskPayload is the asynq payload for a book generation task.
type BookTaskPayload struct {
	JobID string `json:"jobId"`
}
