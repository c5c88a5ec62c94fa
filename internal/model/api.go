package model

import "time"

// CreateBookRequest holds the non-file fields of POST /api/books
type CreateBookRequest struct {
	ChildName     string        `json:"childName" validate:"required,min=1,max=100"`
	AdventureType AdventureType `json:"adventureType" validate:"required,oneof=fantasy superhero space underwater fairy_tale jungle"`
}

// CreateBookResponse is returned when a book job is accepted
type CreateBookResponse struct {
	ID          string     `json:"id"`
	Status      BookStatus `json:"status"`
	ResumedFrom string     `json:"resumedFrom,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// BookStatusResponse is the polling view of a book job
type BookStatusResponse struct {
	ID            string        `json:"id"`
	ChildName     string        `json:"childName"`
	AdventureType AdventureType `json:"adventureType"`
	Status        BookStatus    `json:"status"`
	StatusDetail  string        `json:"statusDetail,omitempty"`
	PagesDone     int           `json:"pagesDone"`
	PageCount     int           `json:"pageCount"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	ThumbnailURL  string        `json:"thumbnailUrl,omitempty"`
}

// ListBooksQuery is the pagination query for GET /api/books
type ListBooksQuery struct {
	Page  int `query:"page" validate:"min=1"`
	Limit int `query:"limit" validate:"min=1,max=100"`
}

// BookListResponse is a page of the caller's books
type BookListResponse struct {
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
	Books []BookStatusResponse `json:"books"`
}

// CancelBookResponse confirms a cancellation
type CancelBookResponse struct {
	ID     string     `json:"id"`
	Status BookStatus `json:"status"`
}

// AdventureTypeResponse describes a catalog entry
type AdventureTypeResponse struct {
	ID          AdventureType `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	PageCount   int           `json:"pageCount"`
	ImageURL    string        `json:"imageUrl"`
}
