package bookjob

import "github.com/littlehero/api/internal/model"

var transitions = map[model.BookStatus][]model.BookStatus{
	model.BookStatusPending:                 {model.BookStatusGeneratingIllustrations, model.BookStatusFailed},
	model.BookStatusGeneratingIllustrations: {model.BookStatusAssemblingPDF, model.BookStatusFailed},
	model.BookStatusAssemblingPDF:           {model.BookStatusCompleted, model.BookStatusFailed},
	model.BookStatusCompleted:               nil,
	model.BookStatusFailed:                  nil,
}

// CanTransition reports whether to is a permitted successor of from.
func CanTransition(from, to model.BookStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors lists the permitted successors of a status.
func Successors(from model.BookStatus) []model.BookStatus {
	return append([]model.BookStatus(nil), transitions[from]...)
}
