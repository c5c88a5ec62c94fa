package model

// Book status
type BookStatus string

const (
	BookStatusPending                 BookStatus = "pending"
	BookStatusGeneratingIllustrations BookStatus = "generating_illustrations"
	BookStatusAssemblingPDF           BookStatus = "assembling_pdf"
	BookStatusCompleted               BookStatus = "completed"
	BookStatusFailed                  BookStatus = "failed"
)

// Terminal reports whether no transition can leave the status.
func (s BookStatus) Terminal() bool {
	return s == BookStatusCompleted || s == BookStatusFailed
}

// Adventure types
type AdventureType string

const (
	AdventureFantasy    AdventureType = "fantasy"
	AdventureSuperhero  AdventureType = "superhero"
	AdventureSpace      AdventureType = "space"
	AdventureUnderwater AdventureType = "underwater"
	AdventureFairyTale  AdventureType = "fairy_tale"
	AdventureJungle     AdventureType = "jungle"
)

var ValidAdventureTypes = []AdventureType{
	AdventureFantasy, AdventureSuperhero, AdventureSpace,
	AdventureUnderwater, AdventureFairyTale, AdventureJungle,
}

// Asset categories, derived from storage key prefixes
type AssetCategory string

const (
	CategoryUpload     AssetCategory = "upload"
	CategoryProcessing AssetCategory = "processing"
	CategoryFinal      AssetCategory = "final"
	CategoryUnknown    AssetCategory = "unknown"
)
