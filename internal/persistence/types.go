package persistence

import "time"

// TranslationUnit is one durably cached translation. At most one row
// exists per (work item, source language, target language, original text);
// later writes overwrite earlier ones.
type TranslationUnit struct {
	WorkItemID     string
	SourceLang     string
	TargetLang     string
	OriginalText   string
	TranslatedText string
	UpdatedAt      time.Time
}

// WorkItemMetadata tracks when a work item (one movie or episode) was
// last opened, at day granularity. The sweeper ages work items on it.
type WorkItemMetadata struct {
	WorkItemID       string
	LastAccessedDays int
}
