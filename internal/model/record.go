package model

import "time"

// Status is the account status of a client.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// ClientRecord is one validated client line. It is only ever built by the parser.
type ClientRecord struct {
	FullName             string
	NationalID           int64
	Status               Status
	EntryDate            time.Time
	IsPoliticallyExposed bool
	// IsObligatedSubject is nil when the source left the field blank.
	IsObligatedSubject *bool
}

// RawLine is a non-blank physical line and its 1-based position in the file.
type RawLine struct {
	Text       string
	LineNumber int
	// TooLong marks a line whose content exceeded the reader's limit. Text is empty and Length
	// holds the discarded byte count.
	TooLong bool
	Length  int
}
