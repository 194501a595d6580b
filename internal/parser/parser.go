// Package parser turns raw pipe-delimited client lines into validated records.
//
// A line has the positional layout
//
//	firstName|lastName|nationalId|status|entryDate(MM/DD/YYYY)|isPoliticallyExposed|isObligatedSubject
//
// where the seventh field is optional. Rules are evaluated in order (field count, name, national id,
// status, entry date) and the first violation is returned as a *ValidationError. The boolean fields
// never fail.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/file-ingester/internal/model"
)

const (
	Delimiter = "|"

	MinFields      = 6
	MaxFullNameLen = 100
	MinEntryYear   = 1900
	MaxEntryYear   = 2100
	dateComponents = 3
	obligatedField = 6
)

// Rule identifies which validation rule rejected a line.
type Rule int

const (
	RuleFieldCount Rule = iota
	RuleFullName
	RuleNationalID
	RuleStatus
	RuleEntryDate
	RuleLineLength
)

func (r Rule) String() string {
	switch r {
	case RuleFieldCount:
		return "field_count"
	case RuleFullName:
		return "full_name"
	case RuleNationalID:
		return "national_id"
	case RuleStatus:
		return "status"
	case RuleEntryDate:
		return "entry_date"
	case RuleLineLength:
		return "line_length"
	default:
		return "unknown"
	}
}

// ValidationError is an expected, per-line rejection of malformed input.
type ValidationError struct {
	Rule    Rule
	Value   string // The offending raw value
	Message string
}

func (err *ValidationError) Error() string {
	if err.Value == "" {
		return err.Message
	}
	return fmt.Sprintf("%s: %q", err.Message, err.Value)
}

var statuses = map[string]model.Status{
	"Active":   model.StatusActive,
	"Inactive": model.StatusInactive,
	"Activo":   model.StatusActive,
	"Inactivo": model.StatusInactive,
}

// Parse validates one line and builds a ClientRecord from it.
// Any returned error is a *ValidationError.
func Parse(line string) (model.ClientRecord, error) {
	parts := strings.Split(line, Delimiter)
	if len(parts) < MinFields {
		return model.ClientRecord{}, &ValidationError{
			Rule:    RuleFieldCount,
			Message: fmt.Sprintf("line has %d fields, at least %d are required", len(parts), MinFields),
		}
	}

	fullName := strings.TrimSpace(parts[0] + " " + parts[1])
	if fullName == "" {
		return model.ClientRecord{}, &ValidationError{Rule: RuleFullName, Message: "first and last name are both empty"}
	}
	if utf8.RuneCountInString(fullName) > MaxFullNameLen {
		return model.ClientRecord{}, &ValidationError{
			Rule:    RuleFullName,
			Value:   fullName,
			Message: fmt.Sprintf("full name longer than %d characters", MaxFullNameLen),
		}
	}

	nationalID, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil || nationalID <= 0 {
		return model.ClientRecord{}, &ValidationError{Rule: RuleNationalID, Value: parts[2], Message: "invalid national id"}
	}

	status, ok := statuses[parts[3]]
	if !ok {
		return model.ClientRecord{}, &ValidationError{Rule: RuleStatus, Value: parts[3], Message: "invalid status"}
	}

	entryDate, err := parseEntryDate(parts[4])
	if err != nil {
		return model.ClientRecord{}, err
	}

	record := model.ClientRecord{
		FullName:             fullName,
		NationalID:           nationalID,
		Status:               status,
		EntryDate:            entryDate,
		IsPoliticallyExposed: isTrue(parts[5]),
	}
	if len(parts) > obligatedField && strings.TrimSpace(parts[obligatedField]) != "" {
		obligated := isTrue(parts[obligatedField])
		record.IsObligatedSubject = &obligated
	}
	return record, nil
}

// parseEntryDate reads a US ordered MM/DD/YYYY date. Day and month overflow is rejected rather than
// normalised into the following month.
func parseEntryDate(raw string) (time.Time, error) {
	components := strings.Split(raw, "/")
	if len(components) != dateComponents {
		return time.Time{}, &ValidationError{Rule: RuleEntryDate, Value: raw, Message: "invalid entry date format"}
	}
	var values [dateComponents]int
	for i, c := range components {
		v, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil {
			return time.Time{}, &ValidationError{Rule: RuleEntryDate, Value: raw, Message: "invalid entry date format"}
		}
		values[i] = v
	}
	month, day, year := values[0], values[1], values[2]

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if year < MinEntryYear || year > MaxEntryYear ||
		date.Year() != year || date.Month() != time.Month(month) || date.Day() != day {
		return time.Time{}, &ValidationError{Rule: RuleEntryDate, Value: raw, Message: "invalid or out of range entry date"}
	}
	return date, nil
}

func isTrue(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "true")
}
