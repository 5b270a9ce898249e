package schema

import (
	"fmt"
	"strings"
)

// nullSentinel is the SQL-null marker used by the tab-delimited exports.
const nullSentinel = `\N`

// ColumnMap maps CandidateRecord field names to zero-based column indices.
type ColumnMap map[string]int

type formatSpec struct {
	columns int
	fields  ColumnMap
}

// Registry holds the column layouts for all supported source formats.
// Unknown formats are rejected, never guessed.
type Registry struct {
	formats map[string]formatSpec
}

// NewRegistry returns a registry preloaded with the four USAspending export
// layouts. The indices mirror the layouts observed in the export corpus; a
// deployment can override any of them from configuration.
func NewRegistry() *Registry {
	r := &Registry{formats: make(map[string]formatSpec)}

	r.Register(FormatUSASpending101, 101, ColumnMap{
		FieldRecipientName:      12,
		FieldVendorName:         14,
		FieldAwardDescription:   27,
		FieldRecipientCity:      18,
		FieldRecipientState:     19,
		FieldRecipientCountry:   21,
		FieldPerformanceCountry: 44,
	})
	r.Register(FormatUSASpending206, 206, ColumnMap{
		FieldRecipientName:      36,
		FieldVendorName:         38,
		FieldAwardDescription:   61,
		FieldRecipientCity:      42,
		FieldRecipientState:     43,
		FieldRecipientCountry:   45,
		FieldPerformanceCountry: 88,
	})
	r.Register(FormatUSASpending305, 305, ColumnMap{
		FieldRecipientName:      47,
		FieldVendorName:         49,
		FieldAwardDescription:   83,
		FieldRecipientCity:      53,
		FieldRecipientState:     54,
		FieldRecipientCountry:   56,
		FieldPerformanceCountry: 121,
	})
	r.Register(FormatUSASpending374, 374, ColumnMap{
		FieldRecipientName:      51,
		FieldVendorName:         53,
		FieldAwardDescription:   90,
		FieldRecipientCity:      57,
		FieldRecipientState:     58,
		FieldRecipientCountry:   60,
		FieldPerformanceCountry: 133,
	})

	return r
}

// Register adds or replaces the layout for a format.
func (r *Registry) Register(formatID string, columns int, fields ColumnMap) {
	r.formats[formatID] = formatSpec{columns: columns, fields: fields}
}

// Known reports whether a format id has a registered layout. TED XML is
// handled by AdaptTED and is always known.
func (r *Registry) Known(formatID string) bool {
	if formatID == FormatTEDXML {
		return true
	}
	_, ok := r.formats[formatID]
	return ok
}

// Adapt maps one positional row into a CandidateRecord. It is a pure
// function over its inputs: no side effects beyond the returned value.
func (r *Registry) Adapt(formatID string, row []string, offset int64) (*CandidateRecord, error) {
	spec, ok := r.formats[formatID]
	if !ok {
		return nil, &SchemaError{FormatID: formatID, Offset: offset, Reason: "unknown source format"}
	}

	if len(row) != spec.columns {
		return nil, &SchemaError{
			FormatID: formatID,
			Offset:   offset,
			Reason:   fmt.Sprintf("unexpected column count %d, want %d", len(row), spec.columns),
		}
	}

	record := &CandidateRecord{
		SourceFormatID: formatID,
		SourceOffset:   offset,
	}
	record.RecipientName = normalizeField(row, spec.fields, FieldRecipientName)
	record.VendorName = normalizeField(row, spec.fields, FieldVendorName)
	record.AwardDescription = normalizeField(row, spec.fields, FieldAwardDescription)
	record.RecipientCity = normalizeField(row, spec.fields, FieldRecipientCity)
	record.RecipientState = normalizeField(row, spec.fields, FieldRecipientState)
	record.RecipientCountry = normalizeField(row, spec.fields, FieldRecipientCountry)
	record.PerformanceCountry = normalizeField(row, spec.fields, FieldPerformanceCountry)

	return record, nil
}

// normalizeField extracts a single column, mapping the \N null sentinel to
// the empty string rather than the literal text.
func normalizeField(row []string, fields ColumnMap, name string) string {
	idx, ok := fields[name]
	if !ok || idx < 0 || idx >= len(row) {
		return ""
	}
	value := strings.TrimSpace(row[idx])
	if value == nullSentinel {
		return ""
	}
	return value
}
