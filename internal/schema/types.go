package schema

import "fmt"

// Field names used by the matcher and false-positive rules to address
// CandidateRecord text fields.
const (
	FieldRecipientName      = "recipient_name"
	FieldVendorName         = "vendor_name"
	FieldAwardDescription   = "award_description"
	FieldRecipientCity      = "recipient_city"
	FieldRecipientState     = "recipient_state"
	FieldRecipientCountry   = "recipient_country"
	FieldPerformanceCountry = "performance_country"
)

// Supported source format identifiers.
const (
	FormatUSASpending101 = "usaspending_101"
	FormatUSASpending206 = "usaspending_206"
	FormatUSASpending305 = "usaspending_305"
	FormatUSASpending374 = "usaspending_374"
	FormatTEDXML         = "ted_xml"
)

// CandidateRecord is the normalized view of one input row. It is immutable
// once constructed and owned by the shard worker processing it.
type CandidateRecord struct {
	RecipientName      string
	VendorName         string
	AwardDescription   string
	RecipientCity      string
	RecipientState     string
	RecipientCountry   string
	PerformanceCountry string

	SourceFormatID string
	SourceOffset   int64
}

// TextField returns the value of a named text field. Unknown names return
// the empty string; rules referencing them simply never fire.
func (r *CandidateRecord) TextField(name string) string {
	switch name {
	case FieldRecipientName:
		return r.RecipientName
	case FieldVendorName:
		return r.VendorName
	case FieldAwardDescription:
		return r.AwardDescription
	case FieldRecipientCity:
		return r.RecipientCity
	case FieldRecipientState:
		return r.RecipientState
	case FieldRecipientCountry:
		return r.RecipientCountry
	case FieldPerformanceCountry:
		return r.PerformanceCountry
	}
	return ""
}

// SchemaError reports an input row that does not fit its declared format.
// Rows producing a SchemaError are skipped and counted, never classified.
type SchemaError struct {
	FormatID string
	Offset   int64
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error (%s @ %d): %s", e.FormatID, e.Offset, e.Reason)
}
