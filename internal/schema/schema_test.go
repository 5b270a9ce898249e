package schema

import (
	"errors"
	"strings"
	"testing"
)

// makeRow builds a row with the given column count and sparse values.
func makeRow(columns int, values map[int]string) []string {
	row := make([]string, columns)
	for i := range row {
		row[i] = `\N`
	}
	for idx, v := range values {
		row[idx] = v
	}
	return row
}

func TestAdapt(t *testing.T) {
	registry := NewRegistry()

	t.Run("MapsConfiguredColumns", func(t *testing.T) {
		row := makeRow(305, map[int]string{
			47:  "HUAWEI TECHNOLOGIES USA INC",
			53:  "PLANO",
			54:  "TX",
			56:  "USA",
			83:  "telecom equipment",
			121: "USA",
		})

		record, err := registry.Adapt(FormatUSASpending305, row, 42)
		if err != nil {
			t.Fatalf("Adapt failed: %v", err)
		}
		if record.RecipientName != "HUAWEI TECHNOLOGIES USA INC" {
			t.Errorf("RecipientName = %q", record.RecipientName)
		}
		if record.RecipientState != "TX" {
			t.Errorf("RecipientState = %q", record.RecipientState)
		}
		if record.AwardDescription != "telecom equipment" {
			t.Errorf("AwardDescription = %q", record.AwardDescription)
		}
		if record.SourceFormatID != FormatUSASpending305 || record.SourceOffset != 42 {
			t.Errorf("provenance = %s @ %d", record.SourceFormatID, record.SourceOffset)
		}
	})

	t.Run("NullSentinelBecomesEmpty", func(t *testing.T) {
		row := makeRow(101, nil)
		record, err := registry.Adapt(FormatUSASpending101, row, 0)
		if err != nil {
			t.Fatalf("Adapt failed: %v", err)
		}
		if record.RecipientName != "" || record.AwardDescription != "" {
			t.Errorf("null sentinel leaked: %q %q", record.RecipientName, record.AwardDescription)
		}
	})

	t.Run("ColumnCountMismatch", func(t *testing.T) {
		_, err := registry.Adapt(FormatUSASpending206, make([]string, 205), 7)
		var schemaErr *SchemaError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("want *SchemaError, got %v", err)
		}
		if schemaErr.Offset != 7 {
			t.Errorf("Offset = %d", schemaErr.Offset)
		}
	})

	t.Run("UnknownFormatRejected", func(t *testing.T) {
		_, err := registry.Adapt("usaspending_999", make([]string, 999), 0)
		var schemaErr *SchemaError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("want *SchemaError, got %v", err)
		}
	})

	t.Run("OverrideReplacesLayout", func(t *testing.T) {
		registry.Register("custom_3", 3, ColumnMap{FieldRecipientName: 1})
		record, err := registry.Adapt("custom_3", []string{"a", "ACME", "c"}, 0)
		if err != nil {
			t.Fatalf("Adapt failed: %v", err)
		}
		if record.RecipientName != "ACME" {
			t.Errorf("RecipientName = %q", record.RecipientName)
		}
	})
}

const tedFixture = `<?xml version="1.0" encoding="UTF-8"?>
<TED_EXPORT>
  <CONTRACTING_BODY>
    <ADDRESS_CONTRACTING_BODY>
      <OFFICIALNAME>Stadt Ingolstadt</OFFICIALNAME>
      <TOWN>Ingolstadt</TOWN>
      <COUNTRY VALUE="DE"/>
    </ADDRESS_CONTRACTING_BODY>
  </CONTRACTING_BODY>
  <OBJECT_CONTRACT>
    <TITLE><P>Supply of network video surveillance equipment</P></TITLE>
    <SHORT_DESCR><P>Cameras and recorders for municipal facilities</P></SHORT_DESCR>
    <CPV_MAIN><CPV_CODE CODE="35125300"/></CPV_MAIN>
  </OBJECT_CONTRACT>
  <AWARD_CONTRACT>
    <AWARDED_CONTRACT>
      <CONTRACTORS>
        <CONTRACTOR>
          <ADDRESS_CONTRACTOR>
            <OFFICIALNAME>Hikvision Europe B.V.</OFFICIALNAME>
            <TOWN>Hoofddorp</TOWN>
            <COUNTRY VALUE="NL"/>
          </ADDRESS_CONTRACTOR>
        </CONTRACTOR>
      </CONTRACTORS>
    </AWARDED_CONTRACT>
  </AWARD_CONTRACT>
</TED_EXPORT>`

func TestAdaptTED(t *testing.T) {
	t.Run("AwardNotice", func(t *testing.T) {
		record, err := AdaptTED([]byte(tedFixture), 3)
		if err != nil {
			t.Fatalf("AdaptTED failed: %v", err)
		}
		if record.RecipientName != "Hikvision Europe B.V." {
			t.Errorf("RecipientName = %q", record.RecipientName)
		}
		if record.RecipientCountry != "NL" {
			t.Errorf("RecipientCountry = %q", record.RecipientCountry)
		}
		if record.VendorName != "Stadt Ingolstadt" {
			t.Errorf("VendorName = %q", record.VendorName)
		}
		if !strings.Contains(record.AwardDescription, "video surveillance") {
			t.Errorf("AwardDescription = %q", record.AwardDescription)
		}
		if !strings.Contains(record.AwardDescription, "CPV 35125300") {
			t.Errorf("AwardDescription missing CPV: %q", record.AwardDescription)
		}
		if record.SourceFormatID != FormatTEDXML || record.SourceOffset != 3 {
			t.Errorf("provenance = %s @ %d", record.SourceFormatID, record.SourceOffset)
		}
	})

	t.Run("MalformedXML", func(t *testing.T) {
		_, err := AdaptTED([]byte("<TED_EXPORT><unclosed"), 0)
		var schemaErr *SchemaError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("want *SchemaError, got %v", err)
		}
	})

	t.Run("EmptyNotice", func(t *testing.T) {
		_, err := AdaptTED([]byte(`<?xml version="1.0"?><TED_EXPORT></TED_EXPORT>`), 0)
		if err == nil {
			t.Fatal("want error for notice with no usable fields")
		}
	})
}
