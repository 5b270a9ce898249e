package schema

import (
	"encoding/xml"
	"strings"
)

// tedNotice models the subset of a TED contract-award notice (classic XML
// and eForms exports flatten to the same elements) the engine cares about:
// who won the contract, where they sit, and what the contract is for.
type tedNotice struct {
	XMLName xml.Name

	ContractingBody struct {
		Address struct {
			OfficialName string `xml:"OFFICIALNAME"`
			Town         string `xml:"TOWN"`
			Country      struct {
				Value string `xml:"VALUE,attr"`
			} `xml:"COUNTRY"`
		} `xml:"ADDRESS_CONTRACTING_BODY"`
	} `xml:"CONTRACTING_BODY"`

	Object struct {
		Title struct {
			Paragraphs []string `xml:"P"`
		} `xml:"TITLE"`
		ShortDescription struct {
			Paragraphs []string `xml:"P"`
		} `xml:"SHORT_DESCR"`
		CPVMain struct {
			Code struct {
				Value string `xml:"CODE,attr"`
			} `xml:"CPV_CODE"`
		} `xml:"CPV_MAIN"`
	} `xml:"OBJECT_CONTRACT"`

	Awards []struct {
		AwardedContract struct {
			Contractors []struct {
				Address struct {
					OfficialName string `xml:"OFFICIALNAME"`
					Town         string `xml:"TOWN"`
					Country      struct {
						Value string `xml:"VALUE,attr"`
					} `xml:"COUNTRY"`
				} `xml:"ADDRESS_CONTRACTOR"`
			} `xml:"CONTRACTORS>CONTRACTOR"`
		} `xml:"AWARDED_CONTRACT"`
	} `xml:"AWARD_CONTRACT"`
}

// AdaptTED maps one TED contract-award XML document into a CandidateRecord.
// The winning contractor becomes the recipient; the contracting authority
// becomes the vendor-side counterparty. Title and short description
// concatenate into the award description so description-level indicators
// (e.g. brand names in procurement text) stay matchable.
func AdaptTED(doc []byte, offset int64) (*CandidateRecord, error) {
	var notice tedNotice
	if err := xml.Unmarshal(doc, &notice); err != nil {
		return nil, &SchemaError{FormatID: FormatTEDXML, Offset: offset, Reason: "malformed XML: " + err.Error()}
	}

	record := &CandidateRecord{
		SourceFormatID: FormatTEDXML,
		SourceOffset:   offset,
	}

	record.VendorName = strings.TrimSpace(notice.ContractingBody.Address.OfficialName)
	record.PerformanceCountry = strings.TrimSpace(notice.ContractingBody.Address.Country.Value)

	// First awarded contractor carries the detection-relevant identity.
	// Multi-lot notices repeat the award block; additional contractors show
	// up in subsequent documents of the same daily package.
	for _, award := range notice.Awards {
		if len(award.AwardedContract.Contractors) == 0 {
			continue
		}
		contractor := award.AwardedContract.Contractors[0]
		record.RecipientName = strings.TrimSpace(contractor.Address.OfficialName)
		record.RecipientCity = strings.TrimSpace(contractor.Address.Town)
		record.RecipientCountry = strings.TrimSpace(contractor.Address.Country.Value)
		break
	}

	var description []string
	if title := strings.TrimSpace(strings.Join(notice.Object.Title.Paragraphs, " ")); title != "" {
		description = append(description, title)
	}
	if short := strings.TrimSpace(strings.Join(notice.Object.ShortDescription.Paragraphs, " ")); short != "" {
		description = append(description, short)
	}
	if cpv := strings.TrimSpace(notice.Object.CPVMain.Code.Value); cpv != "" {
		description = append(description, "CPV "+cpv)
	}
	record.AwardDescription = strings.Join(description, " ")

	if record.RecipientName == "" && record.VendorName == "" && record.AwardDescription == "" {
		return nil, &SchemaError{FormatID: FormatTEDXML, Offset: offset, Reason: "notice carries no usable fields"}
	}

	return record, nil
}
