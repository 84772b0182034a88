package domain

import "time"

// FieldName names a field of the bond information card.
type FieldName string

// Card fields, in display order.
const (
	FieldIssuer                FieldName = "issuer"
	FieldISIN                  FieldName = "isin"
	FieldCouponRate            FieldName = "coupon_rate"
	FieldMaturity              FieldName = "maturity"
	FieldIssueSize             FieldName = "issue_size"
	FieldCurrency              FieldName = "currency"
	FieldUseOfProceeds         FieldName = "use_of_proceeds"
	FieldCertificationStandard FieldName = "certification_standard"
	FieldEUTaxonomyStatus      FieldName = "eu_taxonomy_status"
	FieldSDGAlignment          FieldName = "sdg_alignment"
	FieldExternalReviewer      FieldName = "external_reviewer"
	FieldLocation              FieldName = "location"
)

// CardFields is the fixed card schema in display order.
var CardFields = []FieldName{
	FieldIssuer,
	FieldISIN,
	FieldCouponRate,
	FieldMaturity,
	FieldIssueSize,
	FieldCurrency,
	FieldUseOfProceeds,
	FieldCertificationStandard,
	FieldEUTaxonomyStatus,
	FieldSDGAlignment,
	FieldExternalReviewer,
	FieldLocation,
}

var fieldInfo = map[FieldName]struct {
	label string
	hint  string
}{
	FieldIssuer:                {"Issuer", "issuer of the bond, issuing entity name"},
	FieldISIN:                  {"ISIN", "ISIN security identifier code"},
	FieldCouponRate:            {"Coupon rate", "coupon rate interest per annum"},
	FieldMaturity:              {"Maturity", "maturity date redemption tenor years"},
	FieldIssueSize:             {"Issue size", "issue size aggregate principal amount"},
	FieldCurrency:              {"Currency", "currency denomination of the notes"},
	FieldUseOfProceeds:         {"Use of proceeds", "use of proceeds eligible green projects"},
	FieldCertificationStandard: {"Certification standard", "certification standard green bond principles climate bonds"},
	FieldEUTaxonomyStatus:      {"EU taxonomy status", "EU taxonomy alignment eligible activities"},
	FieldSDGAlignment:          {"SDG alignment", "sustainable development goals SDG alignment"},
	FieldExternalReviewer:      {"External reviewer", "second party opinion external review verifier"},
	FieldLocation:              {"Location", "project location country region"},
}

// IsValid returns true if the field is part of the card schema.
func (f FieldName) IsValid() bool {
	_, ok := fieldInfo[f]
	return ok
}

// Label returns a human-readable field label.
func (f FieldName) Label() string {
	if info, ok := fieldInfo[f]; ok {
		return info.label
	}
	return string(f)
}

// RetrievalHint returns a query used to find evidence for the field.
func (f FieldName) RetrievalHint() string {
	return fieldInfo[f].hint
}

// FieldStatus is the published state of a card field.
type FieldStatus string

// Field statuses.
const (
	FieldPresent  FieldStatus = "present"
	FieldNotFound FieldStatus = "not_found"
)

// CardField holds one value of the card and the segments that justify it.
type CardField struct {
	// Name is the schema field.
	Name FieldName

	// Status is present or not_found.
	Status FieldStatus

	// Value is the canonical value; empty when not found.
	Value string

	// Note explains a downgrade to not_found.
	Note string

	// Segments are the supporting segment keys in citation order.
	// Non-empty exactly when Status is present.
	Segments []SegmentKey
}

// KPI is a quantitative impact indicator reported on the card.
type KPI struct {
	Name     string
	Value    string
	Unit     string
	Segments []SegmentKey
}

// GreenwashingReport summarises how many green claims are backed by
// implementation evidence.
type GreenwashingReport struct {
	// Score is implemented claims over total claims, in [0,1].
	Score float64

	// Claims is the number of green claims examined.
	Claims int

	// Implemented is the number of claims with implementation evidence.
	Implemented int

	// Alerts describe claims with no implementation evidence.
	Alerts []string
}

// BondInformationCard is the fixed-schema synthesis output.
type BondInformationCard struct {
	// ID identifies a published card.
	ID string

	// Query is the analyst query the card answers.
	Query string

	// Scope restricts the evidence the card was built from.
	Scope RetrievalFilter

	// Fields follow CardFields order.
	Fields []CardField

	// KPIs are optional impact indicators.
	KPIs []KPI

	// Greenwashing is set when verification ran.
	Greenwashing *GreenwashingReport

	// Audit maps field names to page citations.
	Audit AuditTrail

	// Model is the generation model that produced the card.
	Model string

	// Attempts is the number of generation attempts used.
	Attempts int

	// CreatedAt is when the card was synthesized.
	CreatedAt time.Time
}

// NewEmptyCard returns a card whose fields are all not_found.
func NewEmptyCard(query string, scope RetrievalFilter, note string) *BondInformationCard {
	card := &BondInformationCard{
		Query:  query,
		Scope:  scope,
		Fields: make([]CardField, len(CardFields)),
		Audit:  AuditTrail{},
	}
	for i, name := range CardFields {
		card.Fields[i] = CardField{Name: name, Status: FieldNotFound, Note: note}
	}
	return card
}

// Field returns the named field, or nil.
func (c *BondInformationCard) Field(name FieldName) *CardField {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// AllNotFound reports whether no field is present.
func (c *BondInformationCard) AllNotFound() bool {
	for i := range c.Fields {
		if c.Fields[i].Status == FieldPresent {
			return false
		}
	}
	return true
}

// CitedKeys returns every distinct segment key cited by fields and KPIs.
func (c *BondInformationCard) CitedKeys() []SegmentKey {
	seen := make(map[SegmentKey]bool)
	var keys []SegmentKey
	add := func(ks []SegmentKey) {
		for _, k := range ks {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	for i := range c.Fields {
		add(c.Fields[i].Segments)
	}
	for i := range c.KPIs {
		add(c.KPIs[i].Segments)
	}
	return keys
}
