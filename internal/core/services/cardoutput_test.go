package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

func TestDecodeCardOutput_TagsEachField(t *testing.T) {
	raw := "```json\n" + `{
		"issuer": {"status": "found", "value": "Acme Energy plc", "segments": ["S1"]},
		"isin": {"status": "not_found", "value": "", "segments": []},
		"coupon_rate": {"status": "found", "value": 3.875, "segments": ["S2"]},
		"maturity": {"status": "maybe", "value": "2031", "segments": []},
		"issue_size": "EUR 500m",
		"currency": {"status": "found", "value": "", "segments": ["S2"]},
		"use_of_proceeds": null,
		"kpis": [
			{"name": "Installed capacity", "value": 120, "unit": "MW", "segments": ["S3"]},
			{"name": "Broken", "value": {"x": 1}, "unit": "", "segments": []}
		]
	}` + "\n```"

	out, err := decodeCardOutput(raw)

	require.NoError(t, err)
	assert.Equal(t, fieldOutcome{kind: outcomePresent, value: "Acme Energy plc", labels: []string{"S1"}},
		out.fields[domain.FieldIssuer])
	assert.Equal(t, outcomeNotFound, out.fields[domain.FieldISIN].kind)
	assert.Equal(t, "3.875", out.fields[domain.FieldCouponRate].value)
	assert.Equal(t, outcomeInvalid, out.fields[domain.FieldMaturity].kind)
	assert.Contains(t, out.fields[domain.FieldMaturity].reason, "maybe")
	assert.Equal(t, outcomeInvalid, out.fields[domain.FieldIssueSize].kind)
	assert.Equal(t, outcomeInvalid, out.fields[domain.FieldCurrency].kind)
	assert.Equal(t, outcomeMissing, out.fields[domain.FieldUseOfProceeds].kind)
	assert.Equal(t, outcomeMissing, out.fields[domain.FieldLocation].kind)

	require.Len(t, out.kpis, 1)
	assert.Equal(t, rawKPI{Name: "Installed capacity", Value: "120", Unit: "MW", Labels: []string{"S3"}}, out.kpis[0])
}

func TestDecodeCardOutput_Missing(t *testing.T) {
	out, err := decodeCardOutput(cardJSON(t, nil, domain.FieldMaturity, domain.FieldLocation))

	require.NoError(t, err)
	assert.Equal(t, []string{"maturity", "location"}, out.missing())
}

func TestDecodeCardOutput_Malformed(t *testing.T) {
	for _, raw := range []string{"", "I could not find anything.", "{not json}", `["a"]`} {
		_, err := decodeCardOutput(raw)
		assert.Error(t, err, raw)
	}
}

func TestCardSchema_RequiresEveryField(t *testing.T) {
	schema := cardSchema()

	assert.Equal(t, "bond_information_card", schema.Name)
	required, ok := schema.Definition["required"].([]string)
	require.True(t, ok)
	assert.Len(t, required, len(domain.CardFields)+1)
	assert.Contains(t, required, "kpis")
	for _, f := range domain.CardFields {
		assert.Contains(t, required, string(f))
	}
}
