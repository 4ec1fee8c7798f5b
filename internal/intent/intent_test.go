package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntent_Valid(t *testing.T) {
	assert.True(t, CreateContact.Valid())
	assert.True(t, CreateDeal.Valid())
	assert.True(t, CreateContactAndDeal.Valid())
	assert.True(t, Unknown.Valid())
	assert.False(t, Intent("delete_contact").Valid())
	assert.False(t, Intent("").Valid())
}

func TestIntent_Label(t *testing.T) {
	assert.Equal(t, "create contact and deal", CreateContactAndDeal.Label())
	assert.Equal(t, "unknown", Unknown.Label())
}

func TestFields_GetAndHas(t *testing.T) {
	fields := Fields{
		FieldName:  "  John Doe  ",
		FieldEmail: "   ",
	}

	assert.Equal(t, "John Doe", fields.Get(FieldName))
	assert.True(t, fields.Has(FieldName))
	assert.False(t, fields.Has(FieldEmail))
	assert.False(t, fields.Has(FieldCompany))
}

func TestFields_Amount(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantErr bool
	}{
		{name: "plain number", raw: "5000", want: 5000},
		{name: "decimal", raw: "1200.50", want: 1200.50},
		{name: "dollar sign and separators", raw: "$15,000", want: 15000},
		{name: "spaces inside", raw: "1 200.50", want: 1200.50},
		{name: "not numeric", raw: "fifteen grand", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := Fields{}
			if tt.raw != "" {
				fields[FieldAmount] = tt.raw
			}

			got, err := fields.Amount()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFields_Amount_MissingKey(t *testing.T) {
	_, err := Fields{}.Amount()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
