package validation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
)

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "national_id", snakeCase("NationalID"))
	assert.Equal(t, "customer_id", snakeCase("CustomerID"))
	assert.Equal(t, "from_account_id", snakeCase("FromAccountID"))
	assert.Equal(t, "balance", snakeCase("Balance"))
	assert.Equal(t, "is_verified", snakeCase("IsVerified"))
}

func TestFieldValueSnakeCaseFallback(t *testing.T) {
	row := entities.Row{"national_id": "123456789012"}
	assert.Equal(t, "123456789012", stringField(row, "NationalID"))

	// Canonical spelling wins when both are present
	row = entities.Row{"NationalID": "A12345678", "national_id": "999999999999"}
	assert.Equal(t, "A12345678", stringField(row, "NationalID"))
}

func TestStringFieldConversions(t *testing.T) {
	row := entities.Row{
		"Padded": "  cust-1  ",
		"Number": json.Number("42"),
		"Float":  float64(7000),
		"Nil":    nil,
	}
	assert.Equal(t, "cust-1", stringField(row, "Padded"))
	assert.Equal(t, "42", stringField(row, "Number"))
	assert.Equal(t, "7000", stringField(row, "Float"))
	assert.Equal(t, "", stringField(row, "Nil"))
	assert.Equal(t, "", stringField(row, "Absent"))
}

func TestDecimalField(t *testing.T) {
	row := entities.Row{
		"FromString": "10000000.50",
		"FromNumber": json.Number("20000000"),
		"Empty":      "",
		"Garbage":    "not-a-number",
	}

	d, present, err := decimalField(row, "FromString")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "10000000.5", d.String())

	d, present, err = decimalField(row, "FromNumber")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "20000000", d.String())

	_, present, err = decimalField(row, "Empty")
	require.NoError(t, err)
	assert.False(t, present)

	_, present, err = decimalField(row, "Absent")
	require.NoError(t, err)
	assert.False(t, present)

	_, present, err = decimalField(row, "Garbage")
	assert.Error(t, err)
	assert.True(t, present)
}

func TestTimeFieldLayouts(t *testing.T) {
	for _, raw := range []string{
		"2026-03-01T10:30:00Z",
		"2026-03-01T10:30:00",
		"2026-03-01 10:30:00",
	} {
		ts, present, err := timeField(entities.Row{"Timestamp": raw}, "Timestamp")
		require.NoError(t, err, raw)
		assert.True(t, present)
		assert.Equal(t, time.March, ts.Month())
	}

	_, present, err := timeField(entities.Row{"Timestamp": "yesterday"}, "Timestamp")
	assert.Error(t, err)
	assert.True(t, present)

	_, present, err = timeField(entities.Row{}, "Timestamp")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestValidNationalID(t *testing.T) {
	assert.True(t, validNationalID("123456789012"))
	assert.True(t, validNationalID("A12345678"))
	assert.True(t, validNationalID("z12345678"))

	assert.False(t, validNationalID("12345678901"))    // 11 digits
	assert.False(t, validNationalID("1234567890123"))  // 13 digits
	assert.False(t, validNationalID("AB1234567"))      // two letters
	assert.False(t, validNationalID("A1234567"))       // letter + 7 digits
	assert.False(t, validNationalID(""))
}

func TestRowKey(t *testing.T) {
	assert.Equal(t, "cust-9", rowKey(entities.Row{"CustomerID": "cust-9"}, "CustomerID", 3))
	assert.Equal(t, "row-3", rowKey(entities.Row{}, "CustomerID", 3))
}
