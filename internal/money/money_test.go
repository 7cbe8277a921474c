package money_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/money"
)

func TestParse_RejectsMoreThanEightDecimals(t *testing.T) {
	_, err := money.Parse("1.123456789")
	require.Error(t, err)
}

func TestParse_AcceptsExactlyEightDecimals(t *testing.T) {
	a, err := money.Parse("1.12345678")
	require.NoError(t, err)
	require.Equal(t, "1.12345678", a.String())
}

func TestNew_RejectsAboveMaxAmount(t *testing.T) {
	_, err := money.Parse("1000000000001")
	require.Error(t, err)
}

func TestArithmetic(t *testing.T) {
	a := money.MustNew("10.5")
	b := money.MustNew("3.25")
	require.True(t, a.Add(b).Equal(money.MustNew("13.75")))
	require.True(t, a.Sub(b).Equal(money.MustNew("7.25")))
	require.True(t, a.Neg().Equal(money.MustNew("-10.5")))
}

func TestJSONRoundTrip(t *testing.T) {
	a := money.MustNew("42.5")
	b, err := json.Marshal(a)
	require.NoError(t, err)
	require.Equal(t, `"42.50000000"`, string(b))

	var out money.Amount
	require.NoError(t, json.Unmarshal(b, &out))
	require.True(t, out.Equal(a))
}

func TestScan_SupportsStringBytesAndNil(t *testing.T) {
	var a money.Amount
	require.NoError(t, a.Scan("12.5"))
	require.True(t, a.Equal(money.MustNew("12.5")))

	var b money.Amount
	require.NoError(t, b.Scan([]byte("12.5")))
	require.True(t, b.Equal(money.MustNew("12.5")))

	var c money.Amount
	require.NoError(t, c.Scan(nil))
	require.True(t, c.IsZero())
}

func TestValue_RoundTripsThroughStringFixed(t *testing.T) {
	a := money.MustNew("7")
	v, err := a.Value()
	require.NoError(t, err)
	require.Equal(t, "7.00000000", v)
}
