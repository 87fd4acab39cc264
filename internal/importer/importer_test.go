package importer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settled-dev/settled/internal/ledger"
)

var testOpts = Options{Currency: "EUR", Location: time.UTC}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.NotNil(t, r.Get("fortis"))
	assert.NotNil(t, r.Get("KBC"))
	assert.NotNil(t, r.Get("generic"))
	assert.Nil(t, r.Get("monopoly"))

	assert.Panics(t, func() { r.Register(&KBCParser{}) })
}

func TestFortisParser(t *testing.T) {
	const data = `Volgnummer;Uitvoeringsdatum;Valutadatum;Bedrag;Valuta rekening;Details
1;03/03/2026;03/03/2026;25,00;EUR;OVERSCHRIJVING VAN BE68 5390 0754 7034 MEDEDELING : +++167/9736/03331+++
2;04/03/2026;04/03/2026;-12,50;EUR;DOMICILIERING MEDEDELING : +++167/9736/03331+++
3;05/03/2026;05/03/2026;99,00;EUR;KAARTBETALING MET BANCONTACT
4;06/03/2026;06/03/2026;abc;EUR;STORTING MEDEDELING : +++167/9736/03331+++
`
	var fb ledger.Feedback
	txns, err := (&FortisParser{}).Parse(strings.NewReader(data), testOpts, &fb)
	require.NoError(t, err)
	require.Len(t, txns, 1)

	tx := txns[0]
	assert.Equal(t, 2, tx.LineNo)
	assert.Equal(t, "25.00 EUR", tx.Amount.String())
	assert.Equal(t, "+++167/9736/03331+++", tx.AccountLookup)
	assert.Equal(t, time.Date(2026, 3, 3, 23, 59, 59, 0, time.UTC), tx.Timestamp)

	// the bad amount on a reference-bearing row is reported; the
	// outgoing transfer and the card payment are not
	require.Len(t, fb.Errors(), 1)
	assert.Equal(t, []int{5}, fb.Errors()[0].Lines)
}

func TestFortisParserMissingColumn(t *testing.T) {
	var fb ledger.Feedback
	_, err := (&FortisParser{}).Parse(strings.NewReader("a;b;c\n1;2;3\n"), testOpts, &fb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column")
}

func TestKBCParserStructuredColumn(t *testing.T) {
	const data = `Rekeningnummer;Datum;Credit;Debet;gestructureerde mededeling;Vrije mededeling
BE1;03/03/2026;25,00;;167973603331;
BE1;04/03/2026;;12,50;167973603331;
BE1;05/03/2026;10,00;;;betaling lidgeld +++167/9736/03331+++
BE1;06/03/2026;15,00;;;zomaar een mededeling
BE1;07/03/2026;5,00;;niet-geldig;
`
	var fb ledger.Feedback
	txns, err := (&KBCParser{}).Parse(strings.NewReader(data), testOpts, &fb)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "+++167/9736/03331+++", txns[0].AccountLookup)
	assert.Equal(t, "25.00 EUR", txns[0].Amount.String())

	// free-message fallback
	assert.Equal(t, 4, txns[1].LineNo)
	assert.Equal(t, "+++167/9736/03331+++", txns[1].AccountLookup)

	// row 5: fruitless free-message scan is silent
	// row 6: garbage in the dedicated column is an error
	require.Len(t, fb.Errors(), 1)
	assert.Equal(t, []int{6}, fb.Errors()[0].Lines)
}

func TestGenericParser(t *testing.T) {
	const data = `date,amount,account
03/03/2026,25.00,alice@example.com
04/03/2026,10.50,Bob Roberts
05/03/2026,-4.00,alice@example.com
06/03/2026,oops,alice@example.com
07/03/2026,12.00,
`
	var fb ledger.Feedback
	txns, err := (&GenericParser{}).Parse(strings.NewReader(data), testOpts, &fb)
	require.NoError(t, err)
	require.Len(t, txns, 2)

	assert.Equal(t, "alice@example.com", txns[0].AccountLookup)
	assert.Equal(t, "Bob Roberts", txns[1].AccountLookup)
	assert.Equal(t, "10.50 EUR", txns[1].Amount.String())

	// bad amount and missing account are attributed; the negative
	// amount is other bank activity and skipped silently
	require.Len(t, fb.Errors(), 2)
	assert.Equal(t, []int{5}, fb.Errors()[0].Lines)
	assert.Equal(t, []int{6}, fb.Errors()[1].Lines)
}

func TestGenericParserEmptyFile(t *testing.T) {
	var fb ledger.Feedback
	txns, err := (&GenericParser{}).Parse(strings.NewReader("date,amount,account\n"), testOpts, &fb)
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.False(t, fb.HasErrors())
}
