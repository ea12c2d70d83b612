package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSemicolonWithHeader(t *testing.T) {
	raw := "EAN;Nom;Stock;Rotation\r\n" +
		"3400936403114;Doliprane 1000mg;12;15,7\r\n" +
		"3400930000002;Smecta;N/A;n/a\r\n" +
		"\r\n" +
		"3400930000003;Spasfon;1 200;2.5\n"

	res := Parse(raw)

	assert.Equal(t, ';', res.Separator)
	assert.True(t, res.HeaderSkipped)
	assert.Equal(t, 0, res.ErrorCount)
	require.Len(t, res.Records, 3)

	assert.Equal(t, "3400936403114", res.Records[0].Code)
	assert.Equal(t, "Doliprane 1000mg", res.Records[0].Name)
	assert.Equal(t, 12, res.Records[0].Stock)
	assert.InDelta(t, 15.7, res.Records[0].Rotation, 1e-9)

	assert.Equal(t, 0, res.Records[1].Stock)
	assert.Equal(t, 0.0, res.Records[1].Rotation)

	assert.Equal(t, 1200, res.Records[2].Stock)
	assert.InDelta(t, 2.5, res.Records[2].Rotation, 1e-9)
}

func TestParseCommaDecimalRepair(t *testing.T) {
	raw := `"123456789","Widget","10","15","7"`

	res := Parse(raw)

	assert.Equal(t, ',', res.Separator)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "123456789", res.Records[0].Code)
	assert.Equal(t, "Widget", res.Records[0].Name)
	assert.Equal(t, 10, res.Records[0].Stock)
	assert.InDelta(t, 15.7, res.Records[0].Rotation, 1e-9)
}

func TestParseNoRepairWhenFifthFieldNotDigits(t *testing.T) {
	res := Parse("123456789,Widget,10,15,note")

	require.Len(t, res.Records, 1)
	assert.InDelta(t, 15.0, res.Records[0].Rotation, 1e-9)
}

func TestDetectSeparatorPrefersSemicolon(t *testing.T) {
	lines := []string{
		"1111111111;Sirop, enfant;1;2",
		"2222222222;Gel, 50 ml, tube;1;2",
		"3333333333;Creme;1;2",
		"4444444444;Baume, 30 g;1;2",
		"5555555555;Spray;1;2",
	}
	assert.Equal(t, ';', DetectSeparator(lines))

	res := Parse("1111111111;Sirop, enfant;3;1,5\n2222222222;Gel, 50 ml;4;2")
	assert.Equal(t, ';', res.Separator)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Sirop, enfant", res.Records[0].Name)
}

func TestDetectSeparatorOnlyLooksAtSample(t *testing.T) {
	lines := []string{"a,b,c,d", "a,b,c,d", "a,b,c,d", "a,b,c,d", "a;b;c;d", "a;b;c;d", "a;b;c;d"}
	assert.Equal(t, ',', DetectSeparator(lines))

	fewer := []string{"a;b;c;d;e;f", "a,b,c,d", "a,b,c,d"}
	assert.Equal(t, ';', DetectSeparator(fewer))
	assert.Equal(t, ',', DetectSeparator(nil))
}

func TestParseRejectsShortCodes(t *testing.T) {
	raw := "12345;Trop court;1;1\n;Sans code;1;1\n1234567890;Ok;1;1\nonly;three;fields"

	res := Parse(raw)

	assert.Equal(t, 2, res.ErrorCount)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "1234567890", res.Records[0].Code)
	require.Len(t, res.Rejected, 2)
	assert.Equal(t, 1, res.Rejected[0].Line)
}

func TestParseHeaderDetection(t *testing.T) {
	numeric := Parse("3400936403114;Code barre;1;1\n3400930000002;Autre;1;1")
	assert.False(t, numeric.HeaderSkipped)
	assert.Len(t, numeric.Records, 2)

	quoted := Parse("\"Code13\";\"Nom\";\"Stock\";\"Rotation\"\n\"3400930000002\";\"Autre\";\"4\";\"0,5\"")
	assert.True(t, quoted.HeaderSkipped)
	require.Len(t, quoted.Records, 1)
	assert.Equal(t, 4, quoted.Records[0].Stock)
	assert.InDelta(t, 0.5, quoted.Records[0].Rotation, 1e-9)

	plain := Parse("Produit;Nom;Stock;Rotation\n3400930000002;Autre;4;1")
	assert.False(t, plain.HeaderSkipped)
	assert.Equal(t, 1, plain.ErrorCount)
}

func TestParseUnparsableNumbersDefault(t *testing.T) {
	res := Parse("3400930000002;Autre;beaucoup;vite\n3400930000003;Autre;7 boites;3,2 mois")

	require.Len(t, res.Records, 2)
	assert.Equal(t, 0, res.Records[0].Stock)
	assert.Equal(t, 0.0, res.Records[0].Rotation)
	assert.Equal(t, 7, res.Records[1].Stock)
	assert.InDelta(t, 3.2, res.Records[1].Rotation, 1e-9)
}

func TestParseEmpty(t *testing.T) {
	res := Parse("\n\r\n  \n")
	assert.Empty(t, res.Records)
	assert.Equal(t, 0, res.ErrorCount)
}
