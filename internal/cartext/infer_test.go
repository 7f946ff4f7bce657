package cartext

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neorise/storefront/internal/car"
)

func TestInferRecoversFieldsFromProse(t *testing.T) {
	t.Parallel()

	text := "Clean 2018 sedan, priced at $18,900 with 45,000 km.\n" +
		"Automatic gearbox, petrol, 2.5L engine, currently sold. Ref tc-1234."
	fields := Fields{}

	filled := Infer(text, fields)

	require.Equal(t, []string{
		car.ColPrice, car.ColYear, car.ColMileage, car.ColTrans,
		car.ColFuel, car.ColEngine, car.ColStatus, car.ColStockNo,
	}, filled)
	require.Equal(t, "18,900", fields[car.ColPrice])
	require.Equal(t, "2018", fields[car.ColYear])
	require.Equal(t, "45,000", fields[car.ColMileage])
	require.Equal(t, "Automatic", fields[car.ColTrans])
	require.Equal(t, "petrol", fields[car.ColFuel])
	require.Equal(t, "2.5L", fields[car.ColEngine])
	require.Equal(t, "sold", fields[car.ColStatus])
	require.Equal(t, "TC-1234", fields[car.ColStockNo])
}

func TestInferKeepsPresentFields(t *testing.T) {
	t.Parallel()

	fields := Fields{car.ColYear: "2015"}
	Infer("built 2020", fields)
	require.Equal(t, "2015", fields[car.ColYear])
}

func TestInferBilingualSynonyms(t *testing.T) {
	t.Parallel()

	fields := Fields{}
	Infer("车况良好 手动 柴油 行驶 3,2000公里 在售", fields)

	require.Equal(t, "手动", fields[car.ColTrans])
	require.Equal(t, "柴油", fields[car.ColFuel])
	require.Equal(t, "3,2000", fields[car.ColMileage])
	require.Equal(t, "在售", fields[car.ColStatus])
}

func TestInferGearboxAbbreviationsAreCaseSensitive(t *testing.T) {
	t.Parallel()

	lower := Fields{}
	Infer("available at the dealer", lower)
	require.True(t, lower.Missing(car.ColTrans))

	upper := Fields{}
	Infer("6-speed MT", upper)
	require.Equal(t, "MT", upper[car.ColTrans])
}
