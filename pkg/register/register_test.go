package register

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverage(t *testing.T) {
	tests := []struct {
		name   string
		grades []Grade
		want   float64
	}{
		{
			name: "mixed values",
			grades: []Grade{
				{DecimalValue: 6, Color: ColorGreen},
				{DecimalValue: 8, Color: ColorGreen},
			},
			want: 7,
		},
		{
			name: "blue grades excluded",
			grades: []Grade{
				{DecimalValue: 6, Color: ColorGreen},
				{DecimalValue: 2, Color: ColorBlue},
				{DecimalValue: 8, Color: ColorGreen},
			},
			want: 7,
		},
		{
			name: "single grade",
			grades: []Grade{
				{DecimalValue: 6.25, Color: ColorGreen},
			},
			want: 6.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Average(tt.grades), 1e-9)
		})
	}
}

func TestAverage_UndefinedIsNaN(t *testing.T) {
	// No grades at all.
	require.True(t, math.IsNaN(Average(nil)))
	require.True(t, math.IsNaN(Average([]Grade{})))

	// Only blue grades: still undefined, never zero.
	onlyBlue := []Grade{
		{DecimalValue: 7, Color: ColorBlue},
		{DecimalValue: 9, Color: ColorBlue},
	}
	require.True(t, math.IsNaN(Average(onlyBlue)))
}

func TestPeriodAverage(t *testing.T) {
	grades := []Grade{
		{DecimalValue: 6, Color: ColorGreen, PeriodDesc: "Primo Trimestre"},
		{DecimalValue: 10, Color: ColorGreen, PeriodDesc: "Primo Trimestre"},
		{DecimalValue: 2, Color: ColorGreen, PeriodDesc: "Pentamestre"},
		{DecimalValue: 3, Color: ColorBlue, PeriodDesc: "Primo Trimestre"},
	}

	assert.InDelta(t, 8, PeriodAverage(grades, "Primo Trimestre"), 1e-9)
	assert.InDelta(t, 2, PeriodAverage(grades, "Pentamestre"), 1e-9)

	// Exact match only: a near-miss description contributes nothing.
	assert.True(t, math.IsNaN(PeriodAverage(grades, "primo trimestre")))
	assert.True(t, math.IsNaN(PeriodAverage(grades, "Secondo Trimestre")))
}
