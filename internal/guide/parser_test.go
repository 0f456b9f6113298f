package guide

import (
	"reflect"
	"testing"

	"arduinohub/pkg/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		rows      []models.ConnectionRow
		remaining string
	}{
		{
			name: "simple table with trailing text",
			raw:  "Component | Pin | Notes\nR1 | D1,D2 | use resistor\nExtra info line",
			rows: []models.ConnectionRow{
				{Component: "R1", PinConnection: "D1,D2", Notes: "use resistor"},
			},
			remaining: "Extra info line",
		},
		{
			name:      "no header",
			raw:       "  no header here, just prose  ",
			rows:      []models.ConnectionRow{},
			remaining: "no header here, just prose",
		},
		{
			name:      "two cell header then prose",
			raw:       "Component | Pin\nbadrow",
			rows:      []models.ConnectionRow{},
			remaining: "badrow",
		},
		{
			name: "markdown table with preamble and separator",
			raw: "Here is your guide:\n\n" +
				"| Component | Pin Connections | Notes |\n" +
				"|-----------|:---------------:|-------|\n" +
				"| LED | D13 -> 220Ω -> GND | Long leg to D13 |\n" +
				"| Button | D2, GND | Use INPUT_PULLUP |\n" +
				"\n" +
				"Additional notes:\n" +
				"Double check polarity.\n",
			rows: []models.ConnectionRow{
				{Component: "LED", PinConnection: "D13 -> 220Ω -> GND", Notes: "Long leg to D13"},
				{Component: "Button", PinConnection: "D2, GND", Notes: "Use INPUT_PULLUP"},
			},
			remaining: "Additional notes:\nDouble check polarity.",
		},
		{
			name: "extra cells ignored and short table rows dropped",
			raw: "| Component | Pin | Notes | Extra |\n" +
				"| Servo | D9 | signal | ignored |\n" +
				"| Piezo | D8 | |\n" +
				"| Tilt | D4 | digital |\n" +
				"After",
			rows: []models.ConnectionRow{
				{Component: "Servo", PinConnection: "D9", Notes: "signal"},
				{Component: "Tilt", PinConnection: "D4", Notes: "digital"},
			},
			remaining: "After",
		},
		{
			name: "rows after prose are not table rows",
			raw: "Component | Pin | Notes\n" +
				"Wire everything carefully\n" +
				"| LED | D1 | late row |",
			rows:      []models.ConnectionRow{},
			remaining: "Wire everything carefully\n| LED | D1 | late row |",
		},
		{
			name: "header is case insensitive",
			raw:  "COMPONENTS | PINS | NOTES\nLCD | D12,D11 | 16x2",
			rows: []models.ConnectionRow{
				{Component: "LCD", PinConnection: "D12,D11", Notes: "16x2"},
			},
			remaining: "",
		},
		{
			name:      "empty input",
			raw:       "",
			rows:      []models.ConnectionRow{},
			remaining: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if !reflect.DeepEqual(got.Rows, tt.rows) {
				t.Errorf("rows:\n got  %+v\n want %+v", got.Rows, tt.rows)
			}
			if got.RemainingText != tt.remaining {
				t.Errorf("remaining: got %q, want %q", got.RemainingText, tt.remaining)
			}
		})
	}
}

func TestParseRowsNeverNil(t *testing.T) {
	if Parse("prose only").Rows == nil {
		t.Error("Rows should be an empty slice so it encodes as []")
	}
}

func TestIsAlignmentRow(t *testing.T) {
	tests := []struct {
		cells []string
		want  bool
	}{
		{[]string{"---", ":---:", "--:"}, true},
		{[]string{"---", "D1", "---"}, false},
		{[]string{":", ":", ":"}, false},
	}
	for _, tt := range tests {
		if got := isAlignmentRow(tt.cells); got != tt.want {
			t.Errorf("isAlignmentRow(%v): got %v, want %v", tt.cells, got, tt.want)
		}
	}
}
