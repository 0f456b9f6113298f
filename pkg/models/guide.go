package models

type ConnectionRow struct {
	Component     string `json:"component"`
	PinConnection string `json:"pin_connection"`
	Notes         string `json:"notes"`
}

type ParsedGuide struct {
	Rows          []ConnectionRow `json:"rows"`
	RemainingText string          `json:"remaining_text"`
}
