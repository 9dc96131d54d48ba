package alerting

// Schema describes the values an alert definition accepts, for clients
// building alert forms.
type Schema struct {
	Fields        []FieldSchema  `json:"fields"`
	RangeTypes    []RangeSchema  `json:"rangeTypes"`
	ScheduleTypes []OptionSchema `json:"scheduleTypes"`
	Weekdays      []Weekday      `json:"weekdays"`
	DeviceTypes   []string       `json:"deviceTypes"`
}

// FieldSchema describes a watchable field.
type FieldSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Unit  string `json:"unit"`
	// DeviceTypes lists the device types reporting this field.
	DeviceTypes []string `json:"deviceTypes"`
}

// RangeSchema describes a range type and the bounds it needs.
type RangeSchema struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Sign      string `json:"sign"`
	NeedLower bool   `json:"needLower"`
	NeedUpper bool   `json:"needUpper"`
	Inclusive bool   `json:"inclusive"`
}

// OptionSchema is a named choice.
type OptionSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// GetSchema returns the alert schema.
func GetSchema() Schema {
	fields := make([]FieldSchema, 0, len(Fields))
	for _, f := range Fields {
		fields = append(fields, FieldSchema{
			Name:        f,
			Label:       FieldLabel(f),
			Unit:        FieldUnit(f),
			DeviceTypes: deviceTypesFor(f),
		})
	}
	return Schema{
		Fields: fields,
		RangeTypes: []RangeSchema{
			{Name: RangeLower, Label: "Below", Sign: RangeSign(RangeLower), NeedLower: true},
			{Name: RangeUpper, Label: "Above", Sign: RangeSign(RangeUpper), NeedUpper: true},
			{Name: RangeInside, Label: "Between", Sign: RangeSign(RangeInside), NeedLower: true, NeedUpper: true, Inclusive: true},
			{Name: RangeOutside, Label: "Outside", Sign: RangeSign(RangeOutside), NeedLower: true, NeedUpper: true},
		},
		ScheduleTypes: []OptionSchema{
			{Name: ScheduleEveryday, Label: "Every day"},
			{Name: ScheduleWeekdays, Label: "Monday to Friday"},
			{Name: ScheduleCustom, Label: "Selected days"},
		},
		Weekdays:    Weekdays,
		DeviceTypes: DeviceTypes,
	}
}

func deviceTypesFor(field string) []string {
	if field == FieldPressure {
		return []string{DeviceTypePressure}
	}
	return []string{DeviceTypeHumidity, DeviceTypeCold}
}
