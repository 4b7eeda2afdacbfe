package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownParameter is returned for any parameter outside the closed variable table.
var ErrUnknownParameter = errors.New("unknown parameter")

// Parameter is a measured quantity selectable in the dashboard.
type Parameter string

const (
	ParameterLevel        Parameter = "level"
	ParameterDischarge    Parameter = "discharge"
	ParameterRainfall     Parameter = "rainfall"
	ParameterTemperature  Parameter = "temperature"
	ParameterConductivity Parameter = "conductivity"
	ParameterTurbidity    Parameter = "turbidity"
	ParameterPH           Parameter = "pH"
)

// VariableCodes is the Hydstra varfrom/varto pair for a parameter.
type VariableCodes struct {
	From string `json:"varfrom"`
	To   string `json:"varto"`
}

// variableTable is the closed parameter table. Adding a parameter means adding a row here
// and to parameterOrder.
var variableTable = map[Parameter]VariableCodes{
	ParameterLevel:        {From: "100.00", To: "100.00"},
	ParameterDischarge:    {From: "100.00", To: "140.00"},
	ParameterRainfall:     {From: "10.00", To: "10.00"},
	ParameterTemperature:  {From: "2080.00", To: "2080.00"},
	ParameterConductivity: {From: "2010.00", To: "2010.00"},
	ParameterTurbidity:    {From: "2030.00", To: "2030.00"},
	ParameterPH:           {From: "2100.00", To: "2100.00"},
}

var parameterOrder = []Parameter{
	ParameterLevel,
	ParameterDischarge,
	ParameterRainfall,
	ParameterTemperature,
	ParameterConductivity,
	ParameterTurbidity,
	ParameterPH,
}

// Parameters returns the selectable parameters in display order.
func Parameters() []Parameter {
	out := make([]Parameter, len(parameterOrder))
	copy(out, parameterOrder)
	return out
}

// ParseParameter matches s against the closed table, ignoring case and surrounding space.
func ParseParameter(s string) (Parameter, error) {
	s = strings.TrimSpace(s)
	for _, p := range parameterOrder {
		if strings.EqualFold(string(p), s) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownParameter, s)
}

// VariableCodesFor returns the upstream variable codes for p.
func VariableCodesFor(p Parameter) (VariableCodes, error) {
	codes, ok := variableTable[p]
	if !ok {
		return VariableCodes{}, fmt.Errorf("%w: %q", ErrUnknownParameter, string(p))
	}
	return codes, nil
}
