package domain

import "strconv"

type ParameterType string

const (
	ParameterTypeText   ParameterType = "text"
	ParameterTypeNumber ParameterType = "number"
	ParameterTypeSelect ParameterType = "select"
)

// ParameterDefinition describes one ordering parameter an offer asks
// for. Definitions are data (stored with the offer), so values are
// checked here rather than with struct tags.
type ParameterDefinition struct {
	ID       string        `json:"id"`
	Label    string        `json:"label"`
	Type     ParameterType `json:"type"`
	Required bool          `json:"required"`
	Options  []string      `json:"options,omitempty"`
}

// ValidateParams checks the submitted values against the offer's
// parameter definitions. Required parameters must be present and
// non-empty, unknown keys are rejected, and typed values must parse.
func ValidateParams(offer Offer, values map[string]string) error {
	ve := &ValidationError{}

	defs := make(map[string]ParameterDefinition, len(offer.Parameters))
	for _, def := range offer.Parameters {
		defs[def.ID] = def
	}

	for key := range values {
		if _, ok := defs[key]; !ok {
			ve.add(offer.ID, key, "unknown parameter")
		}
	}

	for _, def := range offer.Parameters {
		value, present := values[def.ID]
		if !present || value == "" {
			if def.Required {
				ve.add(offer.ID, def.ID, "required parameter missing")
			}
			continue
		}

		switch def.Type {
		case ParameterTypeNumber:
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				ve.add(offer.ID, def.ID, "not a number")
			}
		case ParameterTypeSelect:
			if !contains(def.Options, value) {
				ve.add(offer.ID, def.ID, "not one of the allowed options")
			}
		}
	}

	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func contains(options []string, value string) bool {
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}
