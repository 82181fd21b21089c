package validator

import (
	"fmt"
	"math"
	"reflect"

	"github.com/AlexRomero01/Bridge-Server/record"
)

// Validator checks one decoded payload.
type Validator interface {
	// Validate returns an error when the data is out of range
	Validate(data interface{}) error
}

// RangeValidator checks that a numeric struct field lies in [Min, Max].
type RangeValidator struct {
	Field string
	Min   float64
	Max   float64
}

// Validate checks the named field of a struct value.
func (rv *RangeValidator) Validate(data interface{}) error {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return fmt.Errorf("data must be a struct")
	}

	field := v.FieldByName(rv.Field)
	if !field.IsValid() {
		return fmt.Errorf("field %s does not exist", rv.Field)
	}

	var value float64
	switch field.Kind() {
	case reflect.Float32, reflect.Float64:
		value = field.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		value = float64(field.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		value = float64(field.Uint())
	default:
		return fmt.Errorf("field %s is not numeric", rv.Field)
	}

	// NaN compares false against both bounds and would sneak through the
	// range check below.
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("field %s is not a finite number", rv.Field)
	}

	if value < rv.Min || value > rv.Max {
		return fmt.Errorf("field %s value %f outside range [%f, %f]", rv.Field, value, rv.Min, rv.Max)
	}

	return nil
}

// rulesByVariant holds the physical plausibility bounds per sensor family.
var rulesByVariant = map[record.Variant][]Validator{
	record.VariantLocation: {
		&RangeValidator{Field: "Latitude", Min: -90, Max: 90},
		&RangeValidator{Field: "Longitude", Min: -180, Max: 180},
		&RangeValidator{Field: "Altitude", Min: -500, Max: 10000},
	},
	record.VariantThermal: {
		&RangeValidator{Field: "CanopyTemperature", Min: -60, Max: 80},
		&RangeValidator{Field: "AmbientTemperature", Min: -60, Max: 80},
		&RangeValidator{Field: "EntityCount", Min: 0, Max: 1e6},
	},
	record.VariantSpectral: {
		&RangeValidator{Field: "NDVI", Min: -1, Max: 1},
		&RangeValidator{Field: "NDVI3D", Min: -1, Max: 1},
	},
	record.VariantEnvironmental: {
		&RangeValidator{Field: "RelativeHumidity", Min: 0, Max: 100},
		&RangeValidator{Field: "DewPoint", Min: -60, Max: 60},
	},
	record.VariantPlant: {
		&RangeValidator{Field: "Biomass", Min: 0, Max: 1e9},
		&RangeValidator{Field: "Area", Min: 0, Max: 1e9},
	},
}

// ValidateRecord applies the variant's rule set to a decoded record.
func ValidateRecord(r record.Record) error {
	for _, rule := range rulesByVariant[r.Variant()] {
		if err := rule.Validate(r.Payload); err != nil {
			return fmt.Errorf("%s record from %s: %w", r.Variant(), r.Device, err)
		}
	}
	return nil
}
