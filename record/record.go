package record

import (
	"time"
)

// Variant identifies the sensor family a reading belongs to.
type Variant string

const (
	// VariantLocation is a GNSS position fix
	VariantLocation Variant = "location"
	// VariantThermal is a canopy/ambient temperature reading
	VariantThermal Variant = "thermal"
	// VariantSpectral is an NDVI camera reading
	VariantSpectral Variant = "spectral"
	// VariantEnvironmental is a humidity/dew-point reading
	VariantEnvironmental Variant = "environmental"
	// VariantTransform is a UTM base-link position
	VariantTransform Variant = "transform"
	// VariantPlant is a per-crop metric reading
	VariantPlant Variant = "plant"
)

// Variants lists every known variant in a stable order.
var Variants = []Variant{
	VariantLocation,
	VariantThermal,
	VariantSpectral,
	VariantEnvironmental,
	VariantTransform,
	VariantPlant,
}

// Known reports whether v is one of the defined variants.
func Known(v Variant) bool {
	for _, known := range Variants {
		if v == known {
			return true
		}
	}
	return false
}

// Payload is the variant-specific part of a Record. Exactly one concrete
// type exists per variant, so a Record can never hold an invalid field
// combination.
type Payload interface {
	Variant() Variant
}

// Location holds a GNSS fix.
type Location struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
	Altitude  float64 `json:"altitude" bson:"altitude"`
	FixStatus int     `json:"status" bson:"status"`
	Service   int     `json:"service" bson:"service"`
}

// Variant implements Payload.
func (Location) Variant() Variant { return VariantLocation }

// Thermal holds canopy and ambient temperature data.
type Thermal struct {
	CanopyTemperature  float64 `json:"canopy_temperature" bson:"canopy_temperature"`
	CWSI               float64 `json:"cwsi" bson:"cwsi"`
	AmbientTemperature float64 `json:"ambient_temperature" bson:"ambient_temperature"`
	EntityCount        int     `json:"entity_count" bson:"entity_count"`
}

// Variant implements Payload.
func (Thermal) Variant() Variant { return VariantThermal }

// Spectral holds NDVI camera channels.
type Spectral struct {
	NDVI    float64 `json:"ndvi" bson:"ndvi"`
	NDVI3D  float64 `json:"ndvi_3d" bson:"ndvi_3d"`
	IR      float64 `json:"ir" bson:"ir"`
	Visible float64 `json:"visible" bson:"visible"`
}

// Variant implements Payload.
func (Spectral) Variant() Variant { return VariantSpectral }

// Environmental holds humidity readings.
type Environmental struct {
	RelativeHumidity float64 `json:"relative_humidity" bson:"relative_humidity"`
	AbsoluteHumidity float64 `json:"absolute_humidity" bson:"absolute_humidity"`
	DewPoint         float64 `json:"dew_point" bson:"dew_point"`
}

// Variant implements Payload.
func (Environmental) Variant() Variant { return VariantEnvironmental }

// Transform holds a UTM base-link position.
type Transform struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
	Z float64 `json:"z" bson:"z"`
}

// Variant implements Payload.
func (Transform) Variant() Variant { return VariantTransform }

// Plant holds per-crop metrics.
type Plant struct {
	Biomass    float64 `json:"biomass" bson:"biomass"`
	Area       float64 `json:"area" bson:"area"`
	CropType   string  `json:"crop_type" bson:"crop_type"`
	LightState string  `json:"light_state" bson:"light_state"`
}

// Variant implements Payload.
func (Plant) Variant() Variant { return VariantPlant }

// Record is one decoded sensor reading. Records are immutable values: the
// decoder creates them and the aggregation window consumes them.
type Record struct {
	Device    string
	Topic     string
	Timestamp time.Time
	Payload   Payload
}

// Variant returns the variant of the record's payload.
func (r Record) Variant() Variant { return r.Payload.Variant() }
