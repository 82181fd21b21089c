package record

import (
	"fmt"
	"time"
)

// Seal reasons carried on a CommitRecord.
const (
	SealComplete = "complete"
	SealTimeout  = "timeout"
	SealEvicted  = "evicted"
	SealShutdown = "shutdown"
)

// CommitRecord is the sealed, flattened form of an aggregate entry. It is
// what both sinks persist. Key is the content-derived idempotency key, so
// committing the same logical reading twice overwrites instead of
// duplicating.
type CommitRecord struct {
	Key        string    `json:"idempotency_key" bson:"_id"`
	Device     string    `json:"device_id" bson:"device_id"`
	Epoch      time.Time `json:"epoch" bson:"epoch"`
	Partial    bool      `json:"partial" bson:"partial"`
	SealReason string    `json:"seal_reason" bson:"seal_reason"`

	Location      *Location      `json:"location,omitempty" bson:"location,omitempty"`
	Thermal       *Thermal       `json:"thermal,omitempty" bson:"thermal,omitempty"`
	Spectral      *Spectral      `json:"spectral,omitempty" bson:"spectral,omitempty"`
	Environmental *Environmental `json:"environmental,omitempty" bson:"environmental,omitempty"`
	Transform     *Transform     `json:"transform,omitempty" bson:"transform,omitempty"`
	Plant         *Plant         `json:"plant,omitempty" bson:"plant,omitempty"`
}

// IdempotencyKey derives the commit key for a device and reading epoch.
func IdempotencyKey(device string, epoch time.Time) string {
	return fmt.Sprintf("%s:%d", device, epoch.UnixNano())
}

// NewCommitRecord flattens the records accumulated for one (device, epoch)
// key into a CommitRecord.
func NewCommitRecord(device string, epoch time.Time, partial bool, reason string, records map[Variant]Record) CommitRecord {
	cr := CommitRecord{
		Key:        IdempotencyKey(device, epoch),
		Device:     device,
		Epoch:      epoch,
		Partial:    partial,
		SealReason: reason,
	}
	for _, rec := range records {
		switch p := rec.Payload.(type) {
		case Location:
			v := p
			cr.Location = &v
		case Thermal:
			v := p
			cr.Thermal = &v
		case Spectral:
			v := p
			cr.Spectral = &v
		case Environmental:
			v := p
			cr.Environmental = &v
		case Transform:
			v := p
			cr.Transform = &v
		case Plant:
			v := p
			cr.Plant = &v
		}
	}
	return cr
}

// HasVariant reports whether the commit record carries data for v.
func (c CommitRecord) HasVariant(v Variant) bool {
	switch v {
	case VariantLocation:
		return c.Location != nil
	case VariantThermal:
		return c.Thermal != nil
	case VariantSpectral:
		return c.Spectral != nil
	case VariantEnvironmental:
		return c.Environmental != nil
	case VariantTransform:
		return c.Transform != nil
	case VariantPlant:
		return c.Plant != nil
	}
	return false
}

// FieldsByVariant returns the field name/value pairs per variant present,
// in the shape the time-series sink writes them (measurement = variant).
func (c CommitRecord) FieldsByVariant() map[Variant]map[string]interface{} {
	out := make(map[Variant]map[string]interface{})
	if c.Location != nil {
		out[VariantLocation] = map[string]interface{}{
			"latitude":  c.Location.Latitude,
			"longitude": c.Location.Longitude,
			"altitude":  c.Location.Altitude,
			"status":    c.Location.FixStatus,
			"service":   c.Location.Service,
		}
	}
	if c.Thermal != nil {
		out[VariantThermal] = map[string]interface{}{
			"canopy_temperature":  c.Thermal.CanopyTemperature,
			"cwsi":                c.Thermal.CWSI,
			"ambient_temperature": c.Thermal.AmbientTemperature,
			"entity_count":        c.Thermal.EntityCount,
		}
	}
	if c.Spectral != nil {
		out[VariantSpectral] = map[string]interface{}{
			"ndvi":    c.Spectral.NDVI,
			"ndvi_3d": c.Spectral.NDVI3D,
			"ir":      c.Spectral.IR,
			"visible": c.Spectral.Visible,
		}
	}
	if c.Environmental != nil {
		out[VariantEnvironmental] = map[string]interface{}{
			"relative_humidity": c.Environmental.RelativeHumidity,
			"absolute_humidity": c.Environmental.AbsoluteHumidity,
			"dew_point":         c.Environmental.DewPoint,
		}
	}
	if c.Transform != nil {
		out[VariantTransform] = map[string]interface{}{
			"x": c.Transform.X,
			"y": c.Transform.Y,
			"z": c.Transform.Z,
		}
	}
	if c.Plant != nil {
		out[VariantPlant] = map[string]interface{}{
			"biomass":     c.Plant.Biomass,
			"area":        c.Plant.Area,
			"crop_type":   c.Plant.CropType,
			"light_state": c.Plant.LightState,
		}
	}
	return out
}
