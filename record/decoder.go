package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DecodeErrorKind classifies why a message was rejected.
type DecodeErrorKind string

const (
	// UnknownTopic means the topic does not map to a sensor variant.
	UnknownTopic DecodeErrorKind = "unknown_topic"
	// MalformedPayload means the payload failed to parse or is missing
	// required fields.
	MalformedPayload DecodeErrorKind = "malformed_payload"
)

// DecodeError is returned when a raw message cannot become a Record. The
// message is dropped; decode errors are never retried.
type DecodeError struct {
	Kind  DecodeErrorKind
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s: %v", e.Topic, e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsUnknownTopic reports whether err is an unknown-topic decode error.
func IsUnknownTopic(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == UnknownTopic
}

// variantByTopic maps the trailing topic segment to a variant. The table is
// static and exhaustive; anything else is an unknown topic.
var variantByTopic = map[string]Variant{
	"location":      VariantLocation,
	"gps":           VariantLocation,
	"thermal":       VariantThermal,
	"temperature":   VariantThermal,
	"spectral":      VariantSpectral,
	"ndvi":          VariantSpectral,
	"environmental": VariantEnvironmental,
	"humidity":      VariantEnvironmental,
	"transform":     VariantTransform,
	"tf_position":   VariantTransform,
	"plant":         VariantPlant,
	"crop":          VariantPlant,
}

// topicPattern matches the expected topic layout: telemetry/{device}/{kind}
var topicPattern = regexp.MustCompile(`^telemetry/([^/]+)/([^/]+)$`)

// ParseTopic extracts the device identity and variant from a topic name.
func ParseTopic(topic string) (device string, variant Variant, err error) {
	matches := topicPattern.FindStringSubmatch(topic)
	if len(matches) != 3 {
		return "", "", fmt.Errorf("topic %q does not match telemetry/{device}/{kind}", topic)
	}
	device = matches[1]
	variant, ok := variantByTopic[strings.ToLower(matches[2])]
	if !ok {
		return "", "", fmt.Errorf("no variant mapped for topic kind %q", matches[2])
	}
	return device, variant, nil
}

// envelope carries the fields common to every payload.
type envelope struct {
	Device    string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
}

// Decode parses a raw message into a typed Record. It is pure: safe to call
// concurrently from independent delivery callbacks and safe to call again
// with the same input.
func Decode(topic string, payload []byte) (Record, error) {
	device, variant, err := ParseTopic(topic)
	if err != nil {
		return Record{}, &DecodeError{Kind: UnknownTopic, Topic: topic, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Record{}, &DecodeError{Kind: MalformedPayload, Topic: topic, Err: err}
	}
	// The topic is authoritative for identity; the payload may repeat it.
	if env.Device != "" && env.Device != device {
		return Record{}, &DecodeError{Kind: MalformedPayload, Topic: topic,
			Err: fmt.Errorf("payload device %q does not match topic device %q", env.Device, device)}
	}
	if device == "" {
		return Record{}, &DecodeError{Kind: MalformedPayload, Topic: topic,
			Err: errors.New("empty device identity")}
	}
	if env.Timestamp <= 0 {
		return Record{}, &DecodeError{Kind: MalformedPayload, Topic: topic,
			Err: errors.New("missing or invalid timestamp")}
	}

	body, err := decodePayload(variant, payload)
	if err != nil {
		return Record{}, &DecodeError{Kind: MalformedPayload, Topic: topic, Err: err}
	}

	return Record{
		Device:    device,
		Topic:     topic,
		Timestamp: time.Unix(env.Timestamp, 0).UTC(),
		Payload:   body,
	}, nil
}

// decodePayload parses the variant-specific field schema. NaN and infinity
// cannot survive json.Unmarshal, so finite-value checks live in the
// validator, which sees every record regardless of how it was built.
func decodePayload(variant Variant, payload []byte) (Payload, error) {
	switch variant {
	case VariantLocation:
		var p Location
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case VariantThermal:
		var p Thermal
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case VariantSpectral:
		var p Spectral
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case VariantEnvironmental:
		var p Environmental
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case VariantTransform:
		var p Transform
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	case VariantPlant:
		var p Plant
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unhandled variant %q", variant)
}
