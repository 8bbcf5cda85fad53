package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"batterymon/backend/services/battery-service/internal/service"
)

// ErrMalformedPayload marks a message that cannot be decoded into a reading update.
var ErrMalformedPayload = errors.New("malformed telemetry payload")

const (
	keyGravity = "sg"
	keyLevel   = "level"
	keySamples = "samples"
)

// levelKeys lists the accepted keys for the secondary measurement, most preferred first.
var levelKeys = []string{keyLevel, keySamples}

// DecodeReading parses a UTF-8 JSON object into a ReadingUpdate.
// A document without any recognised key yields an empty update and no error.
func DecodeReading(payload []byte) (service.ReadingUpdate, error) {
	var update service.ReadingUpdate

	if !utf8.Valid(payload) {
		return update, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedPayload)
	}
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return update, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedPayload)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return update, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if raw, ok := doc[keyGravity]; ok {
		v, err := parseNumber(raw)
		if err != nil {
			return service.ReadingUpdate{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, keyGravity, err)
		}
		update.SpecificGravity = &v
	}

	for _, key := range levelKeys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		v, err := parseNumber(raw)
		if err != nil {
			return service.ReadingUpdate{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, key, err)
		}
		update.Level = &v
		break
	}

	return update, nil
}

// parseNumber accepts a JSON number or a string holding one.
func parseNumber(raw json.RawMessage) (float64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, errors.New("empty value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("value is not finite")
	}
	return v, nil
}
