package consumer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"batterymon/backend/services/dplog-consumer/internal/models"
)

// ErrMalformedPayload marks a message that does not carry a usable dp_pa value.
var ErrMalformedPayload = errors.New("malformed dp payload")

type rawSample struct {
	DPPa    *json.Number `json:"dp_pa"`
	Samples *json.Number `json:"samples"`
}

// DecodeSample parses {"dp_pa": <number>, "samples": <int>}. dp_pa is required;
// samples defaults to 0 and fractional counts are truncated.
func DecodeSample(payload []byte) (models.Sample, error) {
	if !utf8.Valid(payload) {
		return models.Sample{}, fmt.Errorf("%w: payload is not valid UTF-8", ErrMalformedPayload)
	}

	var raw rawSample
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.Sample{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if raw.DPPa == nil {
		return models.Sample{}, fmt.Errorf("%w: dp_pa missing", ErrMalformedPayload)
	}

	dp, err := finite(*raw.DPPa)
	if err != nil {
		return models.Sample{}, fmt.Errorf("%w: dp_pa: %v", ErrMalformedPayload, err)
	}

	sample := models.Sample{DPPa: dp}
	if raw.Samples != nil {
		n, err := finite(*raw.Samples)
		if err != nil {
			return models.Sample{}, fmt.Errorf("%w: samples: %v", ErrMalformedPayload, err)
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return models.Sample{}, fmt.Errorf("%w: samples out of range", ErrMalformedPayload)
		}
		sample.Samples = int64(n)
	}
	return sample, nil
}

func finite(n json.Number) (float64, error) {
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
