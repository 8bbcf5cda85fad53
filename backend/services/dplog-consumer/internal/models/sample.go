package models

// Sample is one differential-pressure reading as published by the sensor.
type Sample struct {
	DPPa    float64
	Samples int64
}
