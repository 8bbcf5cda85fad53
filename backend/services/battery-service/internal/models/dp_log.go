package models

import "time"

// DPLogEntry is one raw differential-pressure sample written by the log consumer.
type DPLogEntry struct {
	ID       int64      `db:"id" json:"id"`
	ReadTime *time.Time `db:"read_time" json:"read_time"`
	DPPa     *float64   `db:"dp_pa" json:"dp_pa"`
	Samples  *int64     `db:"samples" json:"samples"`
}
