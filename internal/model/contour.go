package model

import (
	"database/sql/driver"
	"encoding/json"
)

// Contour is one planar contour of an ROI and the image slice it lies on.
type Contour struct {
	Data                     []float64 `json:"contour_data"`
	ReferencedSOPInstanceUID string    `json:"referenced_sop_instance_uid"`
}

// Contours is stored as a JSONB array; never NULL.
type Contours []Contour

func (c Contours) Value() (driver.Value, error) {
	if c == nil {
		return json.Marshal([]Contour{})
	}
	return json.Marshal([]Contour(c))
}

func (c *Contours) Scan(src interface{}) error {
	return scanJSON(src, c)
}
