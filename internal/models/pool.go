package models

import "time"

// ResourcePool is the per-hospital, per-resource-type counter set.
// Invariant: Total = Available + Occupied + Reserved, all non-negative.
type ResourcePool struct {
	ID           int64     `yaml:"id" json:"id"`
	HospitalID   int64     `yaml:"hospital_id" json:"hospital_id"`
	ResourceType string    `yaml:"resource_type" json:"resource_type"`
	Total        int64     `yaml:"total" json:"total"`
	Available    int64     `yaml:"available" json:"available"`
	Occupied     int64     `yaml:"occupied" json:"occupied"`
	Reserved     int64     `yaml:"reserved" json:"reserved"`
	CreatedAt    time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt    time.Time `yaml:"updated_at" json:"updated_at"`
	Version      int64     `yaml:"version" json:"version"`
}

// Consistent reports whether the counter invariant holds.
func (p *ResourcePool) Consistent() bool {
	return p.Total == p.Available+p.Occupied+p.Reserved &&
		p.Available >= 0 && p.Occupied >= 0 && p.Reserved >= 0
}

// Reservation is a provisional capacity hold identified by its token.
type Reservation struct {
	Token        string    `json:"token"`
	HospitalID   int64     `json:"hospital_id"`
	ResourceType string    `json:"resource_type"`
	BookingID    int64     `json:"booking_id"`
	Count        int64     `json:"count"`
	State        string    `json:"state"` // held, committed, released
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Availability struct {
	HospitalID   int64  `json:"hospital_id"`
	ResourceType string `json:"resource_type"`
	Total        int64  `json:"total"`
	Available    int64  `json:"available"`
	Occupied     int64  `json:"occupied"`
	Reserved     int64  `json:"reserved"`
}
