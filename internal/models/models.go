package models

import "time"

// ServiceGroup is a top-level category the visitor picks first. The list is
// static configuration; its services and devices are fetched per group.
type ServiceGroup struct {
	ID   int64  `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Service is one bookable treatment inside a service group. Price is in
// toman, Duration in minutes. Both come from the services API and are
// trusted as-is.
type Service struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Duration int    `json:"duration"`
}

// Device is an optional machine required by some service groups.
type Device struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// GroupInfo is the answer to "what can be booked in this group".
type GroupInfo struct {
	Services      []Service `json:"services"`
	Devices       []Device  `json:"devices"`
	HasDevices    bool      `json:"has_devices"`
	AllowMultiple bool      `json:"allow_multiple_selection"`
}

// Slot is a single offerable appointment start time. Immutable once
// received from the server.
type Slot struct {
	Start         time.Time `json:"start"`
	ReadableStart string    `json:"readable_start,omitempty"`
}

// ServiceByID looks a service up in the group's offered list.
func (g *GroupInfo) ServiceByID(id int64) (Service, bool) {
	for _, s := range g.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

// DeviceByID looks a device up in the group's device list.
func (g *GroupInfo) DeviceByID(id int64) (Device, bool) {
	for _, d := range g.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}
