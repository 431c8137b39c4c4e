package entities

import "time"

// Weather is a current-conditions report for one resolved location.
type Weather struct {
	Location     string    `json:"location"`
	Country      string    `json:"country,omitempty"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	TemperatureC float64   `json:"temperature_c"`
	WindKph      float64   `json:"wind_kph"`
	Conditions   string    `json:"conditions"`
	ObservedAt   time.Time `json:"observed_at"`
}
