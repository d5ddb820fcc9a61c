package simplejson

import (
	"time"
)

const (
	LOGIN           byte = 0x01
	LOCATION_UPDATE byte = 0x02
	SAT_UPDATE      byte = 0x03
	GPS_ERROR       byte = 0x04
	GPS_INIT        byte = 0x05
	STATUS          byte = 0x06
)

type LoginMessage struct {
	SnType     string `json:"sn_type"`
	Serial     string `json:"serial"`
	DeviceType string `json:"device_type"`
	Permission string `json:"permission"`
}

type LocationMessage struct {
	GpsTime     time.Time `json:"gps_time"`
	MachineTime time.Time `json:"machine_time"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Altitude    float32   `json:"altitude"`
	Accuracy    float32   `json:"accuracy"`
	SatUsed     int       `json:"sat_used"`
	Fix         bool      `json:"fix"`
	Speed       float32   `json:"speed"`
}

type StatusMessage struct {
	GpsStatus  bool   `json:"gps_status"`
	Permission string `json:"permission,omitempty"`
}

type ErrorMessage struct {
	Reason string `json:"reason"`
}
