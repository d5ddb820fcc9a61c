// fakerunner plays a phone: it logs in to the device server and streams a
// run heading north-east at a steady speed.
package main

import (
	"encoding/json"
	"flag"
	"math"
	"net"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/runtracker/internal/geo"
	"nuha.dev/runtracker/internal/location/simplejson"
	"nuha.dev/runtracker/internal/util"
)

func send(c net.Conn, protocol byte, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.Write(simplejson.EncodeFrame(protocol, payload))
	return err
}

func main() {
	addr := flag.String("addr", "localhost:6000", "device server address")
	lat := flag.Float64("lat", 37.78825, "start latitude")
	lon := flag.Float64("lon", -122.4324, "start longitude")
	speed := flag.Float64("speed", 10, "speed in km/h")
	interval := flag.Duration("interval", time.Second, "time between fixes")
	count := flag.Int("count", 600, "number of fixes to send, 0 for unlimited")
	permission := flag.String("permission", "granted", "permission reported at login")
	flag.Parse()

	c, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect")
	}
	defer c.Close()

	serial := util.GenRandomString(nil, 6)
	err = send(c, simplejson.LOGIN, simplejson.LoginMessage{SnType: "aid", Serial: serial, DeviceType: "fakerunner", Permission: *permission})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to log in")
	}
	log.Info().Str("serial", serial).Str("addr", *addr).Msg("logged in")

	// degrees moved per fix along each axis
	km := *speed * interval.Hours() / math.Sqrt2
	dlat := km / (geo.EarthRadiusKm * math.Pi / 180)
	dlon := dlat / math.Cos(*lat*math.Pi/180)

	p := geo.NewPoint(*lat, *lon, time.Now().UTC())
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for i := 0; *count == 0 || i < *count; i++ {
		now := time.Now().UTC()
		err = send(c, simplejson.LOCATION_UPDATE, simplejson.LocationMessage{
			GpsTime:     now,
			MachineTime: now,
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			Accuracy:    5,
			SatUsed:     8,
			Fix:         true,
			Speed:       float32(*speed),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("unable to send location")
		}
		log.Debug().Int("seq", i).Float64("lat", p.Latitude).Float64("lon", p.Longitude).Msg("sent")
		p = geo.NewPoint(p.Latitude+dlat, p.Longitude+dlon, now)
		<-ticker.C
	}
	log.Info().Int("count", *count).Msg("done")
}
