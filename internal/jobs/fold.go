package jobs

import (
	"time"

	"linklytics/internal/rollups"
	"linklytics/internal/timeseries"
)

// counter accumulates exact clicks and the distinct visitor set for one
// (link, date, dimension-key) cell.
type counter struct {
	clicks int64
	ips    map[string]struct{}
}

func (c *counter) add(ipHash string) {
	c.clicks++
	if ipHash != "" {
		c.ips[ipHash] = struct{}{}
	}
}

func (c *counter) uniques() int64 {
	return int64(len(c.ips))
}

type counterMap map[string]*counter

func (m counterMap) bump(key, ipHash string) {
	cell, ok := m[key]
	if !ok {
		cell = &counter{ips: make(map[string]struct{})}
		m[key] = cell
	}
	cell.add(ipHash)
}

// dayFold folds one calendar day's raw events into per-dimension counters.
// Folding is order-independent: every event contributes one click and one
// set-insert per dimension, so any event ordering yields the same rollup.
type dayFold struct {
	date    time.Time
	perLink map[string]*linkAccum

	daily    counterMap
	geo      counterMap
	referrer counterMap
	device   counterMap
	utm      counterMap
	param    map[int]counterMap

	geoKeys      map[string][3]string
	referrerKeys map[string][2]string
	deviceKeys   map[string][4]string
	utmKeys      map[string][4]string
	paramKeys    map[int]map[string][2]string
}

func newDayFold(date time.Time) *dayFold {
	fold := &dayFold{
		date:         date,
		perLink:      make(map[string]*linkAccum),
		daily:        make(counterMap),
		geo:          make(counterMap),
		referrer:     make(counterMap),
		device:       make(counterMap),
		utm:          make(counterMap),
		param:        make(map[int]counterMap),
		geoKeys:      make(map[string][3]string),
		referrerKeys: make(map[string][2]string),
		deviceKeys:   make(map[string][4]string),
		utmKeys:      make(map[string][4]string),
		paramKeys:    make(map[int]map[string][2]string),
	}
	for slot := 1; slot <= 3; slot++ {
		fold.param[slot] = make(counterMap)
		fold.paramKeys[slot] = make(map[string][2]string)
	}
	return fold
}

const keySep = "\x00"

func (f *dayFold) add(event *timeseries.RawEvent) {
	if event.LinkID == "" {
		return
	}

	accum, ok := f.perLink[event.LinkID]
	if !ok {
		accum = &linkAccum{ips: make(map[string]struct{})}
		f.perLink[event.LinkID] = accum
	}
	accum.clicks++
	if event.IPHash != "" {
		accum.ips[event.IPHash] = struct{}{}
	}

	f.daily.bump(event.LinkID, event.IPHash)

	geoKey := event.LinkID + keySep + event.Country + keySep + event.City
	f.geo.bump(geoKey, event.IPHash)
	f.geoKeys[geoKey] = [3]string{event.LinkID, event.Country, event.City}

	refKey := event.LinkID + keySep + event.ReferrerDomain
	f.referrer.bump(refKey, event.IPHash)
	f.referrerKeys[refKey] = [2]string{event.LinkID, event.ReferrerDomain}

	deviceKey := event.LinkID + keySep + event.Device + keySep + event.Browser + keySep + event.OS
	f.device.bump(deviceKey, event.IPHash)
	f.deviceKeys[deviceKey] = [4]string{event.LinkID, event.Device, event.Browser, event.OS}

	if event.UTMSource != "" || event.UTMMedium != "" || event.UTMCampaign != "" {
		utmKey := event.LinkID + keySep + event.UTMSource + keySep + event.UTMMedium + keySep + event.UTMCampaign
		f.utm.bump(utmKey, event.IPHash)
		f.utmKeys[utmKey] = [4]string{event.LinkID, event.UTMSource, event.UTMMedium, event.UTMCampaign}
	}

	for slot, value := range map[int]string{1: event.CustomParam1, 2: event.CustomParam2, 3: event.CustomParam3} {
		if value == "" {
			continue
		}
		paramKey := event.LinkID + keySep + value
		f.param[slot].bump(paramKey, event.IPHash)
		f.paramKeys[slot][paramKey] = [2]string{event.LinkID, value}
	}
}

// rollup materializes the fold into replace-ready aggregate rows.
func (f *dayFold) rollup() *rollups.DayRollup {
	out := &rollups.DayRollup{Date: f.date}

	for linkID, cell := range f.daily {
		out.Daily = append(out.Daily, rollups.DailyAggregate{
			LinkID: linkID, Date: f.date,
			Clicks: cell.clicks, UniqueVisitors: cell.uniques(),
		})
	}
	for key, cell := range f.geo {
		parts := f.geoKeys[key]
		out.Geo = append(out.Geo, rollups.GeoAggregate{
			LinkID: parts[0], Date: f.date, Country: parts[1], City: parts[2],
			Clicks: cell.clicks, UniqueVisitors: cell.uniques(),
		})
	}
	for key, cell := range f.referrer {
		parts := f.referrerKeys[key]
		out.Referrer = append(out.Referrer, rollups.ReferrerAggregate{
			LinkID: parts[0], Date: f.date, ReferrerDomain: parts[1],
			Clicks: cell.clicks, UniqueVisitors: cell.uniques(),
		})
	}
	for key, cell := range f.device {
		parts := f.deviceKeys[key]
		out.Device = append(out.Device, rollups.DeviceAggregate{
			LinkID: parts[0], Date: f.date, Device: parts[1], Browser: parts[2], OS: parts[3],
			Clicks: cell.clicks, UniqueVisitors: cell.uniques(),
		})
	}
	for key, cell := range f.utm {
		parts := f.utmKeys[key]
		out.UTM = append(out.UTM, rollups.UTMAggregate{
			LinkID: parts[0], Date: f.date, UTMSource: parts[1], UTMMedium: parts[2], UTMCampaign: parts[3],
			Clicks: cell.clicks, UniqueVisitors: cell.uniques(),
		})
	}
	for slot := 1; slot <= 3; slot++ {
		for key, cell := range f.param[slot] {
			parts := f.paramKeys[slot][key]
			out.CustomParam = append(out.CustomParam, rollups.CustomParamAggregate{
				LinkID: parts[0], Date: f.date, Slot: slot, ParamValue: parts[1],
				Clicks: cell.clicks, UniqueVisitors: cell.uniques(),
			})
		}
	}
	return out
}
