// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package geoip populates the data plane's GeoIP LPM from a MaxMind database.
package geoip

import (
	"encoding/binary"

	"github.com/oschwald/maxminddb-golang"

	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/errors"
	"grimm.is/breakwater/internal/logging"
	"grimm.is/breakwater/internal/maps"
)

// record is the slice of a GeoLite2-Country entry we care about.
type record struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// LoadMMDB walks every IPv4 network in the database and inserts its country
// into the LPM. IPv6-only networks are skipped. Returns the number of
// prefixes inserted.
func LoadMMDB(path string, lpm *maps.LPM[types.GeoIPEntry], logger *logging.Logger) (int, error) {
	if logger == nil {
		logger = logging.WithComponent("geoip")
	}

	db, err := maxminddb.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindUnavailable, "open geoip database %s", path)
	}
	defer db.Close()

	inserted := 0
	networks := db.Networks(maxminddb.SkipAliasedNetworks)
	for networks.Next() {
		var rec record
		ipnet, err := networks.Network(&rec)
		if err != nil {
			return inserted, errors.Wrap(err, errors.KindInternal, "walk geoip database")
		}
		v4 := ipnet.IP.To4()
		if v4 == nil || len(rec.Country.ISOCode) != 2 {
			continue
		}
		ones, bits := ipnet.Mask.Size()
		if bits == 128 {
			// Mapped v4 network inside a v6 tree.
			if ones < 96 {
				continue
			}
			ones -= 96
		}
		lpm.Insert(binary.BigEndian.Uint32(v4), uint32(ones), types.GeoIPEntry{
			Country: types.PackCountry(rec.Country.ISOCode),
			Action:  types.CountryActionPass,
		})
		inserted++
	}
	if err := networks.Err(); err != nil {
		return inserted, errors.Wrap(err, errors.KindInternal, "walk geoip database")
	}

	logger.Info("GeoIP database loaded", "path", path, "prefixes", inserted)
	return inserted, nil
}
