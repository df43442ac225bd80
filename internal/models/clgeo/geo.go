package clgeo

import (
	"net/netip"

	"littlefolio/internal/models/clidentity"

	"github.com/oschwald/geoip2-golang/v2"
	"github.com/rs/zerolog/log"
)

// Location est stockée avec la vue de page. L'IP n'est jamais conservée
// en clair, seulement son hash.
type Location struct {
	IPHash  string
	Country string
	State   string
	City    string
}

// Locator résout une IP via une base MaxMind City. Un Locator nil ne
// renvoie que le hash.
type Locator struct {
	reader *geoip2.Reader
}

func Open(path string) (*Locator, error) {
	if path == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &Locator{reader: reader}, nil
}

func (l *Locator) Close() error {
	if l == nil || l.reader == nil {
		return nil
	}
	return l.reader.Close()
}

func (l *Locator) Lookup(ip string) Location {
	if ip == "" {
		return Location{}
	}
	loc := Location{IPHash: clidentity.HashString(ip)}
	if l == nil || l.reader == nil {
		return loc
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return loc
	}
	record, err := l.reader.City(addr)
	if err != nil {
		log.Debug().Err(err).Msg("geoip lookup failed")
		return loc
	}
	if !record.HasData() {
		return loc
	}

	loc.Country = record.Country.ISOCode
	loc.City = record.City.Names.English
	if len(record.Subdivisions) > 0 {
		loc.State = record.Subdivisions[0].Names.English
	}
	return loc
}
