// Package metadata defines webcam metadata records and the persistent
// cache that resolves them through an installed scraper.
package metadata

import (
	"fmt"
	"strconv"
)

// Key uniquely identifies a metadata record.
type Key struct {
	Source     string
	Identifier string
}

// String renders the key as "source/identifier".
func (k Key) String() string {
	return k.Source + "/" + k.Identifier
}

// Metadata is a snapshot of what one source knows about one webcam.
// Optional descriptive fields are nil when the source did not report them.
type Metadata struct {
	Source       string  `json:"source" msgpack:"source"`
	Identifier   string  `json:"identifier" msgpack:"identifier"`
	LivestillURL string  `json:"livestill_url" msgpack:"livestill_url"`
	IsLive       bool    `json:"is_live" msgpack:"is_live"`
	Facility     *string `json:"facility,omitempty" msgpack:"facility,omitempty"`
	City         *string `json:"city,omitempty" msgpack:"city,omitempty"`
	Country      *string `json:"country,omitempty" msgpack:"country,omitempty"`
	Region       *string `json:"region,omitempty" msgpack:"region,omitempty"`
	Brand        *string `json:"brand,omitempty" msgpack:"brand,omitempty"`
	Coordinates  *string `json:"coordinates,omitempty" msgpack:"coordinates,omitempty"`
}

// Key returns the cache key for the record.
func (m Metadata) Key() Key {
	return Key{Source: m.Source, Identifier: m.Identifier}
}

// NotLive builds the record cached when a source could not be reached.
func NotLive(source, identifier string) Metadata {
	return Metadata{Source: source, Identifier: identifier}
}

// Clone returns a deep copy so cached records can't be changed through
// the optional field pointers.
func (m Metadata) Clone() Metadata {
	out := m
	out.Facility = cloneString(m.Facility)
	out.City = cloneString(m.City)
	out.Country = cloneString(m.Country)
	out.Region = cloneString(m.Region)
	out.Brand = cloneString(m.Brand)
	out.Coordinates = cloneString(m.Coordinates)
	return out
}

// Equal reports whether two records carry the same values.
func (m Metadata) Equal(o Metadata) bool {
	return m.Source == o.Source &&
		m.Identifier == o.Identifier &&
		m.LivestillURL == o.LivestillURL &&
		m.IsLive == o.IsLive &&
		equalString(m.Facility, o.Facility) &&
		equalString(m.City, o.City) &&
		equalString(m.Country, o.Country) &&
		equalString(m.Region, o.Region) &&
		equalString(m.Brand, o.Brand) &&
		equalString(m.Coordinates, o.Coordinates)
}

// Status renders "LIVE" or "down" for listings.
func (m Metadata) Status() string {
	if m.IsLive {
		return "LIVE"
	}
	return "down"
}

// String formats the record the way list-metadata prints it.
func (m Metadata) String() string {
	return fmt.Sprintf("%s %s (%s): %s", m.Source, PaddedIdentifier(m.Identifier), m.Status(), m.LivestillURL)
}

// PaddedIdentifier zero-pads numeric identifiers to eight digits. Other
// identifiers are returned unchanged.
func PaddedIdentifier(identifier string) string {
	n, err := strconv.ParseUint(identifier, 10, 64)
	if err != nil {
		return identifier
	}
	return fmt.Sprintf("%08d", n)
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// less orders records by source, then numerically by identifier when both
// identifiers are numbers.
func less(a, b Metadata) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	ai, aErr := strconv.ParseUint(a.Identifier, 10, 64)
	bi, bErr := strconv.ParseUint(b.Identifier, 10, 64)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a.Identifier < b.Identifier
}
