package nsapi

import (
	"context"
	"encoding/xml"
	"strings"
	"time"

	"tagtimer/internal/dispatch"
	"tagtimer/internal/storage"
)

// World is the <WORLD> shard response. Only the shards tagtimer requests
// are mapped.
type World struct {
	XMLName    xml.Name `xml:"WORLD"`
	Happenings []Event  `xml:"HAPPENINGS>EVENT"`
	Regions    string   `xml:"REGIONS"`
	NumNations int      `xml:"NUMNATIONS"`
	NumRegions int      `xml:"NUMREGIONS"`
}

// Event is one world happening. Newest events come first.
type Event struct {
	ID        int64  `xml:"id,attr"`
	Timestamp int64  `xml:"TIMESTAMP"`
	Text      string `xml:"TEXT"`
}

func (e Event) Time() time.Time { return time.Unix(e.Timestamp, 0) }

// RegionNames splits the comma-separated REGIONS shard into normalized names.
func (w World) RegionNames() []string {
	return SplitNames(w.Regions, ",")
}

// SplitNames splits a delimited name list and normalizes every entry.
func SplitNames(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if n := storage.NormalizeName(p); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Await waits for t and decodes its XML payload into T.
func Await[T any](ctx context.Context, t *dispatch.Ticket, timeout time.Duration) (T, error) {
	return dispatch.AwaitDecoded[T](ctx, t, timeout, xml.Unmarshal)
}
