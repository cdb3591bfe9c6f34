package nsapi

import (
	"net/url"
	"strconv"
	"strings"
)

const apiPath = "/cgi-bin/api.cgi"

type DumpKind string

const (
	DumpNations DumpKind = "nations"
	DumpRegions DumpKind = "regions"
)

// Region tags resolved at ingest.
const (
	TagPassword    = "password"
	TagFounderless = "founderless"
)

// HappeningsTarget requests update-change events strictly after since.
func HappeningsTarget(since int64) string {
	return apiPath + "?q=happenings;filter=change;sincetime=" + strconv.FormatInt(since, 10)
}

func RegionsByTagTarget(tags ...string) string {
	return apiPath + "?q=regionsbytag;tags=" + strings.Join(tags, ",")
}

// SendTGTarget is the telegram API call. Arguments are query-escaped.
func SendTGTarget(client, tgid, key, to string) string {
	q := []string{
		"a=sendTG",
		"client=" + url.QueryEscape(client),
		"tgid=" + url.QueryEscape(tgid),
		"key=" + url.QueryEscape(key),
		"to=" + url.QueryEscape(to),
	}
	return apiPath + "?" + strings.Join(q, "&")
}

// DumpTarget is the daily gzip dump for kind.
func DumpTarget(kind DumpKind) string {
	return "/pages/" + string(kind) + ".xml.gz"
}
