package worlddata

import (
	"fmt"
	"math"
	"time"

	"tagtimer/internal/nsapi"
	"tagtimer/internal/storage"
)

func readNations(p string) ([]storage.Nation, error) {
	rc, err := nsapi.OpenDump(p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []storage.Nation
	err = nsapi.ReadNations(rc, func(index int, n nsapi.DumpNation) error {
		out = append(out, storage.Nation{Name: n.Name, Index: index, Region: n.Region})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("worlddata: %s: %w", p, err)
	}
	return out, nil
}

func readRegions(p string) ([]storage.Region, error) {
	rc, err := nsapi.OpenDump(p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out []storage.Region
	err = nsapi.ReadRegions(rc, func(r nsapi.DumpRegion) error {
		out = append(out, storage.Region{
			Name:          r.Name,
			FirstNation:   r.FirstNation(),
			NumNations:    r.NumNations,
			Delegate:      r.Delegate,
			Founder:       r.Founder,
			DelegateVotes: r.DelegateVotes,
			LastUpdate:    unixFloat(r.LastUpdate),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("worlddata: %s: %w", p, err)
	}
	return out, nil
}

func unixFloat(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9))
}
