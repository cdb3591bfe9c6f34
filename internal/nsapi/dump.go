package nsapi

import (
	"bufio"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DumpNation is a <NATION> entry of nations.xml. Only the fields needed for
// ordering and region membership are decoded.
type DumpNation struct {
	Name   string `xml:"NAME"`
	Region string `xml:"REGION"`
}

// DumpRegion is a <REGION> entry of regions.xml.
type DumpRegion struct {
	Name          string  `xml:"NAME"`
	NumNations    int     `xml:"NUMNATIONS"`
	Nations       string  `xml:"NATIONS"`
	Delegate      string  `xml:"DELEGATE"`
	DelegateVotes int     `xml:"DELEGATEVOTES"`
	Founder       string  `xml:"FOUNDER"`
	LastUpdate    float64 `xml:"LASTUPDATE"`
}

// FirstNation is the first listed member, which updates first.
func (r DumpRegion) FirstNation() string {
	names := SplitNames(r.Nations, ":")
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

var ErrDumpFormat = errors.New("nsapi: dump must be .xml or .xml.gz")

// OpenDump opens a local dump, decompressing .xml.gz files.
func OpenDump(path string) (io.ReadCloser, error) {
	gz := strings.HasSuffix(path, ".xml.gz")
	if !gz && !strings.HasSuffix(path, ".xml") {
		return nil, fmt.Errorf("%w: %s", ErrDumpFormat, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !gz {
		return f, nil
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("nsapi: %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.f.Close())
}

// ReadNations streams nations in dump order. fn receives the 1-based index.
func ReadNations(r io.Reader, fn func(index int, n DumpNation) error) error {
	i := 0
	return decodeEach(r, "NATION", func(d *xml.Decoder, start xml.StartElement) error {
		var n DumpNation
		if err := d.DecodeElement(&n, &start); err != nil {
			return err
		}
		i++
		return fn(i, n)
	})
}

// ReadRegions streams regions in dump order.
func ReadRegions(r io.Reader, fn func(r DumpRegion) error) error {
	return decodeEach(r, "REGION", func(d *xml.Decoder, start xml.StartElement) error {
		var reg DumpRegion
		if err := d.DecodeElement(&reg, &start); err != nil {
			return err
		}
		return fn(reg)
	})
}

// decodeEach hands every top-level <elem> to fn without loading the whole
// document. Dumps are hundreds of megabytes uncompressed.
func decodeEach(r io.Reader, elem string, fn func(*xml.Decoder, xml.StartElement) error) error {
	d := xml.NewDecoder(r)
	// Older dumps declare ISO-8859-1; names are ASCII in practice.
	d.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("nsapi: dump: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != elem {
			continue
		}
		if err := fn(d, start); err != nil {
			return err
		}
	}
}
