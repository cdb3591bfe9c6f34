package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pterm/pterm"
)

func TestFormatClock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0:00:00"},
		{59.6, "0:01:00"},
		{360, "0:06:00"},
		{3725, "1:02:05"},
		{-5, "0:00:00"},
		{36000, "10:00:00"},
	}
	for _, tt := range tests {
		if got := formatClock(tt.in); got != tt.want {
			t.Fatalf("formatClock(%v)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegionFlags(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p, f bool
		want string
	}{
		{false, false, "-"},
		{true, false, "P"},
		{false, true, "F"},
		{true, true, "PF"},
	}
	for _, tt := range tests {
		if got := regionFlags(tt.p, tt.f); got != tt.want {
			t.Fatalf("regionFlags(%v,%v)=%q want %q", tt.p, tt.f, got, tt.want)
		}
	}
}

func TestRenderTable(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	var buf bytes.Buffer
	err := renderTable(&buf, pterm.TableData{
		{"REGION", "MINOR", "MAJOR"},
		{"lazarus", "0:06:00", "0:12:00"},
	})
	if err != nil {
		t.Fatalf("renderTable: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) < 2 {
		t.Fatalf("want header and a row, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "REGION") || !strings.Contains(lines[len(lines)-1], "lazarus") {
		t.Fatalf("unexpected table %q", buf.String())
	}
	if strings.Index(lines[0], "MINOR") != strings.Index(lines[len(lines)-1], "0:06:00") {
		t.Fatalf("columns not aligned: %q", buf.String())
	}
}
