package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func entryFor(hostname string, ipv4 string, port int, txt []string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{}
	e.HostName = hostname
	e.Port = port
	e.Text = txt
	if ipv4 != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ipv4)}
	}
	return e
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		ipv4     string
		want     bool
	}{
		{"antminer hostname", "Antminer-S19-Pro.local.", "192.168.1.50", true},
		{"bosminer hostname", "bosminer-0a1b2c.local.", "192.168.1.51", true},
		{"whatsminer hostname", "WhatsMiner-M30S.local.", "192.168.1.52", true},
		{"generic miner prefix", "miner42.local.", "192.168.1.53", true},
		{"printer ignored", "HP-LaserJet.local.", "192.168.1.54", false},
		{"nas ignored", "synology.local.", "192.168.1.55", false},
		{"no hostname", "", "192.168.1.56", false},
		{"no address", "Antminer-S19.local.", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := parseServiceEntry(entryFor(tt.hostname, tt.ipv4, 80, nil))
			if (c != nil) != tt.want {
				t.Fatalf("parseServiceEntry(%q) matched=%v, want %v", tt.hostname, c != nil, tt.want)
			}
			if c != nil && c.Addr != tt.ipv4 {
				t.Errorf("Addr = %s, want %s", c.Addr, tt.ipv4)
			}
		})
	}
}

func TestParseServiceEntry_Metadata(t *testing.T) {
	c := parseServiceEntry(entryFor("Antminer-S19.local.", "192.168.1.50", 80, []string{"fw=braiins-os", "flagonly"}))
	if c == nil {
		t.Fatal("entry not recognized")
	}
	if c.Metadata["fw"] != "braiins-os" {
		t.Errorf("Metadata[fw] = %q", c.Metadata["fw"])
	}
	if _, ok := c.Metadata["flagonly"]; !ok {
		t.Error("bare TXT key dropped")
	}
	if c.Port != 80 {
		t.Errorf("Port = %d, want 80", c.Port)
	}
}
