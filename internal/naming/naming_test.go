package naming

import "testing"

func TestNormalizeCandidate(t *testing.T) {
	label, score, ok := NormalizeCandidate("reverse_dns", "Router.Home.ARPA.")
	if !ok {
		t.Fatalf("expected ok")
	}
	if label != "router" {
		t.Fatalf("expected first label lowercased, got %q", label)
	}
	if score < MinScore {
		t.Fatalf("expected score >= %d, got %d", MinScore, score)
	}
}

func TestNormalizeCandidate_SanitizesFriendlyNames(t *testing.T) {
	label, _, ok := NormalizeCandidate("event", "Living Room TV")
	if !ok || label != "living-room-tv" {
		t.Fatalf("expected living-room-tv, got %q ok=%v", label, ok)
	}

	label, _, ok = NormalizeCandidate("event", "printer.local")
	if !ok || label != "printer" {
		t.Fatalf("expected printer, got %q ok=%v", label, ok)
	}
	for _, tc := range []struct{ source, raw, want string }{
		{"event", "living.room.tv", "living-room-tv"},
		{"event", "Living.Lamp", "living-lamp"},
		{"snmp", "core-switch.example.com", "core-switch"},
		{"reverse_dns", "nas.lan.", "nas"},
	} {
		label, _, ok := NormalizeCandidate(tc.source, tc.raw)
		if !ok || label != tc.want {
			t.Fatalf("%s %q: expected %q, got %q ok=%v", tc.source, tc.raw, tc.want, label, ok)
		}
	}
}

func TestChoose_PrefersHigherSignal(t *testing.T) {
	got, ok := Choose([]Candidate{
		{Name: "core-switch-1", Source: SourceSNMP},
		{Name: "nas.lan.", Source: SourceReverseDNS},
	})
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Name != "nas" || got.Source != SourceReverseDNS {
		t.Fatalf("expected reverse dns to win, got %+v", got)
	}
}

func TestChoose_RejectsGarbage(t *testing.T) {
	got, ok := Choose([]Candidate{
		{Name: "4.3.2.1.in-addr.arpa", Source: SourceReverseDNS},
		{Name: "__MSBROWSE__", Source: SourceSNMP},
		{Name: "!!!", Source: SourceEvent},
		{Name: "localhost", Source: SourceSNMP},
	})
	if ok {
		t.Fatalf("expected ok=false, got %+v", got)
	}
}

func TestChoose_GenericVendorNameLoses(t *testing.T) {
	got, ok := Choose([]Candidate{
		{Name: "espressif", Source: SourceEvent},
		{Name: "garden-sensor", Source: SourceSNMP},
	})
	if !ok || got.Name != "garden-sensor" {
		t.Fatalf("expected garden-sensor, got %+v ok=%v", got, ok)
	}
}

func TestSort_UnusableLast(t *testing.T) {
	sorted := Sort([]Candidate{
		{Name: "", Source: SourceEvent},
		{Name: "b-host", Source: SourceSNMP},
		{Name: "a-host", Source: SourceReverseDNS},
	})
	if sorted[0].Name != "a-host" || sorted[1].Name != "b-host" || sorted[2].Name != "" {
		t.Fatalf("unexpected order %+v", sorted)
	}
}
