package config

import "testing"

func TestDomainProfileNormalize(t *testing.T) {
	p := DomainProfile{
		Include: []string{"Example.com", "https://news.example.com", "www.example.com"},
		Exclude: []string{"bad.com", " BAD.com ", ""},
		Prefer:  []string{"b.com", "a.com", "b.com"},
	}

	norm := p.Normalize()
	if len(norm.Include) != 2 || norm.Include[0] != "example.com" || norm.Include[1] != "news.example.com" {
		t.Fatalf("unexpected include list: %#v", norm.Include)
	}
	if len(norm.Exclude) != 1 || norm.Exclude[0] != "bad.com" {
		t.Fatalf("unexpected exclude list: %#v", norm.Exclude)
	}
	if len(norm.Prefer) != 2 || norm.Prefer[0] != "b.com" {
		t.Fatalf("expected prefer order preserved, got %#v", norm.Prefer)
	}
}

func TestDomainProfileValidate(t *testing.T) {
	valid := DomainProfile{Include: []string{"example.com"}, Exclude: []string{"blocked.com"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	conflict := DomainProfile{Include: []string{"example.com"}, Exclude: []string{"www.example.com"}}
	if err := conflict.Validate(); err == nil {
		t.Fatalf("expected include/exclude conflict error")
	}
}

func TestLoadDomainProfilesDefaults(t *testing.T) {
	profiles, err := LoadDomainProfiles("")
	if err != nil {
		t.Fatalf("LoadDomainProfiles: %v", err)
	}
	for _, name := range []string{"balanced", "evidence", "market"} {
		if _, ok := profiles[name]; !ok {
			t.Fatalf("missing profile %s", name)
		}
	}
	balanced := profiles["balanced"]
	if len(balanced.Include) != 0 {
		t.Fatalf("balanced should not restrict domains, got %#v", balanced.Include)
	}
	if len(balanced.Prefer) == 0 || balanced.Prefer[0] != "meti.go.jp" {
		t.Fatalf("expected flattened prefer list, got %#v", balanced.Prefer)
	}
	if len(profiles["evidence"].Include) == 0 {
		t.Fatalf("evidence profile should include trusted domains")
	}
	market := profiles["market"]
	if len(market.Exclude) != 3 {
		t.Fatalf("market exclude list: %#v", market.Exclude)
	}
}

func TestParseDomainProfilesRejectsConflict(t *testing.T) {
	doc := []byte(`
profiles:
  broken:
    include_domains: [a.com]
    exclude_domains: [A.com]
`)
	if _, err := ParseDomainProfiles(doc); err == nil {
		t.Fatalf("expected conflict error")
	}
}
