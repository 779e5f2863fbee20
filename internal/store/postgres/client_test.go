package postgres

import "testing"

func TestDSNFromFields(t *testing.T) {
	got := DSN(ClientConfig{
		Host:     "db.internal",
		Port:     5433,
		Database: "polycopy",
		User:     "svc",
		Password: "pw",
		SSLMode:  "require",
	})
	want := "postgres://svc:pw@db.internal:5433/polycopy?sslmode=require"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDSNDefaults(t *testing.T) {
	got := DSN(ClientConfig{Host: "localhost", Database: "polycopy", User: "u"})
	want := "postgres://u:@localhost:5432/polycopy?sslmode=disable"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDSNExplicitWins(t *testing.T) {
	explicit := "postgres://other:pw@elsewhere:6432/db"
	got := DSN(ClientConfig{DSN: explicit, Host: "ignored"})
	if got != explicit {
		t.Fatalf("explicit DSN must win, got %q", got)
	}
}
