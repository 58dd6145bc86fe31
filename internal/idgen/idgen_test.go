package idgen

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestGenerators(t *testing.T) {
	tests := []struct {
		name        string
		gen         Generator
		wantVersion uuid.Version
	}{
		{"v4", NewV4(), 4},
		{"v7", NewV7(), 7},
		{"v7 without retries", NewV7(WithRetries(0)), 7},
		{"factory v4", New(V4), 4},
		{"factory v7", New(V7), 7},
		{"factory unknown falls back to v7", New(0), 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen := make(map[uuid.UUID]struct{}, 50)
			for range 50 {
				id, err := tt.gen.Generate()
				if err != nil {
					t.Fatalf("Generate() unexpected error: %v", err)
				}
				if id == uuid.Nil {
					t.Fatal("generated UUID is nil")
				}
				if id.Version() != tt.wantVersion {
					t.Fatalf("UUID version = %d, want %d", id.Version(), tt.wantVersion)
				}
				if _, dup := seen[id]; dup {
					t.Fatalf("duplicate UUID %v", id)
				}
				seen[id] = struct{}{}
			}
		})
	}
}

func TestV7_TimeOrdered(t *testing.T) {
	gen := NewV7()

	prev, err := gen.Generate()
	if err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}
	for range 100 {
		next, err := gen.Generate()
		if err != nil {
			t.Fatalf("Generate() unexpected error: %v", err)
		}
		if next.String() <= prev.String() {
			t.Fatalf("v7 ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestFunc(t *testing.T) {
	want := uuid.MustParse("0190a3b2-7c4d-7e5f-8a9b-0c1d2e3f4a5b")
	id, err := Func(func() (uuid.UUID, error) { return want, nil }).Generate()
	if err != nil || id != want {
		t.Fatalf("Func.Generate() = %v, %v; want %v, nil", id, err, want)
	}

	boom := errors.New("boom")
	if _, err := Func(func() (uuid.UUID, error) { return uuid.Nil, boom }).Generate(); !errors.Is(err, boom) {
		t.Fatalf("Func.Generate() error = %v, want %v", err, boom)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"", V7, false},
		{"v7", V7, false},
		{"7", V7, false},
		{" V4 ", V4, false},
		{"4", V4, false},
		{"v1", 0, true},
		{"snowflake", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
