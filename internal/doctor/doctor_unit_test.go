package doctor

import (
	"testing"
)

func TestParseMajorMinor(t *testing.T) {
	tests := []struct {
		name      string
		ver       string
		wantMajor int
		wantMinor int
		wantErr   bool
	}{
		{"major.minor", "3.12", 3, 12, false},
		{"with patch", "3.9.18", 3, 9, false},
		{"release candidate", "3.13.0rc1", 3, 13, false},
		{"trailing newline", "3.11.4\n", 3, 11, false},
		{"no dot", "3", 0, 0, true},
		{"empty", "", 0, 0, true},
		{"bad major", "py.11", 0, 0, true},
		{"bad minor", "3.x", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			major, minor, err := parseMajorMinor(tt.ver)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMajorMinor(%q) = (%d,%d,nil); want error", tt.ver, major, minor)
				}

				return
			}

			if err != nil {
				t.Fatalf("parseMajorMinor(%q) error: %v", tt.ver, err)
			}

			if major != tt.wantMajor || minor != tt.wantMinor {
				t.Fatalf("parseMajorMinor(%q) = (%d,%d); want (%d,%d)",
					tt.ver, major, minor, tt.wantMajor, tt.wantMinor)
			}
		})
	}
}

func TestCheckPythonVersion(t *testing.T) {
	tests := []struct {
		ver     string
		wantErr bool
	}{
		{"3.9.0", false},
		{"3.11.4", false},
		{"3.13.1", false},
		{"3.8.18", true},
		{"3.14.0", true},
		{"2.7.18", true},
		{"4.0.0", true},
		{"unknown", true},
	}

	for _, tt := range tests {
		t.Run(tt.ver, func(t *testing.T) {
			err := checkPythonVersion(tt.ver)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkPythonVersion(%q) = %v; wantErr=%v", tt.ver, err, tt.wantErr)
			}
		})
	}
}
