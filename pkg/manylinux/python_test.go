package manylinux

import (
	"errors"
	"testing"
)

func TestParsePythonVersion(t *testing.T) {
	tests := []struct {
		input     string
		want      PythonVersion
		short     string
		long      string
		flavoured string
		wantErr   error
	}{
		{
			input:     "3.11.4",
			want:      PythonVersion{Major: 3, Minor: 11, Patch: "4"},
			short:     "3.11",
			long:      "3.11.4",
			flavoured: "3.11",
		},
		{
			input:     "3.13.0-nogil",
			want:      PythonVersion{Major: 3, Minor: 13, Patch: "0", Flavour: "t"},
			short:     "3.13",
			long:      "3.13.0",
			flavoured: "3.13t",
		},
		{
			input:     "2.7.18-ucs2",
			want:      PythonVersion{Major: 2, Minor: 7, Patch: "18", Flavour: "m"},
			short:     "2.7",
			long:      "2.7.18",
			flavoured: "2.7",
		},
		{
			input:     "2.7.18-ucs4",
			want:      PythonVersion{Major: 2, Minor: 7, Patch: "18", Flavour: "mu"},
			short:     "2.7",
			long:      "2.7.18",
			flavoured: "2.7",
		},
		{
			input:     "3.14.0rc1",
			want:      PythonVersion{Major: 3, Minor: 14, Patch: "0rc1"},
			short:     "3.14",
			long:      "3.14.0rc1",
			flavoured: "3.14",
		},
		{input: "3.11.4-debug", wantErr: ErrUnsupportedFlavour},
		{input: "3.11", wantErr: ErrInvalidVersion},
		{input: "x.11.4", wantErr: ErrInvalidVersion},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePythonVersion(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePythonVersion failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			if got.Short() != tt.short {
				t.Errorf("Short() = %q, want %q", got.Short(), tt.short)
			}
			if got.Long() != tt.long {
				t.Errorf("Long() = %q, want %q", got.Long(), tt.long)
			}
			if got.Flavoured() != tt.flavoured {
				t.Errorf("Flavoured() = %q, want %q", got.Flavoured(), tt.flavoured)
			}
		})
	}
}

func TestParseInstallation(t *testing.T) {
	impl, version, err := ParseInstallation("cpython-3.12.1")
	if err != nil {
		t.Fatalf("ParseInstallation failed: %v", err)
	}
	if impl != CPython {
		t.Errorf("impl = %q, want %q", impl, CPython)
	}
	if version.Long() != "3.12.1" {
		t.Errorf("version = %q, want 3.12.1", version.Long())
	}

	if _, _, err := ParseInstallation("pypy-3.10.13"); !errors.Is(err, ErrUnsupportedImpl) {
		t.Errorf("pypy error = %v, want ErrUnsupportedImpl", err)
	}
	if _, _, err := ParseInstallation("cpython"); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("missing version error = %v, want ErrInvalidVersion", err)
	}
}
