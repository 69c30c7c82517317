package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckVersionCompatibility(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{name: "absent version tolerated", version: "", wantErr: false},
		{name: "same version", version: "1.2.0", wantErr: false},
		{name: "same major newer minor", version: "1.9.3", wantErr: false},
		{name: "same major older minor", version: "1.0", wantErr: false},
		{name: "newer major rejected", version: "2.0.0", wantErr: true},
		{name: "older major rejected", version: "0.9.0", wantErr: true},
		{name: "garbage rejected", version: "not-a-version", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkVersionCompatibility(tt.version)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIncompatibleVersion)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
