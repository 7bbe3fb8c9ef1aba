package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"posrider/backend/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"short secret", config.Config{AuthSecret: "short", DistributionPolicy: "all_or_nothing", OpnameSurplusPolicy: "accept"}, true},
		{"unknown distribution policy", config.Config{AuthSecret: strongSecret, DistributionPolicy: "partial", OpnameSurplusPolicy: "accept"}, true},
		{"unknown surplus policy", config.Config{AuthSecret: strongSecret, DistributionPolicy: "best_effort", OpnameSurplusPolicy: "ignore"}, true},
		{"valid", config.Config{AuthSecret: strongSecret, DistributionPolicy: "best_effort", OpnameSurplusPolicy: "clamp"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
