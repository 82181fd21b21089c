package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckSupervisedLaunch(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected string
		wantErr  bool
	}{
		{name: "matching token", token: "supervised", expected: "supervised", wantErr: false},
		{name: "missing token", token: "", expected: "supervised", wantErr: true},
		{name: "mismatched token", token: "wrong", expected: "supervised", wantErr: true},
		{name: "empty expected rejects everything", token: "anything", expected: "", wantErr: true},
		{name: "both empty still refused", token: "", expected: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkSupervisedLaunch(tt.token, tt.expected)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
