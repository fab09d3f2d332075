package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewLedgerConflict_NamesHeadStage(t *testing.T) {
	key := WindowKey{TenantID: "T1", Start: day1, End: day1.Add(24 * time.Hour)}

	tests := []struct {
		name  string
		stage Stage
		want  string
	}{
		{"transformed head", StageTransformed, "window T1/2024-01-01T00:00:00Z/2024-01-02T00:00:00Z is transformed with content aaaaaaaaaaaa, refusing content bbbbbbbbbbbb"},
		{"rated head", StageRated, "is rated with content aaaaaaaaaaaa"},
		{"missing head", "", "is absent with content <empty>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headHash := "aaaaaaaaaaaaaaaa"
			if tt.stage == "" {
				headHash = ""
			}
			err := NewLedgerConflict(key, tt.stage, headHash, "bbbbbbbbbbbbbbbb")

			assert.Contains(t, err.Error(), tt.want)
			assert.NotContains(t, err.Error(), "already rated")
			assert.True(t, errors.Is(err, ErrLedgerConflict))
		})
	}
}
