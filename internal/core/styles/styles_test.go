package styles

import (
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"github.com/hay-kot/nudge/internal/core/notify"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		status notify.Status
		want   lipgloss.Color
	}{
		{notify.StatusPending, Default.Warning},
		{notify.StatusFired, Default.Success},
		{notify.StatusFailed, Default.Error},
		{notify.StatusCancelled, Default.Muted},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.status).GetForeground())
		})
	}
}
