package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitle(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		wantErr bool
	}{
		{"valid", "Weekly review", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"punctuation only", "!!! ???", true},
		{"single character", "x", false},
		{"max length", strings.Repeat("a", 500), false},
		{"over max length", strings.Repeat("a", 501), true},
		{"unicode letters", "会議の準備", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Title(tt.title)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, faults.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCategory(t *testing.T) {
	assert.NoError(t, Category("health"))
	assert.NoError(t, Category(""), "empty category means uncategorized")
	assert.Error(t, Category(strings.Repeat("x", 51)))
	assert.Error(t, Category("---"))
}

func TestPriority(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"low", "low", false},
		{"medium", "medium", false},
		{"high", "high", false},
		{"urgent", "urgent", false},
		{"HIGH", "high", false},
		{"  Urgent  ", "urgent", false},
		// Fuzzy matches
		{"critical", "urgent", false},
		{"very urgent", "urgent", false},
		{"highest", "high", false},
		{"normal", "medium", false},
		{"lowish", "low", false},
		// Rejections
		{"", "", true},
		{"banana", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Priority(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, faults.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatus(t *testing.T) {
	for _, s := range []string{"pending", "in_progress", "completed", "cancelled"} {
		assert.NoError(t, Status(s))
	}
	assert.Error(t, Status(""))
	assert.Error(t, Status("done"))
	assert.Error(t, Status("PENDING"), "statuses are stored lowercase")
}

func TestDuration(t *testing.T) {
	assert.NoError(t, Duration(30*time.Minute))
	assert.NoError(t, Duration(8*time.Hour))
	assert.Error(t, Duration(0))
	assert.Error(t, Duration(-time.Hour))
	assert.Error(t, Duration(8*time.Hour+time.Minute))
}

func TestUserID(t *testing.T) {
	assert.NoError(t, UserID("user-1"))
	assert.Error(t, UserID(""))
	assert.Error(t, UserID("  "))
}
