package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowsResolvesHeterogeneousColumns(t *testing.T) {
	rows := []map[string]any{
		{
			"Application ID": "T-1",
			"Department":     "Revenue",
			"Service Name":   "Mutation",
			"Post":           "Clerk",
			"Zone":           7,
			"Days Rested":    "4.5",
			"Remarks":        "Documents verified",
			"Remark By":      "Asha",
		},
		{
			"Application ID": "T-1",
			"Department":     "Revenue",
			"Service Name":   "Mutation",
			"Post":           "Officer",
			"Zone":           7,
			"Days Rested":    12,
			"Remarks":        "Approved",
			"Remark By":      "Ravi",
		},
	}

	steps := Rows(rows)
	require.Len(t, steps, 2)

	assert.Equal(t, "T-1", steps[0].TicketID)
	assert.Equal(t, "Revenue", steps[0].OrgUnit)
	assert.Equal(t, "Mutation", steps[0].Service)
	assert.Equal(t, "Clerk", steps[0].Role)
	assert.Equal(t, "7", steps[0].Zone)
	assert.InDelta(t, 4.5, steps[0].DaysRested, 1e-9)
	assert.Equal(t, "Asha", steps[0].RemarkBy)
	assert.Equal(t, 0, steps[0].Seq)
	assert.Equal(t, 1, steps[1].Seq)
	assert.InDelta(t, 12, steps[1].DaysRested, 1e-9)
	assert.Equal(t, "4.5", steps[0].Raw["Days Rested"])
}

func TestRecordsDefaultsMalformedValues(t *testing.T) {
	header := []string{"ticket_id", "days_rested", "application_date", "delivery_date"}
	records := [][]string{
		{"", "not-a-number", "garbage", ""},
		{"T-2", "", "2024-01-01", "2024-01-11"},
		{"T-3", "-4"},
	}

	steps := Records(header, records)
	require.Len(t, steps, 3)

	assert.Equal(t, "UNKNOWN-1", steps[0].TicketID)
	assert.Zero(t, steps[0].DaysRested)
	assert.True(t, steps[0].AppliedAt.IsZero())
	assert.False(t, steps[0].Delivered())

	assert.InDelta(t, 10, steps[1].DaysRested, 1e-9, "days derived from dates")
	require.True(t, steps[1].Delivered())
	assert.Equal(t, time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), *steps[1].DeliveredAt)

	assert.Zero(t, steps[2].DaysRested, "negative durations clamp to zero")
}

func TestParseDateLayouts(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"05/03/2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"05-03-2024 10:30", time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)},
		{"", time.Time{}},
		{"yesterday", time.Time{}},
	}
	for _, tt := range tests {
		if got := parseDate(tt.in); !got.Equal(tt.want) {
			t.Fatalf("parseDate(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestColumnKey(t *testing.T) {
	assert.Equal(t, "daysrested", columnKey("Days_Rested "))
	assert.Equal(t, "daysrested", columnKey("DAYS-RESTED"))
}

func TestKnownColumns(t *testing.T) {
	for _, c := range []string{"Application ID", "days_rested", "REMARK BY", "Zone Name"} {
		assert.True(t, Known(c), c)
	}
	for _, c := range []string{"Fee Status", "Ward Office", ""} {
		assert.False(t, Known(c), c)
	}
}
