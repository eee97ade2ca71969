package collector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-ohlcv-archiver/internal/models"
)

func TestBuildRunReport(t *testing.T) {
	cov := models.DateRange{Start: day("2020-01-02"), End: day("2020-12-31")}
	requested := models.DateRange{Start: day("2020-01-01"), End: day("2020-12-31")}
	missing := models.DateRange{Start: day("2014-01-01"), End: day("2017-01-01")}

	outcomes := map[string]models.Outcome{
		"A": {Instrument: "A", Status: models.OutcomeSuccess, Rows: 240, Coverage: &cov},
		"B": {Instrument: "B", Status: models.OutcomeFailure, Reason: "no_data B"},
		"C": {Instrument: "C", Status: models.OutcomeSuccess, Rows: 12, Coverage: &cov, Partial: true, MissingSegments: []models.DateRange{missing}},
	}

	r := buildRunReport([]string{"C", "B", "A", "unstarted"}, outcomes, requested)

	require.Len(t, r.Success, 2)
	assert.Equal(t, "C", r.Success[0].Code)
	assert.True(t, r.Success[0].Partial)
	assert.Equal(t, []string{"2014-01-01~2017-01-01"}, r.Success[0].MissingSegments)
	assert.Equal(t, "A", r.Success[1].Code)
	assert.Equal(t, "2020-01-02~2020-12-31", r.Success[1].DateRange)

	require.Len(t, r.Failed, 1)
	assert.Equal(t, failedEntry{Code: "B", DateRange: "2020-01-01~2020-12-31", Reason: "no_data B"}, r.Failed[0])
}

func TestRunReport_WriteRemovesStaleSide(t *testing.T) {
	out := openOutput(t, t.TempDir())
	ctx := context.Background()

	first := runReport{
		Success: []successEntry{{Code: "A", Rows: 3}},
		Failed:  []failedEntry{{Code: "B", Reason: "boom"}},
	}
	require.NoError(t, first.write(ctx, out))

	raw, err := out.ReadAll(ctx, successReportKey)
	require.NoError(t, err)
	var success []successEntry
	require.NoError(t, json.Unmarshal(raw, &success))
	assert.Equal(t, first.Success, success)

	second := runReport{Success: []successEntry{{Code: "A", Rows: 4}, {Code: "B", Rows: 1}}}
	require.NoError(t, second.write(ctx, out))

	exists, err := out.Exists(ctx, failedReportKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJoinFailedReasons(t *testing.T) {
	assert.Empty(t, joinFailedReasons(nil))

	few := []failedEntry{{Code: "A", Reason: "x"}, {Code: "B", Reason: errors.New("y").Error()}}
	assert.Equal(t, "A: x; B: y", joinFailedReasons(few))

	var many []failedEntry
	for _, c := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		many = append(many, failedEntry{Code: c, Reason: "r"})
	}
	assert.Equal(t, "1: r; 2: r; 3: r; 4: r; 5: r (+2 more)", joinFailedReasons(many))
}
