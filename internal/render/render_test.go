package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/lherron/fieldsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, FormatTable)

	updates := []domain.QueuedUpdate{{
		ID:            "0b0e7c1e-1111-4a4a-9c9c-000000000001",
		TargetID:      "C1",
		MilestoneName: "Install",
		Value:         domain.PercentValue(60),
		CreatedAt:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		RetryCount:    2,
	}}
	require.NoError(t, r.Render(updates, UpdateHeaders, UpdateRows(updates)))

	want := "" +
		"ID        COMPONENT  MILESTONE  VALUE  CREATED               RETRIES  LAST ERROR\n" +
		"--------  ---------  ---------  -----  --------------------  -------  ----------\n" +
		"0b0e7c1e  C1         Install    60     2026-03-01T09:00:00Z  2        \n"
	assert.Equal(t, want, buf.String())
}

func TestRender_EmptyTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, FormatTable).Render(nil, UpdateHeaders, nil))
	assert.Empty(t, buf.String())
}

func TestRender_Structured(t *testing.T) {
	data := map[string]interface{}{"status": "idle", "pending": 2}

	var js bytes.Buffer
	require.NoError(t, NewRenderer(&js, FormatJSON).Render(data, nil, nil))
	assert.JSONEq(t, `{"status":"idle","pending":2}`, js.String())

	var ym bytes.Buffer
	require.NoError(t, NewRenderer(&ym, FormatYAML).Render(data, nil, nil))
	assert.Equal(t, "pending: 2\nstatus: idle\n", ym.String())

	var tsv bytes.Buffer
	require.NoError(t, NewRenderer(&tsv, FormatTSV).Render(data, []string{"A", "B"}, [][]string{{"1", "2"}}))
	assert.Equal(t, "A\tB\n1\t2\n", tsv.String())
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "65.00%", Percent(65))
	assert.Equal(t, "33.67%", Percent(33.666))
	assert.Equal(t, "-", Timestamp(time.Time{}))
	assert.Equal(t, "abc", ShortID("abc"))
}
