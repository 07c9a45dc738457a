package controller

import (
	"testing"
	"time"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterWritesHeaderAndRowsInPositionOrder(t *testing.T) {
	sc, bridge, user := newSyncFixture(t)
	sheet := createSheetWith(t, sc, models.Sheet{
		UserID:         user.ID,
		Name:           "Export Me",
		LinkedSheetURL: "https://bridge.example/sheet",
		LinkedTabName:  "Leads",
	},
		models.Customer{Name: "Second", Phone: "+15550002", Position: 1},
		models.Customer{Name: "First", Phone: "+15550001", Position: 0},
	)

	rows, err := sc.Exporter.Export(sheet, []string{"name", "phone"})
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	written := bridge.lastWrite()
	require.Len(t, written, 3)
	assert.Equal(t, []string{"name", "phone"}, written[0])
	assert.Equal(t, "First", written[1][0])
	assert.Equal(t, "Second", written[2][0])
}

func TestExporterFallsBackThroughPlaceholderName(t *testing.T) {
	sc, bridge, user := newSyncFixture(t)
	sheet := createSheetWith(t, sc, models.Sheet{
		UserID:         user.ID,
		Name:           "Fallback",
		LinkedSheetURL: "https://bridge.example/sheet",
	},
		models.Customer{
			Name:  models.PlaceholderName,
			Phone: models.PlaceholderPhone,
			ExtraFields: models.FieldMap{
				"full_name":      "Jane Doe",
				"Contact Number": "+15550100",
			},
			Position: 0,
		},
	)

	_, err := sc.Exporter.Export(sheet, []string{"name", "phone"})
	require.NoError(t, err)

	written := bridge.lastWrite()
	require.Len(t, written, 2)
	assert.Equal(t, "Jane Doe", written[1][0], "placeholder name resolves from raw answers")
	assert.Equal(t, "+15550100", written[1][1], "placeholder phone resolves from raw answers")
}

func TestExporterDefaultsFieldListFromSheet(t *testing.T) {
	sc, bridge, user := newSyncFixture(t)
	sheet := createSheetWith(t, sc, models.Sheet{
		UserID:         user.ID,
		Name:           "Defaults",
		LinkedSheetURL: "https://bridge.example/sheet",
		DynamicFields:  models.StringList{"budget", "city"},
	},
		models.Customer{Name: "Alice", ExtraFields: models.FieldMap{"budget": "10k", "city": "Berlin"}},
	)

	_, err := sc.Exporter.Export(sheet, nil)
	require.NoError(t, err)

	written := bridge.lastWrite()
	require.Len(t, written, 2)
	assert.Equal(t, []string{"budget", "city"}, written[0])
	assert.Equal(t, []string{"10k", "Berlin"}, written[1])
}

func TestExporterRequiresLinkedSheet(t *testing.T) {
	sc, _, user := newSyncFixture(t)
	sheet := createSheetWith(t, sc, models.Sheet{UserID: user.ID, Name: "Unlinked"})

	_, err := sc.Exporter.Export(sheet, nil)
	assert.Error(t, err)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestTriggerRealtimeSyncExportsWhenEnabled(t *testing.T) {
	sc, bridge, user := newSyncFixture(t)
	sheet := createSheetWith(t, sc, models.Sheet{
		UserID:         user.ID,
		Name:           "Live",
		LinkedSheetURL: "https://bridge.example/sheet",
		RealtimeSync:   true,
	},
		models.Customer{Name: "Alice", Phone: "+15550001"},
	)

	TriggerRealtimeSync(sc.DB, sc.Exporter, sheet.ID)

	ok := waitFor(t, 2*time.Second, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return bridge.writes > 0
	})
	assert.True(t, ok, "export should fire for a realtime-synced sheet")
}

func TestTriggerRealtimeSyncSkipsWhenDisabled(t *testing.T) {
	sc, bridge, user := newSyncFixture(t)
	sheet := createSheetWith(t, sc, models.Sheet{
		UserID:         user.ID,
		Name:           "Static",
		LinkedSheetURL: "https://bridge.example/sheet",
		RealtimeSync:   false,
	})

	TriggerRealtimeSync(sc.DB, sc.Exporter, sheet.ID)

	time.Sleep(50 * time.Millisecond)
	bridge.mu.Lock()
	defer bridge.mu.Unlock()
	assert.Zero(t, bridge.writes)
}

func TestExportFieldListPrecedence(t *testing.T) {
	sheet := &models.Sheet{
		ExportFields:  models.StringList{"name"},
		DynamicFields: models.StringList{"budget"},
	}

	assert.Equal(t, []string{"phone"}, utils.ExportFieldList(sheet, []string{"phone"}))
	assert.Equal(t, []string{"name"}, utils.ExportFieldList(sheet, nil))

	sheet.ExportFields = nil
	assert.Equal(t, []string{"budget"}, utils.ExportFieldList(sheet, nil))

	sheet.DynamicFields = nil
	assert.Equal(t, []string{"name", "phone"}, utils.ExportFieldList(sheet, nil))
}
