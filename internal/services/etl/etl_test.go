package etl

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DeskCast/internal/domain/models"
	"DeskCast/internal/services/features"
	"DeskCast/pkg/util"
)

func fptr(v float64) *float64 { return &v }

func TestCategoryMapperNormalizesPath(t *testing.T) {
	m := NewCategoryMapper(nil, "")
	assert.Equal(t, "ACCESS_VPN", m.Map("  Acesso / Acesses > Acesso VPN / VPN Acess "))
	assert.Equal(t, "NETWORK_GENERAL", m.Map("REDE / NETWORK"))
	assert.Equal(t, DefaultCategory, m.Map("something new"))
	assert.Equal(t, DefaultCategory, m.Map(""))
}

func TestDefaultMappingIsComplete(t *testing.T) {
	m := DefaultMapping()
	assert.Len(t, m, 36)
	for k, v := range m {
		assert.Equal(t, k, util.NormalizeKey(k))
		assert.NotEmpty(t, v)
	}
}

func TestLoadMappingFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte("\"  Printers \": PRINT\nnetwork: NET\n"), 0o644))

	mapping, err := LoadMapping(path)
	require.NoError(t, err)
	m := NewCategoryMapper(mapping, "MISC")
	assert.Equal(t, "PRINT", m.Map("printers"))
	assert.Equal(t, "NET", m.Map("Network"))
	assert.Equal(t, "MISC", m.Map("hardware"))

	_, err = LoadMapping(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolutionHoursPrefersSeconds(t *testing.T) {
	assert.Equal(t, 2.0, *ResolutionHours(models.Ticket{TimeToResolve: fptr(7200), HoursToSolve: fptr(9)}))
	assert.Equal(t, 9.0, *ResolutionHours(models.Ticket{TimeToResolve: fptr(0), HoursToSolve: fptr(9)}))
	assert.Equal(t, 9.0, *ResolutionHours(models.Ticket{HoursToSolve: fptr(9)}))
	assert.Nil(t, ResolutionHours(models.Ticket{}))
}

func TestMedian(t *testing.T) {
	m, ok := Median([]float64{5, 1, 3})
	assert.True(t, ok)
	assert.Equal(t, 3.0, m)
	m, _ = Median([]float64{4, 1, 3, 2})
	assert.Equal(t, 2.5, m)
	_, ok = Median(nil)
	assert.False(t, ok)
}

func TestTransformAggregatesTickets(t *testing.T) {
	mon := time.Date(2025, 4, 21, 9, 30, 0, 0, time.UTC) // holiday, Monday
	tue := mon.AddDate(0, 0, 1)
	tickets := []models.Ticket{
		{ID: 1, OpenedAt: mon, CategoryPath: "Software", EntityID: 0, HoursToSolve: fptr(2)},
		{ID: 2, OpenedAt: mon.Add(3 * time.Hour), CategoryPath: "software ", EntityID: 0, TimeToResolve: fptr(14400)},
		{ID: 2, OpenedAt: tue, CategoryPath: "software", EntityID: 0, HoursToSolve: fptr(100)}, // duplicate id
		{ID: 3, OpenedAt: mon, CategoryPath: "lark", EntityID: 4},                                // median fill
		{ID: 4, OpenedAt: tue, CategoryPath: "unknown", EntityID: 0, HoursToSolve: fptr(6)},
		{ID: 5, CategoryPath: "software"}, // no date
	}
	hol := features.NewHolidays([]time.Time{time.Date(2025, 4, 21, 0, 0, 0, 0, time.UTC)})

	facts := NewTransformer(nil, hol, nil).Transform(tickets)
	require.Len(t, facts, 3)

	day := time.Date(2025, 4, 21, 0, 0, 0, 0, time.UTC)
	lark := facts[0]
	assert.Equal(t, day, lark.Date)
	assert.Equal(t, models.GroupKey{Category: "LARK_GENERAL", EntityID: 4}, lark.Group)
	assert.Equal(t, 1.0, lark.Volume)
	require.NotNil(t, lark.AvgTTRHours)
	assert.Equal(t, 4.0, *lark.AvgTTRHours) // median of 2, 4, 6
	assert.True(t, lark.IsHoliday)
	assert.Equal(t, 0, lark.DayOfWeek)

	sw := facts[1]
	assert.Equal(t, "SOFTWARE_GENERAL", sw.Group.Category)
	assert.Equal(t, 2.0, sw.Volume)
	assert.Equal(t, 3.0, *sw.AvgTTRHours)

	other := facts[2]
	assert.Equal(t, day.AddDate(0, 0, 1), other.Date)
	assert.Equal(t, DefaultCategory, other.Group.Category)
	assert.False(t, other.IsHoliday)
	assert.Equal(t, 1, other.DayOfWeek)
	assert.False(t, other.IsWeekend)
}

func TestTransformWithoutAnyResolutionTime(t *testing.T) {
	facts := NewTransformer(nil, nil, nil).Transform([]models.Ticket{
		{ID: 1, OpenedAt: time.Date(2025, 1, 4, 8, 0, 0, 0, time.UTC), CategoryPath: "lark"},
	})
	require.Len(t, facts, 1)
	assert.Nil(t, facts[0].AvgTTRHours)
	assert.True(t, facts[0].IsWeekend)
}
