package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/covid-loader/internal/model"
	"github.com/sells-group/covid-loader/internal/notify"
	"github.com/sells-group/covid-loader/internal/store"
)

// sliceSource is an in-memory RecordSource.
type sliceSource struct {
	header []string
	recs   [][]string
	next   int
	err    error
}

func (s *sliceSource) Header() []string { return s.header }

func (s *sliceSource) Next() ([]string, error) {
	if s.next >= len(s.recs) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	s.next++
	return s.recs[s.next-1], nil
}

func csvSource(t *testing.T, text string) *sliceSource {
	t.Helper()
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(text)))
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, all)
	return &sliceSource{header: all[0], recs: all[1:]}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

type harness struct {
	st       *store.SQLiteStore
	loader   *Loader
	logs     *observer.ObservedLogs
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "covid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	core, logs := observer.New(zapcore.DebugLevel)
	n := &recordingNotifier{}
	return &harness{
		st:       st,
		loader:   New(st, WithLogger(zap.New(core)), WithNotifier(n)),
		logs:     logs,
		notifier: n,
	}
}

func (h *harness) load(t *testing.T, text, fname string, opts Options) *model.LoadSummary {
	t.Helper()
	sum, err := h.loader.Load(context.Background(), csvSource(t, text), fname, opts)
	require.NoError(t, err)
	require.NotNil(t, sum)
	return sum
}

// facts returns every stored fact. Scrape ids are small in tests.
func (h *harness) facts(t *testing.T) []model.Fact {
	t.Helper()
	var out []model.Fact
	for id := int64(1); id <= 50; id++ {
		fs, err := h.st.ListFacts(context.Background(), id)
		require.NoError(t, err)
		out = append(out, fs...)
	}
	return out
}

func byAttr(facts []model.Fact) map[string]string {
	m := make(map[string]string, len(facts))
	for _, f := range facts {
		m[f.Attr] = f.Value
	}
	return m
}

func TestLoad_AgeGroupMismatch(t *testing.T) {
	h := newHarness(t)
	sum := h.load(t, `
access_time,state,url,age_range,cases,age_cases
2020-04-01 10:00,NY,http://ny.gov/covid,0-9,10,3
2020-04-01 10:00,NY,http://ny.gov/covid,10-19,12,4
`, "ny.csv", Options{})

	assert.Equal(t, 2, sum.RowsRead)
	assert.Equal(t, 2, sum.RowsLoaded)
	assert.Equal(t, 1, sum.Mismatches)
	assert.Equal(t, 3, sum.FactsWritten)

	got := byAttr(h.facts(t))
	assert.Equal(t, map[string]string{
		"age_0-9_cases":   "3",
		"age_10-19_cases": "4",
		"cases":           "10",
	}, got)

	mismatch := h.logs.FilterMessage("non-repeating simple attribute in group")
	require.Equal(t, 1, mismatch.Len())
	assert.Equal(t, int64(1), mismatch.All()[0].ContextMap()["row"])

	ctx := context.Background()
	ds, err := h.st.GetDataset(ctx, "US^NY:COVID19")
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.Equal(t, "US^NY", ds.VendorID)

	g, err := h.st.GetGeoUnit(ctx, "US^NY")
	require.NoError(t, err)
	require.NotNil(t, g)
}

func TestLoad_StructuredUpdatedDate(t *testing.T) {
	h := newHarness(t)
	h.load(t, `
access_time,state,url,updated,cases
2020-04-05 08:00,NY,http://ny.gov/covid,"{'year': 2020, 'month': 4, 'day': 1}",10
2020-04-05 08:00,NJ,http://ny.gov/covid,,7
`, "dates.csv", Options{})

	facts := h.facts(t)
	require.Len(t, facts, 2)
	for _, f := range facts {
		assert.Equal(t, "2020-04-01", f.ValidTime.Format("2006-01-02"), "%s carries the previous date", f.GeoUnitID)
	}
}

func TestLoad_Percent(t *testing.T) {
	h := newHarness(t)
	sum := h.load(t, `
access_time,state,county,url,cases,percent
2020-04-01,NY,Kings,http://x,5,Yes
2020-04-01,NY,Queens,http://x,6,no
2020-04-01,NY,Bronx,http://x,7,
`, "pct.csv", Options{})

	facts := h.facts(t)
	require.Len(t, facts, 3)
	keys := map[string]string{}
	for _, f := range facts {
		keys[f.GeoUnitID] = f.Attr
	}
	assert.Equal(t, "cases_percent", keys["US^NY^KINGS"])
	assert.Equal(t, "cases", keys["US^NY^QUEENS"])
	assert.Equal(t, "cases", keys["US^NY^BRONX"])
	assert.Equal(t, 1, h.logs.FilterMessage("'percent' is neither yes nor empty").Len())
	assert.GreaterOrEqual(t, sum.Warnings, 1)

	a, err := h.st.GetAttribute(context.Background(), "US^NY:COVID19", "cases_percent")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "%", a.Meta["type"])
}

func TestLoad_Modes(t *testing.T) {
	h := newHarness(t)
	const data = `
access_time,state,url,cases,deaths
2020-04-01,NY,http://x,10,1
2020-04-01,NJ,http://x,20,2
`
	ctx := context.Background()
	first := h.load(t, data, "daily.csv", Options{Mode: model.ModeAppend})
	assert.Equal(t, 4, first.FactsWritten)

	again := h.load(t, data, "daily.csv", Options{Mode: model.ModeNew})
	assert.True(t, again.AlreadyLoaded)
	assert.Zero(t, again.RowsRead)
	n, err := h.st.CountFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	replaced := h.load(t, data, "daily.csv", Options{Mode: model.ModeReplace})
	assert.Equal(t, int64(4), replaced.FactsDeleted)
	assert.Equal(t, int64(1), replaced.ScrapesDeleted)
	n, err = h.st.CountFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	h.load(t, data, "daily.csv", Options{Mode: model.ModeAppend})
	n, err = h.st.CountFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n, "append reuses the scrape and duplicates facts")

	fresh := h.load(t, data, "other.csv", Options{Mode: model.ModeNew})
	assert.False(t, fresh.AlreadyLoaded)
}

func TestLoad_MissingMandatoryColumn(t *testing.T) {
	h := newHarness(t)
	sum, err := h.loader.Load(context.Background(), csvSource(t, `
access_time,county,url,cases
2020-04-01,Kings,http://x,10
`), "broken.csv", Options{})

	var fatal *FatalFileError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "state", fatal.Column)
	assert.Contains(t, err.Error(), `column "state" not found in broken.csv`)
	require.NotNil(t, sum)
	assert.Zero(t, sum.RowsRead)

	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, notify.AlertStructuralFailure, h.notifier.alerts[0].Type)

	runs, err := h.st.ListLoads(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.LoadStatusFailed, runs[0].Status)
}

func TestLoad_MissingOptionalColumns(t *testing.T) {
	h := newHarness(t)
	sum := h.load(t, `
access_time,state,url,cases,resolution,page,pending,quarantined,percent,county,other_value,region,no_longer_monitored
2020-04-01,NY,http://x,10,state,,,,,,,,
`, "full.csv", Options{})
	assert.Empty(t, sum.MissingColumns)

	sum = h.load(t, `
access_time,state,url,cases
2020-04-01,NY,http://x,10
`, "thin.csv", Options{})
	assert.Contains(t, sum.MissingColumns, "county")
	assert.Contains(t, sum.MissingColumns, "other_value")
}

func TestLoad_RowLevelSkips(t *testing.T) {
	h := newHarness(t)
	sum := h.load(t, `
access_time,state,url,cases
2020-04-01,NY,http://x,10
,,,
,NY,http://x,5
2020-04-01,NY,,5
garbage,NY,http://x,5
2020-04-02,NY,http://x,11
`, "skips.csv", Options{})

	assert.Equal(t, 6, sum.RowsRead)
	assert.Equal(t, 2, sum.RowsLoaded)
	assert.Equal(t, 4, sum.RowsSkipped)
	assert.Equal(t, 2, sum.FactsWritten)
	assert.Equal(t, 1, h.logs.FilterMessage("empty row skipped").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("empty 'access_time', row skipped").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("missing URL, row skipped").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("unparseable 'access_time', row skipped").Len())
}

func TestLoad_Ranges(t *testing.T) {
	h := newHarness(t)
	rs, err := ParseRanges("1-2")
	require.NoError(t, err)

	sum := h.load(t, `
access_time,state,url,cases
2020-04-01,NY,http://x,1
2020-04-01,NJ,http://x,2
2020-04-01,CT,http://x,3
2020-04-01,PA,http://x,4
2020-04-01,MA,http://x,5
`, "ranged.csv", Options{Ranges: rs})

	assert.Equal(t, 4, sum.RowsRead, "reading stops after the last range")
	assert.Equal(t, 2, sum.RowsLoaded)
	assert.Equal(t, 2, sum.RowsSkipped)

	got := map[string]string{}
	for _, f := range h.facts(t) {
		got[f.GeoUnitID] = f.Value
	}
	assert.Equal(t, map[string]string{"US^NJ": "2", "US^CT": "3"}, got)
}

func TestLoad_AgeSex(t *testing.T) {
	h := newHarness(t)
	sum := h.load(t, `
access_time,state,url,age_range,sex,sex_cases,cases
2020-04-01,NY,http://x,0-9,Male,4,10
2020-04-01,NY,http://x,0-9,Female,6,10
`, "agesex.csv", Options{})

	assert.Zero(t, sum.Mismatches)
	assert.Equal(t, map[string]string{
		"age_0-9_male_cases":   "4",
		"age_0-9_female_cases": "6",
		"age_0-9_cases":        "10",
	}, byAttr(h.facts(t)))
}

func TestLoad_AgeOtherNumeric(t *testing.T) {
	h := newHarness(t)
	sum := h.load(t, `
access_time,state,url,age_range,other,other_value,deaths
2020-04-01,NY,http://x,60+,Diabetes,12,100
2020-04-01,NY,http://x,60+,Heart Disease,8,100
`, "ageother.csv", Options{})

	assert.Zero(t, sum.Mismatches)
	facts := h.facts(t)
	assert.Equal(t, map[string]string{
		"deaths":                "100",
		"age_60+_diabetes":      "12",
		"age_60+_heart disease": "8",
	}, byAttr(facts))
	for _, f := range facts {
		if f.Attr != "deaths" {
			assert.Equal(t, "other_value", f.CSVCol)
		}
	}
}

func TestLoad_SexOtherQualifier(t *testing.T) {
	h := newHarness(t)
	h.load(t, `
access_time,state,url,sex,other,other_value,cases,deaths
2020-04-01,NY,http://x,Female,Race,Black,7,1
2020-04-01,NY,http://x,Female,Race,White,9,
`, "sexother.csv", Options{})

	assert.Equal(t, map[string]string{
		"sex_female_race_black_cases":  "7",
		"sex_female_race_black_deaths": "1",
		"sex_female_race_white_cases":  "9",
	}, byAttr(h.facts(t)))
}

func TestLoad_NoGroupOther(t *testing.T) {
	h := newHarness(t)
	sum := h.load(t, `
access_time,state,url,other,other_value,cases
2020-04-01,NY,http://x,Nursing Homes,12,
2020-04-01,NY,http://x,Setting,Prison,4
2020-04-01,NY,http://x,Orphan,,
`, "other.csv", Options{})

	assert.Equal(t, map[string]string{
		"nursing homes":        "12",
		"setting_prison_cases": "4",
	}, byAttr(h.facts(t)))
	assert.Equal(t, 1, h.logs.FilterMessage("'other' set while 'other_value' is empty").Len())
	assert.Equal(t, 3, sum.RowsLoaded)
}

func TestLoad_Hospital(t *testing.T) {
	h := newHarness(t)
	sum := h.load(t, `
access_time,state,url,other,other_value,cases
2020-04-01,NY,http://x,HospitalName,Mercy General,
2020-04-01,NY,http://x,beds,40,
2020-04-01,NY,http://x,icu,5,
2020-04-01,NY,http://x,HospitalName,St. Luke,
2020-04-01,NY,http://x,beds,30,
`, "hospitals.csv", Options{})

	assert.Equal(t, 5, sum.RowsLoaded)
	assert.Equal(t, 3, sum.FactsWritten)
	assert.Zero(t, sum.Mismatches)

	got := map[string]string{}
	for _, f := range h.facts(t) {
		got[f.GeoUnitID+"|"+f.Attr] = f.Value
	}
	assert.Equal(t, map[string]string{
		"US^NY$MERCY GENERAL|beds": "40",
		"US^NY$MERCY GENERAL|icu":  "5",
		"US^NY$ST. LUKE|beds":      "30",
	}, got)

	g, err := h.st.GetGeoUnit(context.Background(), "US^NY$ST. LUKE")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, ResolutionHospital, g.Resolution)
}

func TestLoad_ProviderVendor(t *testing.T) {
	h := newHarness(t)
	h.load(t, `
access_time,provider,state,url,cases
2020-04-01,state,NY,http://x,1
2020-04-01,cdc,NY,http://cdc,2
`, "mixed.csv", Options{})

	ctx := context.Background()
	p, err := h.st.GetProvider(ctx, "cdc")
	require.NoError(t, err)
	require.NotNil(t, p)

	ds, err := h.st.GetDataset(ctx, "cdc")
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.Equal(t, "cdc", ds.VendorID)

	ds, err = h.st.GetDataset(ctx, "US^NY:COVID19")
	require.NoError(t, err)
	require.NotNil(t, ds)
}

func TestLoad_DryRun(t *testing.T) {
	h := newHarness(t)
	sum := h.load(t, `
access_time,state,url,cases
2020-04-01,NY,http://x,1
`, "dry.csv", Options{DryRun: true})

	assert.True(t, sum.DryRun)
	assert.Empty(t, h.facts(t))
	runs, err := h.st.ListLoads(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLoad_RecordsCompletion(t *testing.T) {
	h := newHarness(t)
	h.load(t, `
access_time,state,url,cases
2020-04-01,NY,http://x,1
`, "done.csv", Options{})

	runs, err := h.st.ListLoads(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.LoadStatusComplete, runs[0].Status)
	require.NotNil(t, runs[0].Summary)
	assert.Equal(t, 1, runs[0].Summary.FactsWritten)
}

func TestLoad_ReadError(t *testing.T) {
	h := newHarness(t)
	src := csvSource(t, `
access_time,state,url,cases
2020-04-01,NY,http://x,1
`)
	src.err = errors.New("disk on fire")

	sum, err := h.loader.Load(context.Background(), src, "bad.csv", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, 1, sum.FactsWritten, "rows before the failure stand")
	assert.Empty(t, h.notifier.alerts)
}

func TestLoad_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.loader.Load(ctx, csvSource(t, `
access_time,state,url,cases
2020-04-01,NY,http://x,1
`), "cancel.csv", Options{})
	require.Error(t, err)
}

func TestLoad_UnknownGroupAlerts(t *testing.T) {
	h := newHarness(t)
	r := &run{l: h.loader, file: "f.csv", log: h.loader.log, sum: &model.LoadSummary{}}
	x := &extraction{r: r, st: State{group: Group(99)}, rowNo: 4}

	err := x.run(context.Background())
	var bug *UnknownGroupError
	require.ErrorAs(t, err, &bug)
	assert.Equal(t, 4, bug.Row)

	h.loader.alert(context.Background(), err, r.sum)
	require.Len(t, h.notifier.alerts, 1)
	assert.Equal(t, notify.AlertLoaderBug, h.notifier.alerts[0].Type)
}

func TestLoadAll(t *testing.T) {
	h := newHarness(t)
	inputs := []Input{
		{Name: "a.csv", Source: csvSource(t, "access_time,state,url,cases\n2020-04-01,NY,http://a,1")},
		{Name: "b.csv", Source: csvSource(t, "access_time,county,url,cases\n2020-04-01,Kings,http://b,2")},
		{Name: "c.csv", Source: csvSource(t, "access_time,state,url,cases\n2020-04-01,NJ,http://c,3")},
	}

	sums, err := h.loader.LoadAll(context.Background(), inputs, Options{}, 3)
	require.Error(t, err)
	var fatal *FatalFileError
	assert.ErrorAs(t, err, &fatal)

	require.Len(t, sums, 3)
	assert.Equal(t, "a.csv", sums[0].File)
	assert.Equal(t, 1, sums[0].FactsWritten)
	assert.NotEmpty(t, sums[1].Error)
	assert.Equal(t, 1, sums[2].FactsWritten)

	n, err := h.st.CountFacts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
