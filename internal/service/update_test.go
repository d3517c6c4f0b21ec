package service

import (
	"context"
	"errors"
	"testing"

	"SalesSync/internal/apperr"
	"SalesSync/internal/config"
	"SalesSync/internal/lock"
	"SalesSync/internal/model"
	"SalesSync/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testTheme = "Продажи СТН (auto) от "

type fakeSource struct {
	report *model.Report
	err    error
}

func (f *fakeSource) Fetch(_ context.Context, keyword string) (*model.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fakeArchive struct {
	keys []string
}

func (f *fakeArchive) Store(_ context.Context, key string, _ []byte) error {
	f.keys = append(f.keys, key)
	return nil
}

func salesReport(subject string, unit string) *model.Report {
	return &model.Report{
		Subject:  subject,
		Filename: "sales.xlsx",
		Blob:     []byte("xlsx"),
		Table: model.RawTable{
			{"Отчет по продажам"},
			reportHeader,
			{"01.03.2024"},
			dataRow("C1", "P1", "Иванов", "2"),
			dataRow("C1", "P1", "Иванов", "3"),
			dataRow("C1", "P1", "Иванов", "5"),
			dataRow("C2", "P2", "Петров", "1"),
			{"01.04.2024"},
			{"C1", "ООО C1", "", "", "", "P3", "", "Ремень P3", "", unit, "Иванов", "4", "0", "0"},
		},
	}
}

type coordinatorFixture struct {
	db          *gorm.DB
	source      *fakeSource
	archive     *fakeArchive
	lock        *lock.LocalLock
	coordinator *UpdateCoordinator
}

func newCoordinatorFixture(t *testing.T, report *model.Report) *coordinatorFixture {
	t.Helper()
	db := newServiceDB(t)
	logger, _ := test.NewNullLogger()
	f := &coordinatorFixture{
		db:      db,
		source:  &fakeSource{report: report},
		archive: &fakeArchive{},
		lock:    lock.NewLocalLock(),
	}
	refs := repository.NewReferenceRepository(db)
	f.coordinator = NewUpdateCoordinator(UpdateDeps{
		Source:     f.source,
		Normalizer: NewReportNormalizer(config.DefaultReport(), logger),
		Engine:     newTestEngine(db, &fakeCleaner{regions: map[string]string{"г Москва, ул Тверская, д 1": "Москва"}}),
		References: refs,
		Sales:      repository.NewSalesRepository(db),
		Watermark:  repository.NewWatermarkRepository(db),
		Runs:       repository.NewRunRepository(db),
		Lock:       f.lock,
		Archive:    f.archive,
	}, config.SyncConfig{SkipUnchanged: true}, logger)
	return f
}

func (f *coordinatorFixture) watermark(t *testing.T) string {
	wm, err := repository.NewWatermarkRepository(f.db).Get(context.Background())
	require.NoError(t, err)
	return wm
}

func (f *coordinatorFixture) lastRun(t *testing.T) *model.UpdateRun {
	runs, err := repository.NewRunRepository(f.db).List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}

func TestRunAppliesReportAndAdvancesWatermark(t *testing.T) {
	f := newCoordinatorFixture(t, salesReport(testTheme+"01.04.2024 07:30:00", "шт"))
	ctx := context.Background()

	manual := model.Sale{
		Year: 2024, Month: 3, Type: "Факт", ClientCode: "C9", ProductCode: "P9", Manager: "Иванов",
		Quantity: decimal.NewFromInt(99), Comment: "ручная правка",
	}
	require.NoError(t, f.db.Create(&manual).Error)

	summary, err := f.coordinator.Run(ctx, testTheme, RunOptions{})
	require.NoError(t, err)
	assert.False(t, summary.Skipped)
	assert.Equal(t, "01.04.2024 07:30:00", summary.Watermark)
	assert.Equal(t, 2, summary.NewClients)
	assert.Equal(t, 3, summary.NewProducts)
	assert.Equal(t, 3, summary.FactRows)
	assert.Equal(t, []model.Period{{Year: 2024, Month: 3}, {Year: 2024, Month: 4}}, summary.Periods)
	assert.Equal(t, "01.04.2024 07:30:00", f.watermark(t))
	assert.Equal(t, []string{"reports/2024-04-01_07-30-00/sales.xlsx"}, f.archive.keys)

	var aggregated model.Sale
	require.NoError(t, f.db.Where("client_code = ? AND product_code = ? AND month = 3", "C1", "P1").Take(&aggregated).Error)
	assert.True(t, decimal.NewFromInt(10).Equal(aggregated.Quantity))
	assert.Equal(t, model.CommentNone, aggregated.Comment)

	var kept model.Sale
	require.NoError(t, f.db.Where("client_code = ?", "C9").Take(&kept).Error)
	assert.Equal(t, "ручная правка", kept.Comment)

	run := f.lastRun(t)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
	assert.NotNil(t, run.FinishedAt)

	// 同一份报表再次入库：维度不重复，事实窗口整体替换
	summary, err = f.coordinator.Run(ctx, testTheme, RunOptions{Force: true})
	require.NoError(t, err)
	assert.Zero(t, summary.NewClients)
	assert.Zero(t, summary.NewProducts)
	assert.Equal(t, 3, summary.FactRows)

	var total int64
	require.NoError(t, f.db.Model(&model.Sale{}).Count(&total).Error)
	assert.EqualValues(t, 4, total)
}

func TestRunSkipsUnchangedWatermark(t *testing.T) {
	f := newCoordinatorFixture(t, salesReport(testTheme+"01.04.2024 07:30", "шт"))
	ctx := context.Background()

	_, err := f.coordinator.Run(ctx, testTheme, RunOptions{})
	require.NoError(t, err)

	summary, err := f.coordinator.Run(ctx, testTheme, RunOptions{})
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Zero(t, summary.FactRows)
	assert.Equal(t, model.RunStatusSkipped, f.lastRun(t).Status)
	assert.Len(t, f.archive.keys, 1)
}

func TestRunUnknownUnitKeepsWatermark(t *testing.T) {
	f := newCoordinatorFixture(t, salesReport(testTheme+"01.04.2024 07:30:00", "бухта"))
	ctx := context.Background()
	require.NoError(t, repository.NewWatermarkRepository(f.db).Set(ctx, "31.03.2024 07:30:00"))

	_, err := f.coordinator.Run(ctx, testTheme, RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrUnknownUnit))
	assert.Equal(t, "31.03.2024 07:30:00", f.watermark(t))

	// 客户已提交，商品与事实未写入
	var clients, products, sales int64
	require.NoError(t, f.db.Model(&model.Client{}).Count(&clients).Error)
	require.NoError(t, f.db.Model(&model.Product{}).Where("code IN ?", []string{"P1", "P2", "P3"}).Count(&products).Error)
	require.NoError(t, f.db.Model(&model.Sale{}).Count(&sales).Error)
	assert.EqualValues(t, 2, clients)
	assert.Zero(t, products)
	assert.Zero(t, sales)

	run := f.lastRun(t)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "бухта")
}

func TestRunAbortsBeforeWrites(t *testing.T) {
	cases := map[string]struct {
		report *model.Report
		err    error
		is     error
	}{
		"source not found": {err: apperr.ErrSourceNotFound, is: apperr.ErrSourceNotFound},
		"subject without timestamp": {
			report: salesReport(testTheme+"вчера", "шт"),
			is:     apperr.ErrMalformedReport,
		},
		"table without header": {
			report: &model.Report{Subject: testTheme + "01.04.2024 07:30:00", Table: model.RawTable{{"пусто"}}},
			is:     apperr.ErrMalformedReport,
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			f := newCoordinatorFixture(t, c.report)
			f.source.err = c.err

			_, err := f.coordinator.Run(context.Background(), testTheme, RunOptions{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, c.is))
			assert.True(t, apperr.IsAbortBeforeWrite(err))

			var clients int64
			require.NoError(t, f.db.Model(&model.Client{}).Count(&clients).Error)
			assert.Zero(t, clients)
			assert.Empty(t, f.watermark(t))
		})
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newCoordinatorFixture(t, salesReport(testTheme+"01.04.2024 07:30:00", "шт"))
	release, err := f.lock.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = f.coordinator.Run(context.Background(), testTheme, RunOptions{})
	assert.ErrorIs(t, err, apperr.ErrRunInProgress)
	assert.Empty(t, f.watermark(t))
}

func TestParseWatermark(t *testing.T) {
	raw, ts, err := ParseWatermark("Fwd: "+testTheme+" 01.03.2024 07:30:15 ", testTheme)
	require.NoError(t, err)
	assert.Equal(t, "01.03.2024 07:30:15", raw)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, 15, ts.Second())

	raw, _, err = ParseWatermark(testTheme+"01.03.2024 07:30", testTheme)
	require.NoError(t, err)
	assert.Equal(t, "01.03.2024 07:30", raw)

	for _, subject := range []string{"Другая тема 01.03.2024 07:30", testTheme, testTheme + "2024-03-01"} {
		_, _, err := ParseWatermark(subject, testTheme)
		assert.ErrorIs(t, err, apperr.ErrMalformedReport, subject)
	}
}
