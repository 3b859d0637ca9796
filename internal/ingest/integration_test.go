package ingest_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"energo/internal/bus"
	"energo/internal/ingest"
	"energo/internal/models"
	"energo/internal/query"
	"energo/internal/repo"
	"energo/internal/tstore"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set, skipping integration test (needs TimescaleDB)")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Device{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Частичное показание: записанная колонка читается обратно, все
// остальные остаются NULL и возвращаются как NULL.
func TestIngest_PartialWrite(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tsm := tstore.NewManager(db, tstore.Options{})
	ds := repo.NewDeviceStore(db, tsm)
	coord := ingest.NewCoordinator(db, ds, bus.Noop{}, nil)
	qs := query.NewService(db, 1000, 10000)

	const id = "itest-ingest-partial"
	if _, err := ds.Create(ctx, repo.CreateInput{DeviceID: id, Name: "itest"}); err != nil {
		t.Fatalf("create device: %v", err)
	}
	t.Cleanup(func() { _ = ds.Delete(ctx, id) })

	res, err := coord.Ingest(ctx, id, ingest.Reading{Fields: map[string]float64{"p_total": 10.5}})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.ID <= 0 {
		t.Errorf("row id = %d, want positive", res.ID)
	}
	if res.Timestamp.IsZero() {
		t.Error("server timestamp not returned")
	}

	row, err := qs.Latest(ctx, id)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if got, ok := row["p_total"].(float64); !ok || got != 10.5 {
		t.Errorf("p_total = %v, want 10.5", row["p_total"])
	}
	for _, col := range []string{"ua", "freq", "pf_avg", "ep_imp"} {
		if v, present := row[col]; present && v != nil {
			t.Errorf("column %s = %v, want NULL", col, v)
		}
	}
}

// brokenPublisher всегда возвращает ошибку и отмечает, что публикацию
// вообще пытались сделать.
type brokenPublisher struct {
	attempted chan struct{}
}

func (p *brokenPublisher) Publish(_ context.Context, _ string, _ []byte) error {
	select {
	case p.attempted <- struct{}{}:
	default:
	}
	return errors.New("broker down")
}

func (p *brokenPublisher) Close() error { return nil }

// Отказ шины не влияет на приём: строка записана, результат возвращён,
// ошибка публикации остаётся в логе.
func TestIngest_PublishFailureNotPropagated(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tsm := tstore.NewManager(db, tstore.Options{})
	ds := repo.NewDeviceStore(db, tsm)
	pub := &brokenPublisher{attempted: make(chan struct{}, 1)}
	coord := ingest.NewCoordinator(db, ds, pub, nil)
	qs := query.NewService(db, 1000, 10000)

	const id = "itest-ingest-busfail"
	if _, err := ds.Create(ctx, repo.CreateInput{DeviceID: id}); err != nil {
		t.Fatalf("create device: %v", err)
	}
	t.Cleanup(func() { _ = ds.Delete(ctx, id) })

	res, err := coord.Ingest(ctx, id, ingest.Reading{Fields: map[string]float64{"p_total": 42}})
	if err != nil {
		t.Fatalf("Ingest() error = %v, want nil despite broken bus", err)
	}
	if res.ID <= 0 {
		t.Errorf("row id = %d, want positive", res.ID)
	}

	select {
	case <-pub.attempted:
	case <-time.After(5 * time.Second):
		t.Fatal("publish was never attempted")
	}

	row, err := qs.Latest(ctx, id)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if got, ok := row["p_total"].(float64); !ok || got != 42 {
		t.Errorf("p_total = %v, want 42", row["p_total"])
	}
}

// Неизвестное поле отклоняется до записи: частичных вставок не бывает.
func TestIngest_UnknownFieldNoPartialWrite(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tsm := tstore.NewManager(db, tstore.Options{})
	ds := repo.NewDeviceStore(db, tsm)
	coord := ingest.NewCoordinator(db, ds, bus.Noop{}, nil)
	qs := query.NewService(db, 1000, 10000)

	const id = "itest-ingest-reject"
	if _, err := ds.Create(ctx, repo.CreateInput{DeviceID: id}); err != nil {
		t.Fatalf("create device: %v", err)
	}
	t.Cleanup(func() { _ = ds.Delete(ctx, id) })

	_, err := coord.Ingest(ctx, id, ingest.Reading{
		Fields: map[string]float64{"p_total": 1, "bogusField": 2},
	})
	if err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := qs.Latest(ctx, id); err != query.ErrNoData {
		t.Errorf("Latest() after rejected ingest = %v, want ErrNoData", err)
	}
}

// Сводка по известной фикстуре считается одной агрегатной выборкой.
func TestStats_KnownFixture(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tsm := tstore.NewManager(db, tstore.Options{})
	ds := repo.NewDeviceStore(db, tsm)
	coord := ingest.NewCoordinator(db, ds, bus.Noop{}, nil)
	qs := query.NewService(db, 1000, 10000)

	const id = "itest-stats"
	if _, err := ds.Create(ctx, repo.CreateInput{DeviceID: id}); err != nil {
		t.Fatalf("create device: %v", err)
	}
	t.Cleanup(func() { _ = ds.Delete(ctx, id) })

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []float64{10, 20, 30} {
		ts := base.Add(time.Duration(i) * time.Minute)
		if _, err := coord.Ingest(ctx, id, ingest.Reading{
			Timestamp: &ts,
			Fields:    map[string]float64{"p_total": p},
		}); err != nil {
			t.Fatalf("ingest #%d: %v", i, err)
		}
	}

	st, err := qs.Stats(ctx, id, nil, nil)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Count != 3 {
		t.Errorf("count = %d, want 3", st.Count)
	}
	if st.AvgPower == nil || *st.AvgPower != 20 {
		t.Errorf("avg_power = %v, want 20", st.AvgPower)
	}
	if st.MinPower == nil || *st.MinPower != 10 {
		t.Errorf("min_power = %v, want 10", st.MinPower)
	}
	if st.MaxPower == nil || *st.MaxPower != 30 {
		t.Errorf("max_power = %v, want 30", st.MaxPower)
	}
	if st.FirstTimestamp == nil || !st.FirstTimestamp.Equal(base) {
		t.Errorf("first_timestamp = %v, want %v", st.FirstTimestamp, base)
	}
}
