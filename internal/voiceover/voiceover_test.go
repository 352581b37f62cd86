package voiceover

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		// 750 chars = 150 words = exactly one minute at 150 wpm.
		{"one minute", strings.Repeat("x", 750), 60},
		{"250 chars", strings.Repeat("x", 250), 20},
		{"short text rounds up", "hi", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := EstimateDuration(tc.text); got != tc.want {
				t.Errorf("EstimateDuration(%d chars) = %d, want %d", len(tc.text), got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Postgres repository with a mock DB
// ---------------------------------------------------------------------------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *time.Time:
			*d = v.(time.Time)
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (db *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return db.queryRowFunc(ctx, sql, args...)
}

func (db *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return db.queryFunc(ctx, sql, args...)
}

func (db *mockDB) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func TestCreate_FillsGeneratedFields(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
			if args[0] != "profile-1" || args[1] != "hello" || args[2] != "alloy" {
				t.Errorf("insert args = %v", args)
			}
			return &mockRow{scanFunc: func(dest ...any) error {
				*(dest[0].(*string)) = "rec-1"
				*(dest[1].(*time.Time)) = created
				return nil
			}}
		},
	}

	repo := NewPostgresRepository(db)
	rec := &Record{
		ProfileID:       "profile-1",
		TextInput:       "hello",
		VoiceID:         "alloy",
		AudioURL:        "https://example.com/a.mp3",
		DurationSeconds: 1,
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID != "rec-1" {
		t.Errorf("ID = %q, want rec-1", rec.ID)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, created)
	}
}

func TestCreate_WriteFailureWrapsPersistError(t *testing.T) {
	db := &mockDB{
		queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
			return &mockRow{scanFunc: func(_ ...any) error {
				return errors.New("connection reset")
			}}
		},
	}

	repo := NewPostgresRepository(db)
	err := repo.Create(context.Background(), &Record{ProfileID: "p"})
	if !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}
}

func TestCreate_RequiresProfileID(t *testing.T) {
	repo := NewPostgresRepository(&mockDB{})
	if err := repo.Create(context.Background(), &Record{}); !errors.Is(err, ErrPersistFailed) {
		t.Fatalf("err = %v, want ErrPersistFailed", err)
	}
}

func TestListRecent_NewestFirst(t *testing.T) {
	now := time.Now()
	var gotSQL string
	var gotArgs []any
	db := &mockDB{
		queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
			gotSQL = sql
			gotArgs = args
			return &mockRows{data: [][]any{
				{"rec-2", "profile-1", "second", "nova", "https://example.com/2.mp3", 2, now},
				{"rec-1", "profile-1", "first", "alloy", "https://example.com/1.mp3", 1, now.Add(-time.Hour)},
			}}, nil
		},
	}

	repo := NewPostgresRepository(db)
	recs, err := repo.ListRecent(context.Background(), "profile-1", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[0].ID != "rec-2" || recs[1].ID != "rec-1" {
		t.Errorf("order = [%s %s], want newest first", recs[0].ID, recs[1].ID)
	}
	if !strings.Contains(gotSQL, "ORDER BY created_at DESC") {
		t.Errorf("list SQL must order newest first:\n%s", gotSQL)
	}
	if gotArgs[1] != 10 {
		t.Errorf("limit arg = %v, want 10", gotArgs[1])
	}
}

func TestListRecent_DefaultLimit(t *testing.T) {
	var gotArgs []any
	db := &mockDB{
		queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
			gotArgs = args
			return &mockRows{}, nil
		},
	}

	repo := NewPostgresRepository(db)
	if _, err := repo.ListRecent(context.Background(), "profile-1", 0); err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if gotArgs[1] != 20 {
		t.Errorf("limit arg = %v, want the default 20", gotArgs[1])
	}
}
