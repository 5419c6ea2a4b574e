package registration_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	commonmetrics "registration-service/common/metrics"
	"registration-service/internal/metrics"
	"registration-service/internal/registration"
	"registration-service/internal/storage"
	"registration-service/testing/testdb"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// barrier releases callers once n of them have arrived, or after a timeout
// so a broken test cannot hang forever.
type barrier struct {
	mu      sync.Mutex
	waiting int
	n       int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, release: make(chan struct{})}
}

func (b *barrier) wait() {
	b.mu.Lock()
	b.waiting++
	if b.waiting == b.n {
		close(b.release)
	}
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-time.After(5 * time.Second):
	}
}

func TestRegistrationPostgres(t *testing.T) {
	pg := testdb.SetupSharedPostgres(t)
	defer pg.Cleanup(t)

	pg.RunMigrations(t, (*registration.Registration)(nil))

	repo := registration.NewRepository(pg.DB, commonmetrics.NewMock())
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		testdb.CleanupTables(t, pg.DB, "registrations")

		r := &registration.Registration{
			Name: "Asha Patil", Email: "asha@example.com", StudentID: "S1", Branch: "IT",
			Year: 2, Division: "B", RollNo: 7, TransactionID: "T1", ScreenshotFilename: "a.png",
		}
		require.NoError(t, repo.Create(ctx, r))
		assert.Equal(t, int64(1), r.ID)
		assert.False(t, r.CreatedAt.IsZero())

		got, err := repo.GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, "T1", got.TransactionID)

		_, err = repo.GetByID(ctx, 42)
		assert.ErrorIs(t, err, registration.ErrRegistrationNotFound)
	})

	t.Run("UniqueConstraintConflict", func(t *testing.T) {
		testdb.CleanupTables(t, pg.DB, "registrations")

		first := &registration.Registration{
			Name: "A", Email: "a@example.com", StudentID: "S1", Branch: "IT",
			Year: 1, Division: "A", RollNo: 1, TransactionID: "T1", ScreenshotFilename: "a.png",
		}
		require.NoError(t, repo.Create(ctx, first))

		tests := []struct {
			name  string
			row   registration.Registration
			field string
		}{
			{"email", registration.Registration{Email: "a@example.com", StudentID: "S2", TransactionID: "T2"}, "email"},
			{"student_id", registration.Registration{Email: "b@example.com", StudentID: "S1", TransactionID: "T2"}, "student_id"},
			{"transaction_id", registration.Registration{Email: "b@example.com", StudentID: "S2", TransactionID: "T1"}, "transaction_id"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				row := tt.row
				row.Name, row.Branch, row.Division, row.ScreenshotFilename = "B", "IT", "A", "b.png"
				row.Year, row.RollNo = 1, 2

				err := repo.Create(ctx, &row)

				var regErr *registration.Error
				require.ErrorAs(t, err, &regErr)
				assert.Equal(t, registration.KindConflict, regErr.Kind)
				assert.Equal(t, []string{tt.field}, regErr.Fields)
				assert.Equal(t, "registrations_"+tt.field+"_key", regErr.Detail)
			})
		}

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("FindConflicts", func(t *testing.T) {
		testdb.CleanupTables(t, pg.DB, "registrations")

		for _, r := range []*registration.Registration{
			{Name: "A", Email: "a@example.com", StudentID: "S1", Branch: "IT", Year: 1, Division: "A", RollNo: 1, TransactionID: "T1", ScreenshotFilename: "a.png"},
			{Name: "B", Email: "b@example.com", StudentID: "S2", Branch: "IT", Year: 1, Division: "A", RollNo: 2, TransactionID: "T2", ScreenshotFilename: "b.png"},
		} {
			require.NoError(t, repo.Create(ctx, r))
		}

		found, err := repo.FindConflicts(ctx, "a@example.com", "S2", "T9")
		require.NoError(t, err)
		assert.Len(t, found, 2)

		found, err = repo.FindConflicts(ctx, "new@example.com", "S9", "T9")
		require.NoError(t, err)
		assert.Empty(t, found)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "T1", all[0].TransactionID)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		testdb.CleanupTables(t, pg.DB, "registrations")

		err := repo.RunInTx(ctx, func(ctx context.Context, tx registration.Repository) error {
			require.NoError(t, tx.Create(ctx, &registration.Registration{
				Name: "A", Email: "a@example.com", StudentID: "S1", Branch: "IT",
				Year: 1, Division: "A", RollNo: 1, TransactionID: "T1", ScreenshotFilename: "a.png",
			}))
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("ConcurrentDuplicateTransaction", func(t *testing.T) {
		testdb.CleanupTables(t, pg.DB, "registrations")

		fs := afero.NewMemMapFs()
		store, err := storage.NewFileStore(fs, "/uploads")
		require.NoError(t, err)

		// Both submissions pass the pre-check before either inserts, so the
		// unique index decides the winner.
		gate := newBarrier(2)
		service := registration.NewService(repo, store, discardLogger(), metrics.NewMock(),
			registration.WithNameGenerator(func(original string) (string, error) {
				gate.wait()
				return storage.GenerateName(original)
			}),
		)
		handler := registration.NewHandler(service, store, discardLogger(), metrics.NewMock(), 10<<20)
		router := chi.NewRouter()
		handler.RegisterRoutes(router)

		forms := []formFields{registrationForm("1"), registrationForm("2")}
		forms[1]["transaction_id"] = "T1"

		requests := make([]*http.Request, len(forms))
		for i, form := range forms {
			body, contentType := multipartBody(t, form, "payment.png", pngBytes)
			requests[i] = httptest.NewRequest(http.MethodPost, "/register/", body)
			requests[i].Header.Set("Content-Type", contentType)
		}

		codes := make([]int, len(requests))
		var wg sync.WaitGroup
		for i, req := range requests {
			wg.Add(1)
			go func(i int, req *http.Request) {
				defer wg.Done()
				w := httptest.NewRecorder()
				router.ServeHTTP(w, req)
				codes[i] = w.Code
			}(i, req)
		}
		wg.Wait()

		assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusConflict}, codes)

		count, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
