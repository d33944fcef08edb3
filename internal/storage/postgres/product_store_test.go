package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
)

func sampleRecords() []crawler.ProductRecord {
	return []crawler.ProductRecord{
		{
			Title:         "Anker USB C Hub",
			URL:           crawler.Ptr("https://www.amazon.com/dp/B08N5WRWNW?tag=cyberheroes-20"),
			Price:         crawler.Ptr("29.99"),
			Rating:        crawler.Ptr(4.6),
			ReviewsCount:  crawler.Ptr(12345),
			ImageURL:      crawler.Ptr("https://m.media-amazon.com/images/I/61abc.jpg"),
			ASIN:          crawler.Ptr("B08N5WRWNW"),
			SearchKeyword: "usb hub",
		},
		{Title: "Bare listing", SearchKeyword: "usb hub"},
	}
}

func TestStoreRecordsInsertsRowsInTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProductStoreWithPool(mock, "")
	require.NoError(t, err)

	records := sampleRecords()
	mock.ExpectBegin()
	for i, rec := range records {
		mock.ExpectExec("INSERT INTO product_records").
			WithArgs(
				"job-1",
				i,
				rec.SearchKeyword,
				rec.Title,
				rec.URL,
				rec.Price,
				rec.Rating,
				rec.ReviewsCount,
				rec.ImageURL,
				rec.ASIN,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.StoreRecords(context.Background(), "job-1", records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecordsRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProductStoreWithPool(mock, "affiliate_rows")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO affiliate_rows").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err = store.StoreRecords(context.Background(), "job-1", sampleRecords())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert record 0")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRecordsSkipsEmptyInput(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProductStoreWithPool(mock, "")
	require.NoError(t, err)
	require.NoError(t, store.StoreRecords(context.Background(), "job-1", nil))
	require.Error(t, store.StoreRecords(context.Background(), "", sampleRecords()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewProductStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS product_records").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewProductStoreWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewProductStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewProductStoreWithPool(mock, "records; DROP TABLE x")
	require.Error(t, err)
}

func TestNewProductStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewProductStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewProductStore(context.Background(), Config{DSN: "::not a dsn::"})
	require.Error(t, err)
}
