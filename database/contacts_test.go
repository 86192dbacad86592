package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surelv/courier/internal/apierror"
	"github.com/surelv/courier/model"
)

type mockCache struct {
	data map[string]interface{}
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string]interface{})}
}

func (m *mockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *mockCache) Get(ctx context.Context, key string, data interface{}) error {
	if v, ok := m.data[key]; ok {
		switch d := data.(type) {
		case *model.Contact:
			*d = *v.(*model.Contact)
		}
		return nil
	}
	return errors.New("cache miss")
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func contactColumns() []string {
	return []string{"contact_id", "email", "email_norm", "first_name", "last_name", "is_verified", "suppressed_until", "suppression_reason", "bounce_count", "bounce_type", "bounce_subtype", "bounce_diagnostic_code", "last_bounce_at", "complaint_count", "complaint_type", "complaint_subtype", "last_complaint_at", "feedback_id", "last_email_at", "created_at", "updated_at"}
}

func contactRow(contactID, emailNorm string) []driverValue {
	now := time.Now()
	return []driverValue{contactID, emailNorm, emailNorm, "Jane", "Doe", true, nil, nil, 0, nil, nil, nil, nil, 0, nil, nil, nil, nil, nil, now, now}
}

func TestUpsertContact(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows(contactColumns()).AddRow(contactRow("cnt_1", "jane@example.com")...)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO contacts`)).
		WillReturnRows(rows)

	saved, err := ds.UpsertContact(context.Background(), &model.Contact{
		ContactID: "cnt_1",
		Email:     "Jane@Example.com",
		EmailNorm: "jane@example.com",
		FirstName: "Jane",
	})
	require.NoError(t, err)
	assert.Equal(t, "cnt_1", saved.ContactID)
	assert.Equal(t, "jane@example.com", saved.EmailNorm)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContactByEmail_ReadThroughCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	cache := newMockCache()
	ds := Datasource{Conn: db, Cache: cache}

	rows := sqlmock.NewRows(contactColumns()).AddRow(contactRow("cnt_1", "jane@example.com")...)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE email_norm = $1`)).
		WithArgs("jane@example.com").
		WillReturnRows(rows)

	ctx := context.Background()

	// first call hits the database and fills the cache
	first, err := ds.GetContactByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cnt_1", first.ContactID)

	// second call is served from cache; no further query expected
	second, err := ds.GetContactByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "cnt_1", second.ContactID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContactByEmail_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE email_norm = $1`)).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows(contactColumns()))

	_, err = ds.GetContactByEmail(context.Background(), "ghost@example.com")
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestGetContactByEmail_NormalizesRawAddress(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	// provider feedback echoes the raw address; the row is keyed by email_norm
	rows := sqlmock.NewRows(contactColumns()).AddRow(contactRow("cnt_1", "username@gmail.com")...)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE email_norm = $1`)).
		WithArgs("username@gmail.com").
		WillReturnRows(rows)

	c, err := ds.GetContactByEmail(context.Background(), "User.Name+promo@GMAIL.com")
	require.NoError(t, err)
	assert.Equal(t, "cnt_1", c.ContactID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetContactByEmail_ExtractsDisplayNameForm(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows(contactColumns()).AddRow(contactRow("cnt_1", "jane@example.com")...)
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE email_norm = $1`)).
		WithArgs("jane@example.com").
		WillReturnRows(rows)

	c, err := ds.GetContactByEmail(context.Background(), `"Jane Doe" <Jane@Example.com>`)
	require.NoError(t, err)
	assert.Equal(t, "cnt_1", c.ContactID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateContactSuppression(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	cache := newMockCache()
	ds := Datasource{Conn: db, Cache: cache}
	cache.data["contact:jane@example.com"] = &model.Contact{ContactID: "cnt_1"}

	contact := &model.Contact{
		ContactID:   "cnt_1",
		EmailNorm:   "jane@example.com",
		BounceCount: 2,
		BounceType:  "Transient",
	}
	until := time.Now().Add(30 * 24 * time.Hour)
	contact.Suppress(model.SuppressionTransientBounce, until)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE contacts`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ds.UpdateContactSuppression(context.Background(), contact))

	// cache entry must be invalidated so the next read sees the suppression
	_, stillCached := cache.data["contact:jane@example.com"]
	assert.False(t, stillCached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateContactSuppression_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE contacts`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdateContactSuppression(context.Background(), &model.Contact{ContactID: "missing"})
	require.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	require.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestUpdateContactLastEmailAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta(`SET last_email_at = $1`)).
		WithArgs(at, "cnt_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.UpdateContactLastEmailAt(context.Background(), "cnt_1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}
