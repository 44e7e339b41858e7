package services

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/forestry-sandbox/licensing-backend/v1/models"
	"github.com/forestry-sandbox/licensing-backend/v1/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// MockFileStorage delegates to an in-memory storage unless a hook is set
type MockFileStorage struct {
	Inner      *storage.MemoryFileStorage
	StoreFunc  func(ctx context.Context, fileName string, content []byte, dir string, overwrite bool) (string, error)
	GetFunc    func(ctx context.Context, location string) ([]byte, error)
	RemoveFunc func(ctx context.Context, location string) error
}

func NewMockFileStorage() *MockFileStorage {
	return &MockFileStorage{Inner: storage.NewMemoryFileStorage()}
}

func (m *MockFileStorage) Store(ctx context.Context, fileName string, content []byte, dir string, overwrite bool) (string, error) {
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, fileName, content, dir, overwrite)
	}
	return m.Inner.Store(ctx, fileName, content, dir, overwrite)
}

func (m *MockFileStorage) Get(ctx context.Context, location string) ([]byte, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, location)
	}
	return m.Inner.Get(ctx, location)
}

func (m *MockFileStorage) Remove(ctx context.Context, location string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, location)
	}
	return m.Inner.Remove(ctx, location)
}

func TestAgentAuthorityService_UploadCompensation(t *testing.T) {
	t.Run("SecondStoreFails_FirstDocumentRemoved", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		fileStorage := NewMockFileStorage()
		access := NewAccessService(db)
		service := NewAgentAuthorityService(db, fileStorage, access)

		agency := createTestAgency(t, db)
		agent := createTestUser(t, db, models.AccountTypeAgent, &agency.AgencyID)
		authority := createAuthority(t, service, agency.AgencyID, agent.UserAccountID)

		calls := 0
		fileStorage.StoreFunc = func(ctx context.Context, fileName string, content []byte, dir string, overwrite bool) (string, error) {
			calls++
			if calls == 2 {
				return "", errors.New("disk full")
			}
			return fileStorage.Inner.Store(ctx, fileName, content, dir, overwrite)
		}

		_, err := service.AddAgentAuthorityForm(context.Background(), &models.AddAgentAuthorityFormRequest{
			AgentAuthorityID: authority.AgentAuthorityID,
			UploadedByUserID: agent.UserAccountID,
			Documents: []models.DocumentUpload{
				{FileName: "deed.pdf", MimeType: "application/pdf", Content: []byte("deed")},
				{FileName: "map.pdf", MimeType: "application/pdf", Content: []byte("map")},
			},
		})
		assert.True(t, models.IsErrorKind(err, models.ErrorKindStorageFailure))

		// No residual blobs and no persisted entities from the failed call.
		assert.Zero(t, fileStorage.Inner.Len())
		var count int64
		require.NoError(t, db.Model(&models.AgentAuthorityForm{}).Where("agent_authority_id = ?", authority.AgentAuthorityID).Count(&count).Error)
		assert.Zero(t, count)

		var stored models.AgentAuthority
		require.NoError(t, db.First(&stored, "agent_authority_id = ?", authority.AgentAuthorityID).Error)
		assert.Equal(t, models.AgentAuthorityStatusCreated, stored.Status)
	})

	t.Run("CompensationFailure_DoesNotOverrideOriginalError", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		fileStorage := NewMockFileStorage()
		access := NewAccessService(db)
		service := NewAgentAuthorityService(db, fileStorage, access)

		agency := createTestAgency(t, db)
		agent := createTestUser(t, db, models.AccountTypeAgent, &agency.AgencyID)
		authority := createAuthority(t, service, agency.AgencyID, agent.UserAccountID)

		calls := 0
		fileStorage.StoreFunc = func(ctx context.Context, fileName string, content []byte, dir string, overwrite bool) (string, error) {
			calls++
			if calls == 2 {
				return "", errors.New("disk full")
			}
			return fileStorage.Inner.Store(ctx, fileName, content, dir, overwrite)
		}
		fileStorage.RemoveFunc = func(ctx context.Context, location string) error {
			return errors.New("remove also failed")
		}

		_, err := service.AddAgentAuthorityForm(context.Background(), &models.AddAgentAuthorityFormRequest{
			AgentAuthorityID: authority.AgentAuthorityID,
			UploadedByUserID: agent.UserAccountID,
			Documents: []models.DocumentUpload{
				{FileName: "deed.pdf", MimeType: "application/pdf", Content: []byte("deed")},
				{FileName: "map.pdf", MimeType: "application/pdf", Content: []byte("map")},
			},
		})
		// The storage failure is reported, not the best-effort cleanup failure.
		assert.True(t, models.IsErrorKind(err, models.ErrorKindStorageFailure))
	})

	t.Run("PersistenceFails_StoredDocumentsRemoved", func(t *testing.T) {
		db := SetupSQLiteTestDB(t)
		fileStorage := NewMockFileStorage()
		access := NewAccessService(db)
		service := NewAgentAuthorityService(db, fileStorage, access)

		agency := createTestAgency(t, db)
		agent := createTestUser(t, db, models.AccountTypeAgent, &agency.AgencyID)
		authority := createAuthority(t, service, agency.AgencyID, agent.UserAccountID)

		// All stores succeed; the document insert inside the transaction fails.
		require.NoError(t, db.Exec("DROP TABLE aaf_documents").Error)

		_, err := service.AddAgentAuthorityForm(context.Background(), &models.AddAgentAuthorityFormRequest{
			AgentAuthorityID: authority.AgentAuthorityID,
			UploadedByUserID: agent.UserAccountID,
			Documents: []models.DocumentUpload{
				{FileName: "deed.pdf", MimeType: "application/pdf", Content: []byte("deed")},
				{FileName: "map.pdf", MimeType: "application/pdf", Content: []byte("map")},
			},
		})
		assert.True(t, models.IsErrorKind(err, models.ErrorKindPersistenceFailure))

		// Stored blobs are compensated and the form create is rolled back.
		assert.Zero(t, fileStorage.Inner.Len())
		var count int64
		require.NoError(t, db.Model(&models.AgentAuthorityForm{}).Where("agent_authority_id = ?", authority.AgentAuthorityID).Count(&count).Error)
		assert.Zero(t, count)

		var stored models.AgentAuthority
		require.NoError(t, db.First(&stored, "agent_authority_id = ?", authority.AgentAuthorityID).Error)
		assert.Equal(t, models.AgentAuthorityStatusCreated, stored.Status)
	})
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return gormDB, mock
}

func TestAgentAuthorityService_CheckAuthorityStatus_QueryFailure(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	service := NewAgentAuthorityService(gormDB, storage.NewMemoryFileStorage(), NewAccessService(gormDB))

	mock.ExpectQuery(`SELECT "status" FROM "agent_authorities"`).
		WillReturnError(errors.New("connection reset"))

	_, err := service.CheckAuthorityStatus(context.Background(), "agency_1", "wo_1",
		[]models.AgentAuthorityStatus{models.AgentAuthorityStatusFormUploaded})
	require.Error(t, err)
	assert.True(t, models.IsErrorKind(err, models.ErrorKindInternal))
	assert.NoError(t, mock.ExpectationsWereMet())
}
