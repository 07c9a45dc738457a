package controller

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq int64

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:controllertest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.PageConnection{},
		&models.Sheet{},
		&models.Customer{},
		&models.CallRequest{},
	))
	return db
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := models.User{Email: email, IsActive: true}
	require.NoError(t, user.SetPassword("test-password"))
	require.NoError(t, db.Create(&user).Error)
	return &user
}

// stubMeta is a canned Graph API for webhook tests.
type stubMeta struct {
	lead    *utils.MetaLead
	leadErr error
	page    *utils.MetaObject
	form    *utils.MetaObject
	ad      *utils.MetaAdDetail
	adErr   error
}

func (s *stubMeta) FetchLead(leadID, accessToken string) (*utils.MetaLead, error) {
	return s.lead, s.leadErr
}

func (s *stubMeta) FetchPage(pageID, accessToken string) (*utils.MetaObject, error) {
	return s.page, nil
}

func (s *stubMeta) FetchForm(formID, accessToken string) (*utils.MetaObject, error) {
	return s.form, nil
}

func (s *stubMeta) FetchAd(adID, accessToken string) (*utils.MetaAdDetail, error) {
	return s.ad, s.adErr
}

// fakeBridge records writes and serves canned reads.
type fakeBridge struct {
	mu         sync.Mutex
	tabs       []utils.TabInfo
	fetchData  *utils.RangeData
	fetchErr   error
	writeErr   error
	writtenURL string
	writtenTab string
	written    [][]string
	writes     int
}

func (f *fakeBridge) ValidateAccess(sheetURL string) ([]utils.TabInfo, error) {
	return f.tabs, nil
}

func (f *fakeBridge) FetchRange(sheetURL, tab string, fromRow, toRow int) (*utils.RangeData, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchData, nil
}

func (f *fakeBridge) WriteRange(sheetURL, tab string, data [][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writtenURL = sheetURL
	f.writtenTab = tab
	f.written = data
	f.writes++
	return nil
}

func (f *fakeBridge) lastWrite() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

// fakeConn stands in for a mobile websocket connection.
type fakeConn struct {
	mu       sync.Mutex
	messages []interface{}
	writeErr error
	closed   bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.messages = append(f.messages, v)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) received() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]interface{}(nil), f.messages...)
}
