package session_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mfigueiredo/go-auth-client/session"
)

func activeSession() *session.Session {
	return &session.Session{
		ID:           "session-1",
		UserID:       42,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		StartedAt:    time.Now(),
	}
}

func TestActive(t *testing.T) {
	var nilSession *session.Session
	require.False(t, nilSession.Active())

	sess := activeSession()
	require.True(t, sess.Active())

	ended := activeSession()
	ended.End(time.Now())
	require.False(t, ended.Active())

	require.False(t, (&session.Session{ID: "s", AccessToken: "a"}).Active())
	require.False(t, (&session.Session{ID: "s", RefreshToken: "r"}).Active())
}

func TestUpdateTokens(t *testing.T) {
	sess := activeSession()
	expiry := time.Now().Add(15 * time.Minute)

	sess.UpdateTokens("access-2", "refresh-2", &expiry)
	require.Equal(t, "access-2", sess.AccessToken)
	require.Equal(t, "refresh-2", sess.RefreshToken)
	require.Equal(t, &expiry, sess.AccessExpiresAt)

	// An empty rotation keeps the current refresh token.
	sess.UpdateTokens("access-3", "", nil)
	require.Equal(t, "access-3", sess.AccessToken)
	require.Equal(t, "refresh-2", sess.RefreshToken)
	require.Nil(t, sess.AccessExpiresAt)
}

func TestUpdateUserSyncsTenant(t *testing.T) {
	sess := activeSession()
	sess.UpdateUser(&session.User{ID: 7, Name: "Jane Doe", CompanyID: "tenant-1"})

	require.Equal(t, int64(7), sess.UserID)
	require.Equal(t, "tenant-1", sess.TenantID)

	// A snapshot without a company leaves the selection alone.
	sess.UpdateUser(&session.User{ID: 7, Name: "Jane Doe"})
	require.Equal(t, "tenant-1", sess.TenantID)

	sess.UpdateUser(nil)
	require.Equal(t, int64(7), sess.UserID)
}

func TestSwitchTenantKeepsSnapshotInSync(t *testing.T) {
	sess := activeSession()
	sess.UpdateUser(&session.User{ID: 7, CompanyID: "tenant-1"})

	sess.SwitchTenant("tenant-2")
	require.Equal(t, "tenant-2", sess.TenantID)
	require.Equal(t, "tenant-2", sess.User.CompanyID)

	// A later profile refresh carrying the synced company id must not revert
	// the switch.
	sess.UpdateUser(&session.User{ID: 7, CompanyID: "tenant-2"})
	require.Equal(t, "tenant-2", sess.TenantID)
}

func TestTokensAndTenantGetters(t *testing.T) {
	sess := activeSession()
	sess.SwitchTenant("tenant-1")

	access, refresh := sess.Tokens()
	require.Equal(t, "access-1", access)
	require.Equal(t, "refresh-1", refresh)
	require.Equal(t, "tenant-1", sess.Tenant())
}

// A current session is shared between caller goroutines, the transport and
// the background refresh timer; mixed reads and writes must be safe under the
// race detector.
func TestConcurrentReadersAndWriters(t *testing.T) {
	sess := activeSession()
	sess.UpdateUser(&session.User{ID: 42, CompanyID: "tenant-1"})

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			sess.UpdateTokens(fmt.Sprintf("access-%d", i), fmt.Sprintf("refresh-%d", i), nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			sess.SwitchTenant("tenant-2")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_, _ = sess.Tokens()
			_ = sess.Tenant()
			_ = sess.Active()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_, err := sess.Encode()
			require.NoError(t, err)
		}
	}()
	wg.Wait()

	require.True(t, sess.Active())
	require.Equal(t, "tenant-2", sess.Tenant())
}

func TestEnd(t *testing.T) {
	sess := activeSession()
	now := time.Now()
	sess.End(now)
	require.NotNil(t, sess.EndedAt)
	require.True(t, sess.EndedAt.Equal(now))
	require.False(t, sess.Active())
}
