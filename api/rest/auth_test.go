package rest_test

import (
	"net/http"
	"testing"

	"github.com/mizuhane/keygate/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestAppAuth_AccountLogin(t *testing.T) {
	env := newTestEnv(t)
	key := mintTestKey(t, env)
	require.NoError(t, env.db.Create(&model.Account{
		Username: "alice", PasswordHash: hashPassword(t, "pass1234"),
		Subscription: "pro",
	}).Error)

	w := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "alice", "password": "pass1234", "appKey": key,
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, "alice", data["username"])
	assert.Equal(t, "pro", data["subscription"])
	assert.NotEmpty(t, data["token"])
}

func TestAppAuth_InvalidAppKey(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Create(&model.Account{
		Username: "bob", PasswordHash: hashPassword(t, "pass1234"),
	}).Error)

	w := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "bob", "password": "pass1234", "appKey": "KEY-BOGUS",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid application key")
}

func TestAppAuth_DeactivatedAppKey(t *testing.T) {
	env := newTestEnv(t)
	key := mintTestKey(t, env)
	require.NoError(t, env.db.Model(&model.AppKey{}).
		Where("key = ?", key).Update("active", false).Error)

	w := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "x", "password": "y", "appKey": key,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAppAuth_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	key := mintTestKey(t, env)
	require.NoError(t, env.db.Create(&model.Account{
		Username: "carol", PasswordHash: hashPassword(t, "correct"),
	}).Error)

	w := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "carol", "password": "wrong", "appKey": key,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAppAuth_BannedAccount(t *testing.T) {
	env := newTestEnv(t)
	key := mintTestKey(t, env)
	require.NoError(t, env.db.Create(&model.Account{
		Username: "badguy", PasswordHash: hashPassword(t, "pass1234"),
		Banned: true,
	}).Error)

	w := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "badguy", "password": "pass1234", "appKey": key,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAppAuth_LicenseByMobile(t *testing.T) {
	env := newTestEnv(t)
	key := mintTestKey(t, env)
	require.NoError(t, env.db.Create(&model.License{
		LicenseKey: "LICENSE-AB12-CD34-EF56", MobileNumber: "5551234",
		Subscription: "premium", Active: true,
	}).Error)

	w := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "5551234", "password": "LICENSE-AB12-CD34-EF56", "appKey": key,
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, "5551234", data["username"])
	assert.Equal(t, "premium", data["subscription"])
}

func TestAppAuth_BindsHWID(t *testing.T) {
	env := newTestEnv(t)
	key := mintTestKey(t, env)
	require.NoError(t, env.db.Create(&model.License{
		LicenseKey: "LIC-HW1", MobileNumber: "5550001", Active: true,
	}).Error)

	w := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "5550001", "password": "LIC-HW1",
		"appKey": key, "hwid": "MACHINE-A",
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Contains(t, data["hwid"], "MACHINE-A")

	var lic model.License
	require.NoError(t, env.db.Where("license_key = ?", "LIC-HW1").First(&lic).Error)
	assert.Equal(t, []string{"MACHINE-A"}, []string(lic.HWIDs))
}

func TestAppAuth_DeviceLimit(t *testing.T) {
	env := newTestEnv(t)
	key := mintTestKey(t, env)
	// MaxDevices defaults to 1.
	require.NoError(t, env.db.Create(&model.License{
		LicenseKey: "LIC-HW2", MobileNumber: "5550002", Active: true,
	}).Error)

	w1 := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "5550002", "password": "LIC-HW2",
		"appKey": key, "hwid": "MACHINE-A",
	})
	require.Equal(t, http.StatusOK, w1.Code)

	// Same device again is a no-op and still succeeds.
	w2 := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "5550002", "password": "LIC-HW2",
		"appKey": key, "hwid": "MACHINE-A",
	})
	require.Equal(t, http.StatusOK, w2.Code)

	// A second device exceeds the limit.
	w3 := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "5550002", "password": "LIC-HW2",
		"appKey": key, "hwid": "MACHINE-B",
	})
	assert.Equal(t, http.StatusForbidden, w3.Code)
	assert.Contains(t, w3.Body.String(), "device limit")
}

func TestAppAuth_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	w := postJSON(env.router, "/api/app-auth", map[string]string{"username": "only"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSession_MeAndLogout(t *testing.T) {
	env := newTestEnv(t)
	key := mintTestKey(t, env)
	require.NoError(t, env.db.Create(&model.Account{
		Username: "session-user", PasswordHash: hashPassword(t, "pw"),
		Subscription: "pro",
	}).Error)

	w := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "session-user", "password": "pw", "appKey": key,
	})
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeData(t, w)["token"].(string)

	w2 := doJSON(env.router, http.MethodGet, "/api/me", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "session-user", decodeData(t, w2)["username"])

	w3 := postJSON(env.router, "/api/logout", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, w3.Code)

	// The session is gone even though the JWT has not expired.
	w4 := doJSON(env.router, http.MethodGet, "/api/me", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w4.Code)
}

func TestMe_NoToken(t *testing.T) {
	env := newTestEnv(t)
	w := doJSON(env.router, http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAppAuth_NoPasswordInResponse(t *testing.T) {
	env := newTestEnv(t)
	key := mintTestKey(t, env)
	require.NoError(t, env.db.Create(&model.Account{
		Username: "dave", PasswordHash: hashPassword(t, "topsecret"),
	}).Error)

	w := postJSON(env.router, "/api/app-auth", map[string]string{
		"username": "dave", "password": "topsecret", "appKey": key,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "topsecret")
	assert.NotContains(t, w.Body.String(), "password")
}
