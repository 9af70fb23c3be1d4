package license

import (
	"context"
	"testing"
	"time"

	"github.com/mizuhane/keygate/audit"
	"github.com/mizuhane/keygate/model"
	"github.com/mizuhane/keygate/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newTestResolver(t *testing.T) (*Resolver, *gorm.DB, *audit.Service) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	auditSvc := audit.New(db, zap.NewNop())
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	return NewResolver(db, auditSvc, zap.NewNop()), db, auditSvc
}

func appMeta() Meta {
	return Meta{IP: "127.0.0.1", TraceID: "trace-test", Source: model.LoginSourceApp}
}

func TestResolve_PrimaryAccount(t *testing.T) {
	r, db, _ := newTestResolver(t)
	exp := time.Now().Add(24 * time.Hour)
	require.NoError(t, db.Create(&model.Account{
		Username:       "alice",
		PasswordHash:   hash(t, "secret1"),
		Subscription:   "pro",
		ExpiresAt:      &exp,
		HWIDs:          datatypes.NewJSONSlice([]string{"hw-1"}),
		HWIDResetCount: 2,
		MaxDevices:     3,
		LicenseKey:     "LIC-ALICE",
	}).Error)

	p, err := r.Resolve(context.Background(), "alice", "secret1", appMeta())
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "pro", p.Subscription)
	assert.Equal(t, []string{"hw-1"}, p.HWIDs)
	assert.Equal(t, 2, p.HWIDResetCount)
	assert.Equal(t, "LIC-ALICE", p.LicenseKey)
	assert.False(t, p.Banned)
}

func TestResolve_PrimaryAccountWrongPassword(t *testing.T) {
	r, db, _ := newTestResolver(t)
	require.NoError(t, db.Create(&model.Account{
		Username: "bob", PasswordHash: hash(t, "right"),
	}).Error)

	_, err := r.Resolve(context.Background(), "bob", "wrong", appMeta())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolve_BannedAccount(t *testing.T) {
	r, db, _ := newTestResolver(t)
	require.NoError(t, db.Create(&model.Account{
		Username: "mallory", PasswordHash: hash(t, "pw"), Banned: true,
	}).Error)

	_, err := r.Resolve(context.Background(), "mallory", "pw", appMeta())
	assert.ErrorIs(t, err, ErrBanned)
}

func TestResolve_MobileNumberWithLicenseKey(t *testing.T) {
	r, db, _ := newTestResolver(t)
	exp := time.Now().Add(24 * time.Hour)
	require.NoError(t, db.Create(&model.License{
		LicenseKey:   "LICENSE-AB12-CD34-EF56",
		MobileNumber: "5551234",
		Subscription: "premium",
		ExpiresAt:    &exp,
		Active:       true,
		SaveHWID:     true,
		HWIDs:        datatypes.NewJSONSlice([]string{"hw-9"}),
	}).Error)

	// No account row exists; the license alone authenticates.
	p, err := r.Resolve(context.Background(), "5551234", "LICENSE-AB12-CD34-EF56", appMeta())
	require.NoError(t, err)
	assert.Equal(t, "5551234", p.Username)
	assert.Equal(t, "premium", p.Subscription)
	assert.Equal(t, []string{"hw-9"}, p.HWIDs)
	assert.True(t, p.SaveHWID)
}

func TestResolve_InactiveLicense(t *testing.T) {
	r, db, _ := newTestResolver(t)
	lic := &model.License{LicenseKey: "LIC-OFF", MobileNumber: "5550000"}
	require.NoError(t, db.Create(lic).Error)
	// The active column defaults to true; flip it explicitly.
	require.NoError(t, db.Model(lic).Update("active", false).Error)

	_, err := r.Resolve(context.Background(), "5550000", "LIC-OFF", appMeta())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolve_PortalAccountMergesLicense(t *testing.T) {
	r, db, _ := newTestResolver(t)
	exp := time.Now().Add(24 * time.Hour)
	require.NoError(t, db.Create(&model.License{
		LicenseKey:     "LIC-PORTAL",
		Subscription:   "gold",
		ExpiresAt:      &exp,
		Active:         true,
		SaveHWID:       true,
		HWIDResetCount: 5,
	}).Error)
	require.NoError(t, db.Create(&model.PortalAuth{
		Username: "carol", PasswordHash: hash(t, "pw"), LicenseKey: "LIC-PORTAL",
	}).Error)

	p, err := r.Resolve(context.Background(), "carol", "pw", appMeta())
	require.NoError(t, err)
	assert.Equal(t, "carol", p.Username)
	assert.Equal(t, "gold", p.Subscription)
	assert.Equal(t, 5, p.HWIDResetCount)
	assert.Equal(t, "LIC-PORTAL", p.LicenseKey)
}

func TestResolve_PortalAccountDanglingLicense(t *testing.T) {
	r, db, _ := newTestResolver(t)
	require.NoError(t, db.Create(&model.PortalAuth{
		Username: "dana", PasswordHash: hash(t, "pw"), LicenseKey: "LIC-GONE",
	}).Error)

	p, err := r.Resolve(context.Background(), "dana", "pw", appMeta())
	require.NoError(t, err)
	assert.Equal(t, "default", p.Subscription)
	assert.Nil(t, p.ExpiresAt)
}

func TestResolve_PortalAccountBannedLicense(t *testing.T) {
	r, db, _ := newTestResolver(t)
	require.NoError(t, db.Create(&model.License{
		LicenseKey: "LIC-BAN", Active: true, Banned: true,
	}).Error)
	require.NoError(t, db.Create(&model.PortalAuth{
		Username: "eve", PasswordHash: hash(t, "pw"), LicenseKey: "LIC-BAN",
	}).Error)

	_, err := r.Resolve(context.Background(), "eve", "pw", appMeta())
	assert.ErrorIs(t, err, ErrBanned)
}

func TestResolve_UnknownIdentifier(t *testing.T) {
	r, _, _ := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "nobody", "nothing", appMeta())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolve_WritesLoginLog(t *testing.T) {
	r, db, auditSvc := newTestResolver(t)
	require.NoError(t, db.Create(&model.Account{
		Username: "frank", PasswordHash: hash(t, "pw"),
	}).Error)

	_, err := r.Resolve(context.Background(), "frank", "pw", appMeta())
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "frank", "bad", appMeta())
	require.Error(t, err)

	auditSvc.Stop(context.Background()) // flush

	var logs []model.LoginLog
	require.NoError(t, db.Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, model.LoginStatusSuccess, logs[0].Status)
	assert.Equal(t, model.LoginStatusFailed, logs[1].Status)
	assert.Equal(t, "frank", logs[0].Username)
}

func TestResolve_UpdatesLastLogin(t *testing.T) {
	r, db, _ := newTestResolver(t)
	require.NoError(t, db.Create(&model.Account{
		Username: "grace", PasswordHash: hash(t, "pw"),
	}).Error)

	_, err := r.Resolve(context.Background(), "grace", "pw", appMeta())
	require.NoError(t, err)

	var acc model.Account
	require.NoError(t, db.Where("username = ?", "grace").First(&acc).Error)
	require.NotNil(t, acc.LastLoginAt)
	assert.Equal(t, "127.0.0.1", acc.LastLoginIP)
}

func TestNewKeyFormat(t *testing.T) {
	k := NewKey()
	assert.Regexp(t, `^LIC-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`, k)
	assert.NotEqual(t, k, NewKey())
}

func TestLookup_PrimaryAccount(t *testing.T) {
	r, db, _ := newTestResolver(t)
	require.NoError(t, db.Create(&model.Account{
		Username: "lookme", PasswordHash: hash(t, "pw"), Subscription: "pro",
	}).Error)

	p, err := r.Lookup(context.Background(), "lookme")
	require.NoError(t, err)
	assert.Equal(t, "pro", p.Subscription)
}

func TestLookup_PortalAccount(t *testing.T) {
	r, db, _ := newTestResolver(t)
	require.NoError(t, db.Create(&model.License{
		LicenseKey: "LIC-LOOK", Subscription: "gold", Active: true,
	}).Error)
	require.NoError(t, db.Create(&model.PortalAuth{
		Username: "portallook", PasswordHash: hash(t, "pw"), LicenseKey: "LIC-LOOK",
	}).Error)

	p, err := r.Lookup(context.Background(), "portallook")
	require.NoError(t, err)
	assert.Equal(t, "gold", p.Subscription)
}

func TestLookup_Unknown(t *testing.T) {
	r, _, _ := newTestResolver(t)
	_, err := r.Lookup(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLookup_BannedAccountReported(t *testing.T) {
	r, db, _ := newTestResolver(t)
	require.NoError(t, db.Create(&model.Account{
		Username: "pariah", PasswordHash: hash(t, "pw"), Banned: true,
	}).Error)

	// Resolve rejects banned identities outright, so a profile with the flag
	// set can only come from a session lookup that outlived the ban.
	p, err := r.Lookup(context.Background(), "pariah")
	require.NoError(t, err)
	assert.True(t, p.Banned)
}
