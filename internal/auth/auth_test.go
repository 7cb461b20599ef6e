package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilities(t *testing.T) {
	admin := Actor{UserID: "u-1", Role: RoleAdmin}
	staff := Actor{UserID: "u-2", Role: RoleStaff}
	customer := Actor{UserID: "u-3", Role: RoleCustomer}

	assert.True(t, admin.Can(CapManageOrders))
	assert.False(t, staff.Can(CapManageOrders))
	assert.True(t, staff.Can(CapAdvanceOrders))
	assert.False(t, customer.Can(CapViewOrders))
	assert.False(t, Actor{Role: "root"}.Can(CapManageOrders))
}

func TestRef(t *testing.T) {
	assert.Nil(t, System.Ref())
	assert.True(t, System.IsSystem())

	ref := Actor{UserID: "u-9"}.Ref()
	require.NotNil(t, ref)
	assert.Equal(t, "u-9", *ref)
}

func TestSignAndParse(t *testing.T) {
	tok, err := Sign(Actor{UserID: "u-1", Email: "a@farm.test", Role: RoleStaff}, "secret", time.Minute)
	require.NoError(t, err)

	a, err := Parse(tok, "secret")
	require.NoError(t, err)
	assert.Equal(t, Actor{UserID: "u-1", Email: "a@farm.test", Role: RoleStaff}, a)

	_, err = Parse(tok, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpired(t *testing.T) {
	tok, err := Sign(Actor{UserID: "u-1", Role: RoleAdmin}, "secret", -time.Minute)
	require.NoError(t, err)

	_, err = Parse(tok, "secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseUnknownRoleFallsBackToCustomer(t *testing.T) {
	tok, err := Sign(Actor{UserID: "u-1", Role: "superuser"}, "secret", time.Minute)
	require.NoError(t, err)

	a, err := Parse(tok, "secret")
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, a.Role)
}
