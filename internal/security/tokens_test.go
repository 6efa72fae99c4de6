package security

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorTokens_IssueAndValidate(t *testing.T) {
	clk := quartz.NewMock(t)
	p := NewOperatorTokens("s3cret", "club-activity", time.Hour, clk)

	token, exp, err := p.Issue("operator", RoleOperator)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, clk.Now().Add(time.Hour).UTC(), exp)

	claims, err := p.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestOperatorTokens_Expired(t *testing.T) {
	clk := quartz.NewMock(t)
	p := NewOperatorTokens("s3cret", "club-activity", time.Minute, clk)
	token, _, err := p.Issue("operator", RoleViewer)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute).MustWait(context.Background())
	_, err = p.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOperatorTokens_Rejects(t *testing.T) {
	clk := quartz.NewMock(t)
	p := NewOperatorTokens("s3cret", "club-activity", time.Hour, clk)

	other := NewOperatorTokens("other", "club-activity", time.Hour, clk)
	foreign, _, err := other.Issue("operator", RoleOperator)
	require.NoError(t, err)

	wrongIssuer, _, err := NewOperatorTokens("s3cret", "elsewhere", time.Hour, clk).Issue("operator", RoleOperator)
	require.NoError(t, err)

	unknownRole, _, err := p.Issue("operator", "root")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, OperatorClaims{Role: RoleOperator}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":      "not-a-token",
		"other secret": foreign,
		"issuer":       wrongIssuer,
		"role":         unknownRole,
		"alg none":     none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := p.Validate(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestOperatorTokens_NoSecret(t *testing.T) {
	p := NewOperatorTokens("", "club-activity", time.Hour, nil)
	_, _, err := p.Issue("operator", RoleOperator)
	assert.ErrorIs(t, err, ErrNoSecret)
	_, err = p.Validate("x")
	assert.ErrorIs(t, err, ErrNoSecret)
}
