// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestJWTGenerateAndValidate(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, err := auth.GenerateToken("site-1", "device-1", time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "device-1", claims.DeviceID)
	require.Equal(t, "site-1", claims.Subject)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("site-1", "device-1", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-b").ValidateToken(token)
	require.Error(t, err)
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("site-1", "device-1", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.Error(t, err)
}

func TestJWTRejectsForeignIssuer(t *testing.T) {
	// Correct secret and claims, but minted by some other system
	claims := &JWTClaims{
		DeviceID: "device-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "some-other-system",
			Subject:   "site-1",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewJWTAuth("test-secret").ValidateToken(token)
	require.Error(t, err)
}

func TestGetDeviceIDFromRequest(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("site-1", "device-1", time.Hour)
	require.NoError(t, err)

	req, _ := http.NewRequest("POST", "/ingest/batch", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	deviceID, err := auth.GetDeviceID(req)
	require.NoError(t, err)
	require.Equal(t, "device-1", deviceID)

	siteID, err := auth.GetSiteID(req)
	require.NoError(t, err)
	require.Equal(t, "site-1", siteID)
}

func TestGetDeviceIDRequiresBearerHeader(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	req, _ := http.NewRequest("POST", "/ingest/batch", nil)
	if _, err := auth.GetDeviceID(req); err == nil {
		t.Fatal("expected error without Authorization header")
	}

	req.Header.Set("Authorization", "Basic abc")
	if _, err := auth.GetDeviceID(req); err == nil {
		t.Fatal("expected error for non-bearer header")
	}
}
