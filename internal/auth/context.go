// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	deviceIDKey contextKey = "device_id"
	siteIDKey   contextKey = "site_id"
)

// SetDeviceID sets the device ID in the context
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the device ID from the context
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}

// SetSiteID sets the site ID in the context
func SetSiteID(ctx context.Context, siteID string) context.Context {
	return context.WithValue(ctx, siteIDKey, siteID)
}

// GetSiteID retrieves the site ID from the context
func GetSiteID(ctx context.Context) (string, bool) {
	siteID, ok := ctx.Value(siteIDKey).(string)
	return siteID, ok
}

// SetAuthContext sets both site and device ID in context
func SetAuthContext(ctx context.Context, siteID, deviceID string) context.Context {
	ctx = SetSiteID(ctx, siteID)
	ctx = SetDeviceID(ctx, deviceID)
	return ctx
}
