// Package middleware adapts linkAuth.Engine to gin.
//
// [RequireAuth] reads the bearer token (or the access cookie), calls
// Engine.ValidateAccess and stores the identity for later handlers.
// [RequirePermission], [RequireFeature] and [APIQuota] layer role,
// plan and quota checks on top of it. [ClientContext] must run first so the
// engine sees the caller's IP and User-Agent.
//
// This package makes no authentication decisions of its own. Every
// rejection goes through [WriteError], which maps engine errors to status
// codes and public messages.
package middleware
