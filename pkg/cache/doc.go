// Package cache allows clients to resume authenticated ubus sessions across process restarts.
//
// When a client communicates with a device for the first time, it must perform a login
// round-trip to obtain a session token. Using a [SessionCache] allows the client to avoid that
// round-trip on subsequent runs. If the cached token is outdated (e.g., because the device
// rebooted or expired the session server-side), then the first command sent by the client will
// fail with a session error, and the client logs in again transparently. This does not introduce
// more latency than an upfront login. Therefore clients typically benefit by using a cache and
// do not incur a penalty if the cached token is stale.
//
// A cached session token is tied to the credentials that created it and grants the same RPC
// access those credentials do. If a SessionCache is exported using its [SessionCache.Export] or
// [SessionCache.ExportToFile] methods, access controls should be used to prevent third parties
// from reading or tampering with the data.
//
// The same SessionCache may safely be used with different endpoints.
package cache
