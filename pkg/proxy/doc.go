/*
Package proxy implements a REST API for reading data from and sending control operations to
OpenWrt routers.

The proxy fronts one coordinator per configured router. Data reads are served from the
coordinator's cache and so stay cheap no matter how many HTTP clients poll them; actions bypass
the cache and are serialized per router. Clients authenticate with HMAC-signed bearer tokens
whose claims scope them to named routers.
*/
package proxy
