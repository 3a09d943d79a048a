// Package netclient builds the HTTP clients used by discovery strategies and
// fetchers.
//
// Clients connect directly by default. When an egress proxy address is
// configured, every connection is dialed through that SOCKS5 proxy, which
// lets operators route crawling through a fixed egress IP.
//
// Clients inject a User-Agent and optional static headers on every request,
// cap redirects, and keep a cookie jar so that consent cookies set by IR
// sites survive across page fetches of one crawl.
package netclient
