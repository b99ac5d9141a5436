// Package server hosts the Fiber HTTP service: request middleware chain, the
// GET /:type/:file route that hands requests to the proxy handler, and the
// shared upstream http.Client. Diagnostics endpoints live in server/routes and
// are mounted under the /-/ prefix; keep exports narrow and accept explicit
// dependencies so main can wire everything in one place.
package server
