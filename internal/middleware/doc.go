// Package middleware provides HTTP middleware for the run API.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Request metrics with run IDs collapsed out of the path label
//   - gzip compression of JSON responses
package middleware
