// Package handlers provides HTTP request handlers for the motion extractor
// API.
//
// It includes handlers for:
//   - Inspecting an uploaded video
//   - Starting, polling, cancelling and downloading extraction runs
//   - Run history
//   - Health checks and build information
package handlers
