// Package httputil holds the JSON response and request helpers shared by
// every HTTP handler. Handlers go through these instead of writing to the
// ResponseWriter directly so all endpoints speak the same envelope.
package httputil
