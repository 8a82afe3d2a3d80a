// Package provider contains HTTP clients for the external services the
// agent depends on: an OAuth2 client-credentials token endpoint and a food
// recognition endpoint. Both are meant to sit behind the token and result
// caches.
package provider
