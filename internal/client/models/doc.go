// Package models defines the client-side data models of the FoodAI agent:
// locally stored records and the mutations queued for the remote store.
package models
