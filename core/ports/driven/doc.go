// Package driven defines the contracts the sync core depends on: the token
// store that persists delta links between runs and the page fetcher that
// talks to the remote system. Implementations live under storage/ and
// connectors/.
package driven
