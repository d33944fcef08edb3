// Package crawler defines the records, job envelopes, interfaces and error
// taxonomy shared by the search engine, its fetch backends and the service
// layer around them.
package crawler
