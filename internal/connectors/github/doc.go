// Package github implements the harvest transport against the GitHub
// REST API using google/go-github.
//
// The package is a driven adapter: it implements driven.Fetcher, turning
// one FetchSpec into one API call carried by the caller-chosen
// credential token. Responses are normalized into domain.Record rows;
// failures are mapped to the typed transport errors the executor
// classifies on (driven.RateLimitError, driven.APIError).
//
// One go-github client is built lazily per token and cached, so a pool
// of rotating credentials pays the client construction cost once each.
package github
