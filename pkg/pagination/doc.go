// Package pagination enumerates every firm from the registry's offset-based
// listing endpoint.
//
// The listing endpoint answers GET /api/firms/?limit=N&offset=M with
// {"firms": [...], "total": T}. The total is optional. Pagination is strictly
// sequential: each page is requested after the previous one returned, the
// offset advances by the number of rows actually received, and the loop ends
// on an empty page, once the reported total is reached, or once the caller's
// limit is satisfied.
//
// Example usage:
//
//	p := pagination.NewPaginator(registryClient, pagination.DefaultConfig(baseURL))
//	firms, err := p.ListAll(ctx)
//
// Every page request goes through the retrying client, so transient failures
// are retried; a page that still fails aborts the whole listing.
package pagination
