// Package listingsearch embeds the listing search engine in a Go program.
//
// The client talks to the search index (Redis with the search module) and to
// the canonical Postgres store directly, without the HTTP server. Searches
// degrade to Postgres when the index is unavailable, exactly as the service
// does.
//
//	client, err := listingsearch.New(ctx,
//	    listingsearch.WithRedis("localhost:6379", ""),
//	    listingsearch.WithPostgres("postgres://localhost/listings?sslmode=disable"),
//	)
//	defer client.Close()
//
//	page, err := client.Search(ctx, listingsearch.Query{
//	    Text:    "gold",
//	    Regions: []string{"Atyrau"},
//	    Sort:    listingsearch.SortPrice,
//	})
//
// Keeping the index in sync with Postgres is the job of the listingsearch
// service; the client only offers on-demand reindexing and drift checks.
package listingsearch
