// Package engine builds an account's temporal activity profile.
//
// fetch.go walks the account's timeline backward through at most
// page_count pages of page_size posts, using the smallest post id of each
// page as the inclusive cursor for the next. Posts are deduplicated by id
// across the whole walk, so the boundary post repeated by the inclusive
// cursor is counted once. An empty page, or a page that adds no new posts,
// ends the walk. A page that still fails after bounded retries is recorded
// as a failed PageResult and ends the walk; only ErrAccountNotFound on the
// first page is returned to the caller.
//
// engine.go runs the fetch and feeds the timestamps through the histogram
// and summary packages to produce a DistributionResult.
//
// The PageFetcher, clock and sleep function are injectable so tests run
// without a network or real delays.
package engine
