/*
Package summary maintains cached overviews of a product's datasets at day, month,
year and all-time granularity, plus a global all-product overview.

# Cache-aside

Get reads a stored overview and never computes. GetOrUpdate returns the stored
overview or computes and stores it. Update always recomputes:

	day     summarised from raw records, never stored
	month   summarised from raw records
	year    composed from the 12 months of the year
	all     composed from every year in the product's [earliest, latest] range
	global  composed from the all-time overview of every product

Children are fetched with GetOrUpdate when missing children may be generated, and
with Get otherwise, in which case uncached children are left out of the composition.
Concurrent GetOrUpdate calls for one key share a single computation.

# Pruning

An empty year or month is not stored when it lies outside the known time range of
the product, or when there is no known range. The check is best-effort: a refresh
running in parallel may move the range.

# Product metadata

InitProduct refreshes a product's extents through the raw-record index unless the
last refresh is younger than refreshOlderThan, then upserts the product's count and
time bounds. Product lookups go through a ProductCache which is invalidated after
every write.

# Listeners

OnUpdate callbacks run synchronously after every successful Update, including the
children computed during a rollup. Children may be computed concurrently, so
callbacks must be safe for concurrent use.
*/
package summary
